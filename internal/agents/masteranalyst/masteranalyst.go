// Package masteranalyst implements the third agent tier: a weighted
// quality gate every draft must clear before delivery, plus an optional
// enhancement pass over approved insights.
package masteranalyst

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"vendora/internal/common/config"
	"vendora/internal/common/logger"
	"vendora/internal/common/validation"
	"vendora/internal/flow"
	"vendora/internal/llm"
	"vendora/internal/query"
)

// Model is the slice of the generative client the analyst needs.
type Model interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
}

// Runner re-executes a draft's backing queries for live spot-checks. A nil
// runner disables spot-checking.
type Runner interface {
	Execute(ctx context.Context, q query.Query) (*query.Result, error)
}

// Category names used in weights, scores and feedback.
const (
	CategoryDataAccuracy  = "data_accuracy"
	CategoryMethodology   = "methodology"
	CategoryBusinessLogic = "business_logic"
	CategoryCompliance    = "compliance"
)

// AuditEntry records one validation decision.
type AuditEntry struct {
	TaskID       string       `json:"task_id"`
	DealershipID string       `json:"dealership_id"`
	AgentID      string       `json:"agent_id"`
	Verdict      flow.Verdict `json:"verdict"`
	OverallScore float64      `json:"overall_score"`
	PIIDetected  bool         `json:"pii_detected"`
	DurationMs   int64        `json:"duration_ms"`
	Timestamp    time.Time    `json:"timestamp"`
}

// MasterAnalyst validates drafts against four weighted categories and
// keeps an in-memory audit trail of every decision.
type MasterAnalyst struct {
	cfg    config.ValidationConfig
	model  Model
	runner Runner
	logger logger.Logger

	mu    sync.Mutex
	audit []AuditEntry
}

func New(cfg config.ValidationConfig, model Model, runner Runner, log logger.Logger) *MasterAnalyst {
	return &MasterAnalyst{
		cfg:    cfg,
		model:  model,
		runner: runner,
		logger: log,
	}
}

// ==========================
// Validation
// ==========================

// Validate scores a draft across the weighted categories and decides the
// verdict. Detected PII rejects unconditionally regardless of the other
// scores.
func (m *MasterAnalyst) Validate(ctx context.Context, task *flow.AnalyticalTask, draft *flow.DraftInsight) (*flow.ValidationResult, error) {
	start := time.Now()
	var feedback []string

	piiKind := m.checkPII(draft)

	scores := map[string]float64{
		CategoryDataAccuracy:  m.scoreDataAccuracy(ctx, task, draft, &feedback),
		CategoryMethodology:   m.scoreMethodology(task, draft, &feedback),
		CategoryBusinessLogic: m.scoreBusinessLogic(draft, &feedback),
		CategoryCompliance:    m.scoreCompliance(draft, piiKind, &feedback),
	}

	overall := m.weightedOverall(scores)

	verdict := m.verdictFor(overall)
	if piiKind != "" {
		verdict = flow.VerdictRejected
		feedback = append(feedback, fmt.Sprintf("draft contains %s data and can never be delivered", piiKind))
	}

	m.recordAudit(task, draft, verdict, overall, piiKind != "", time.Since(start))

	m.logger.Info("Draft validated", map[string]interface{}{
		"taskId":  task.ID,
		"verdict": string(verdict),
		"overall": overall,
		"scores":  scores,
	})

	return &flow.ValidationResult{
		TaskID:         task.ID,
		Verdict:        verdict,
		OverallScore:   overall,
		CategoryScores: scores,
		Feedback:       feedback,
	}, nil
}

// weightedOverall folds the category scores into the overall quality
// score. Weights are non-negative, so the overall score never decreases
// when a category score improves.
func (m *MasterAnalyst) weightedOverall(scores map[string]float64) float64 {
	overall := 0.0
	for category, weight := range m.cfg.CategoryWeights {
		overall += weight * scores[category]
	}
	return overall
}

func (m *MasterAnalyst) verdictFor(overall float64) flow.Verdict {
	switch {
	case overall >= m.cfg.ApprovalThreshold:
		return flow.VerdictApproved
	case overall >= m.cfg.ApprovalThreshold-m.cfg.RevisionBand:
		return flow.VerdictNeedsRevision
	default:
		return flow.VerdictRejected
	}
}

// draftText flattens every user-facing field of the draft, including
// metric names, metric values and the methodology note, so compliance
// scans see the whole deliverable.
func draftText(draft *flow.DraftInsight) string {
	var b strings.Builder
	b.WriteString(draft.Summary)
	b.WriteString("\n")
	b.WriteString(draft.DetailedInsight)
	b.WriteString("\n")
	b.WriteString(draft.Methodology)
	for _, rec := range draft.Recommendations {
		b.WriteString("\n")
		b.WriteString(rec)
	}
	for name, value := range draft.KeyMetrics {
		fmt.Fprintf(&b, "\n%s: %v", name, value)
	}
	return b.String()
}

// checkPII scans every user-facing field of the draft.
func (m *MasterAnalyst) checkPII(draft *flow.DraftInsight) string {
	return validation.DetectPII(draftText(draft))
}

type reviewReply struct {
	Plausible float64  `json:"plausible"`
	Issues    []string `json:"issues"`
}

const reviewSystemPrompt = `You are a senior reviewer for dealership analytics.
Judge whether the draft's claims are plausible given its own stated data
coverage. Reply with JSON only:
{"plausible": 0.0-1.0, "issues": ["..."]}`

// scoreDataAccuracy combines structural checks with a model-assisted
// plausibility review. When the review model is unavailable its
// contribution falls back to a configured neutral score. A backing query
// that fails safety validation zeroes the category outright.
func (m *MasterAnalyst) scoreDataAccuracy(ctx context.Context, task *flow.AnalyticalTask, draft *flow.DraftInsight, feedback *[]string) float64 {
	if !m.verifyQueries(draft, feedback) {
		return 0
	}

	score := 1.0
	if draft.Degraded {
		score -= 0.5
		*feedback = append(*feedback, "draft was produced without model analysis")
	}
	if len(draft.DataSourcesUsed) == 0 {
		score -= 0.4
		*feedback = append(*feedback, "no data source backs the draft")
	}
	if draft.RowsExamined == 0 {
		score -= 0.3
		*feedback = append(*feedback, "draft cites no examined rows")
	}
	if !m.spotCheckQuery(ctx, task, draft, feedback) {
		score -= 0.3
	}

	review := m.reviewPlausibility(ctx, task, draft)
	if len(review.Issues) > 0 {
		*feedback = append(*feedback, review.Issues...)
	}
	score = (score + review.Plausible) / 2

	return clamp01(score)
}

// verifyQueries re-runs the SQL safety gate over the draft's backing
// statements: read-only, single statement, scoped to a dealership.
func (m *MasterAnalyst) verifyQueries(draft *flow.DraftInsight, feedback *[]string) bool {
	ok := true
	for _, stmt := range draft.SQLQueries {
		if _, err := query.ValidateSQL(stmt); err != nil {
			ok = false
			*feedback = append(*feedback, fmt.Sprintf("backing query failed safety validation: %s", err.Error()))
		}
	}
	return ok
}

// spotCheckQuery re-executes one backing query for complex and critical
// tasks, bound to the task's own dealership. It reports true when the
// check passed or was not applicable.
func (m *MasterAnalyst) spotCheckQuery(ctx context.Context, task *flow.AnalyticalTask, draft *flow.DraftInsight, feedback *[]string) bool {
	needsRigor := task.Complexity == flow.ComplexityComplex || task.Complexity == flow.ComplexityCritical
	if !needsRigor || m.runner == nil || len(draft.SQLQueries) == 0 {
		return true
	}

	source := ""
	if len(draft.DataSourcesUsed) > 0 {
		source = draft.DataSourcesUsed[0]
	}
	_, err := m.runner.Execute(ctx, query.Query{
		Source: source,
		SQL:    draft.SQLQueries[0],
		Args:   []interface{}{task.DealershipID},
	})
	if err != nil {
		*feedback = append(*feedback, fmt.Sprintf("backing query could not be re-executed for %s: %s", task.DealershipID, err.Error()))
		m.logger.Warn("Spot-check query failed", map[string]interface{}{
			"taskId": task.ID,
			"source": source,
			"error":  err.Error(),
		})
		return false
	}
	return true
}

func (m *MasterAnalyst) reviewPlausibility(ctx context.Context, task *flow.AnalyticalTask, draft *flow.DraftInsight) reviewReply {
	neutral := reviewReply{Plausible: m.cfg.ReviewModelFallback}
	if draft.Degraded {
		return neutral
	}

	prompt := fmt.Sprintf(
		"Question: %s\nSummary: %s\nFindings:\n%s\nData: %d rows from %s\n",
		task.UserQuery, draft.Summary, draft.DetailedInsight,
		draft.RowsExamined, strings.Join(draft.DataSourcesUsed, ", "))

	raw, err := m.model.Generate(ctx, llm.Request{
		System:      reviewSystemPrompt,
		Prompt:      prompt,
		Temperature: 0.0,
		MaxTokens:   512,
	})
	if err != nil {
		m.logger.Warn("Plausibility review unavailable, using neutral score", map[string]interface{}{
			"taskId": task.ID,
			"error":  err.Error(),
		})
		return neutral
	}

	var reply reviewReply
	if err := llm.DecodeStructured(raw, &reply); err != nil {
		return neutral
	}
	reply.Plausible = clamp01(reply.Plausible)
	return reply
}

var forwardLookingWords = []string{"forecast", "predict", "projected", "projection", "expected to", "will grow", "will decline", "outlook"}

// scoreMethodology checks that the draft explains itself and that its
// confidence and sample size support the depth of its claims. Confidence
// below the floor fails the whole category: a specialist that does not
// trust its own work cannot be averaged back into a passing grade.
func (m *MasterAnalyst) scoreMethodology(task *flow.AnalyticalTask, draft *flow.DraftInsight, feedback *[]string) float64 {
	if draft.ConfidenceScore < m.cfg.MethodologyMinConf {
		*feedback = append(*feedback, fmt.Sprintf(
			"specialist confidence %.2f is below the %.2f methodology floor",
			draft.ConfidenceScore, m.cfg.MethodologyMinConf))
		return 0
	}

	score := 1.0

	if strings.TrimSpace(draft.Methodology) == "" {
		score -= 0.4
		*feedback = append(*feedback, "methodology is not explained")
	}

	// Forward-looking claims must state what they assume.
	content := strings.ToLower(draftText(draft))
	if containsAny(content, forwardLookingWords) && !strings.Contains(content, "assum") {
		score -= 0.3
		*feedback = append(*feedback, "forward-looking claims do not state their assumptions")
	}

	// Deep analyses on thin samples are worse than no analysis.
	needsRigor := task.Complexity == flow.ComplexityComplex || task.Complexity == flow.ComplexityCritical
	if needsRigor && draft.RowsExamined > 0 && draft.RowsExamined <= m.cfg.StatisticalMinRows {
		score -= 0.3
		*feedback = append(*feedback, fmt.Sprintf(
			"%d rows is too small a sample for %s analysis", draft.RowsExamined, task.Complexity))
	}

	return clamp01(score)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func (m *MasterAnalyst) scoreBusinessLogic(draft *flow.DraftInsight, feedback *[]string) float64 {
	score := 1.0

	if len(strings.TrimSpace(draft.Summary)) < 20 {
		score -= 0.4
		*feedback = append(*feedback, "summary does not state a usable conclusion")
	}
	if len(draft.Recommendations) == 0 {
		score -= 0.2
		*feedback = append(*feedback, "no actionable recommendation")
	}
	if len(draft.KeyMetrics) == 0 {
		score -= 0.2
		*feedback = append(*feedback, "no supporting metrics")
	}

	return clamp01(score)
}

// scoreCompliance enforces the PII zero-tolerance rule and the wording
// denylist.
func (m *MasterAnalyst) scoreCompliance(draft *flow.DraftInsight, piiKind string, feedback *[]string) float64 {
	if piiKind != "" {
		return 0
	}

	score := 1.0
	content := strings.ToLower(draftText(draft))
	for _, banned := range m.cfg.Denylist {
		if strings.Contains(content, strings.ToLower(banned)) {
			score -= 0.5
			*feedback = append(*feedback, fmt.Sprintf("draft uses prohibited wording %q", banned))
		}
	}

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ==========================
// Enhancement
// ==========================

type enhanceReply struct {
	Summary         string `json:"summary"`
	DetailedInsight string `json:"detailed_insight"`
}

const enhanceSystemPrompt = `You are the chief analyst of a dealership group.
Rewrite the approved insight for an executive audience: sharper summary,
clearer narrative, same facts and numbers. Never invent new figures.
Reply with JSON only: {"summary": "...", "detailed_insight": "..."}`

// Enhance rewrites an approved insight for presentation. Failures are
// returned to the caller, which delivers the unenhanced draft.
func (m *MasterAnalyst) Enhance(ctx context.Context, task *flow.AnalyticalTask, insight *flow.ValidatedInsight) (*flow.ValidatedInsight, error) {
	if !m.cfg.EnhancementEnabled {
		return insight, nil
	}

	prompt := fmt.Sprintf("Question: %s\nSummary: %s\nDetails:\n%s\n",
		task.UserQuery, insight.Draft.Summary, insight.Draft.DetailedInsight)

	raw, err := m.model.Generate(ctx, llm.Request{
		System:      enhanceSystemPrompt,
		Prompt:      prompt,
		Temperature: 0.4,
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, err
	}

	var reply enhanceReply
	if err := llm.DecodeStructured(raw, &reply); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reply.Summary) == "" {
		return nil, fmt.Errorf("enhancement produced an empty summary")
	}

	// The rewrite must not smuggle PII past the gate it already cleared.
	if kind := validation.DetectPII(reply.Summary + " " + reply.DetailedInsight); kind != "" {
		return nil, fmt.Errorf("enhancement introduced %s data", kind)
	}

	out := *insight
	out.Draft.Summary = reply.Summary
	if reply.DetailedInsight != "" {
		out.Draft.DetailedInsight = reply.DetailedInsight
	}
	out.Enhanced = true
	return &out, nil
}

// ==========================
// Audit trail
// ==========================

func (m *MasterAnalyst) recordAudit(task *flow.AnalyticalTask, draft *flow.DraftInsight, verdict flow.Verdict, overall float64, pii bool, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, AuditEntry{
		TaskID:       task.ID,
		DealershipID: task.DealershipID,
		AgentID:      draft.GeneratedBy,
		Verdict:      verdict,
		OverallScore: overall,
		PIIDetected:  pii,
		DurationMs:   elapsed.Milliseconds(),
		Timestamp:    time.Now().UTC(),
	})
}

// AuditEntries returns a copy of the audit trail.
func (m *MasterAnalyst) AuditEntries() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

// LogAuditSummary writes the aggregate validation record, called once
// during shutdown.
func (m *MasterAnalyst) LogAuditSummary() {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := map[flow.Verdict]int{}
	total := 0.0
	piiHits := 0
	for _, e := range m.audit {
		counts[e.Verdict]++
		total += e.OverallScore
		if e.PIIDetected {
			piiHits++
		}
	}

	avg := 0.0
	if len(m.audit) > 0 {
		avg = total / float64(len(m.audit))
	}

	m.logger.Info("Validation audit summary", map[string]interface{}{
		"validated":     len(m.audit),
		"approved":      counts[flow.VerdictApproved],
		"needsRevision": counts[flow.VerdictNeedsRevision],
		"rejected":      counts[flow.VerdictRejected],
		"piiDetections": piiHits,
		"avgScore":      avg,
	})
}
