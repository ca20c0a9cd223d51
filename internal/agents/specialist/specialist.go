// Package specialist implements the second agent tier. A specialist pulls
// scoped data for the task's required sources, asks the model for an
// analysis and scores its own confidence in the result. The standard and
// senior tiers share this implementation and differ only in configuration.
package specialist

import (
	"context"
	"fmt"
	"strings"

	"vendora/internal/common/config"
	"vendora/internal/common/logger"
	"vendora/internal/flow"
	"vendora/internal/llm"
	"vendora/internal/query"
	"vendora/internal/store"
)

// Model is the slice of the generative client the specialist needs.
type Model interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
}

// Runner executes scoped read-only queries.
type Runner interface {
	Execute(ctx context.Context, q query.Query) (*query.Result, error)
}

// Archive lists previously delivered insights for context.
type Archive interface {
	ListRecent(ctx context.Context, dealershipID string, limit int) ([]store.InsightDocument, error)
}

// Memory reads per-dealership preferences.
type Memory interface {
	GetPreferences(ctx context.Context, dealershipID string) (store.Preferences, error)
}

const (
	// Rows shown to the model per source. The full result still counts
	// toward the confidence score.
	sampleRowsPerSource = 10

	contextInsightLimit = 3
	defaultDaysBack     = 90
)

// Specialist is one analyst tier.
type Specialist struct {
	name    string
	cfg     config.SpecialistConfig
	model   Model
	builder *query.Builder
	runner  Runner
	archive Archive
	memory  Memory
	logger  logger.Logger
}

func New(
	name string,
	cfg config.SpecialistConfig,
	model Model,
	builder *query.Builder,
	runner Runner,
	archive Archive,
	memory Memory,
	log logger.Logger,
) *Specialist {
	return &Specialist{
		name:    name,
		cfg:     cfg,
		model:   model,
		builder: builder,
		runner:  runner,
		archive: archive,
		memory:  memory,
		logger:  log,
	}
}

func (s *Specialist) Name() string { return s.name }

// draftReply is the JSON shape requested from the model.
type draftReply struct {
	Summary         string                 `json:"summary"`
	KeyFindings     []string               `json:"key_findings"`
	Recommendations []string               `json:"recommendations"`
	KeyMetrics      map[string]interface{} `json:"key_metrics"`
	Methodology     string                 `json:"methodology"`
}

// GenerateDraft gathers data for the task's required sources and produces
// an analyzed draft. Model failure falls back to a degraded data-only
// draft rather than failing the task.
func (s *Specialist) GenerateDraft(ctx context.Context, task *flow.AnalyticalTask) (*flow.DraftInsight, error) {
	gathered := s.gatherData(ctx, task)

	reply, err := s.analyze(ctx, task, gathered, nil, nil)
	if err != nil {
		s.logger.Warn("Model analysis failed, producing degraded draft", map[string]interface{}{
			"taskId": task.ID,
			"agent":  s.name,
			"error":  err.Error(),
		})
		return s.degradedDraft(task, gathered), nil
	}

	draft := s.buildDraft(task, gathered, reply)
	draft.ConfidenceScore = s.scoreConfidence(gathered, reply)

	s.logger.Info("Draft generated", map[string]interface{}{
		"taskId":     task.ID,
		"agent":      s.name,
		"sources":    draft.DataSourcesUsed,
		"rows":       draft.RowsExamined,
		"confidence": draft.ConfidenceScore,
	})
	return draft, nil
}

// ReviseDraft re-runs the analysis with validator feedback. A failed
// revision keeps the prior content but marks the confidence down so the
// quality gate sees the draft did not improve.
func (s *Specialist) ReviseDraft(ctx context.Context, task *flow.AnalyticalTask, prior *flow.DraftInsight, feedback []string) (*flow.DraftInsight, error) {
	gathered := s.gatherData(ctx, task)

	reply, err := s.analyze(ctx, task, gathered, prior, feedback)
	if err != nil {
		s.logger.Warn("Revision failed, keeping prior draft with penalty", map[string]interface{}{
			"taskId": task.ID,
			"agent":  s.name,
			"error":  err.Error(),
		})
		penalized := *prior
		penalized.Revision = prior.Revision + 1
		penalized.ConfidenceScore = s.clamp(prior.ConfidenceScore * s.cfg.FailedRevisionPenalty)
		return &penalized, nil
	}

	draft := s.buildDraft(task, gathered, reply)
	draft.Revision = prior.Revision + 1
	boosted := prior.ConfidenceScore * s.cfg.RevisionBoost
	if boosted > s.cfg.RevisionBoostCap {
		boosted = s.cfg.RevisionBoostCap
	}
	draft.ConfidenceScore = s.clamp(boosted)

	s.logger.Info("Draft revised", map[string]interface{}{
		"taskId":     task.ID,
		"agent":      s.name,
		"revision":   draft.Revision,
		"confidence": draft.ConfidenceScore,
	})
	return draft, nil
}

// ==========================
// Data gathering
// ==========================

type sourceData struct {
	source string
	sql    string
	result *query.Result
	err    error
}

type gatheredData struct {
	sources   []sourceData
	succeeded int
	totalRows int
}

// successful returns the source names that answered and the statements
// that backed them, index-aligned.
func (g gatheredData) successful() (sources, queries []string) {
	for _, sd := range g.sources {
		if sd.err == nil {
			sources = append(sources, sd.source)
			queries = append(queries, sd.sql)
		}
	}
	return sources, queries
}

func (s *Specialist) gatherData(ctx context.Context, task *flow.AnalyticalTask) gatheredData {
	sources := task.RequiredData
	if max := s.cfg.MaxDataSources; max > 0 && len(sources) > max {
		s.logger.Warn("Trimming required data sources", map[string]interface{}{
			"taskId":    task.ID,
			"requested": len(sources),
			"max":       max,
		})
		sources = sources[:max]
	}

	var gathered gatheredData
	for _, src := range sources {
		sd := sourceData{source: src}

		q, err := s.builder.Build(src, task.DealershipID, query.BuildOptions{DaysBack: defaultDaysBack})
		if err == nil {
			sd.sql = q.SQL
			sd.result, err = s.runner.Execute(ctx, q)
		}
		if err != nil {
			sd.err = err
			s.logger.Warn("Data source query failed", map[string]interface{}{
				"taskId": task.ID,
				"source": src,
				"error":  err.Error(),
			})
		} else {
			gathered.succeeded++
			gathered.totalRows += sd.result.RowCount
		}
		gathered.sources = append(gathered.sources, sd)
	}
	return gathered
}

// ==========================
// Model interaction
// ==========================

const analystSystemPrompt = `You are a %s for an automotive dealership group.
Analyze the provided data and answer the user's question. Reply with JSON
only, no prose:
{"summary": "...", "key_findings": ["..."], "recommendations": ["..."],
 "key_metrics": {"name": value}, "methodology": "..."}

Ground every number in the provided rows. State clearly when the data is
insufficient to answer.`

func (s *Specialist) analyze(ctx context.Context, task *flow.AnalyticalTask, gathered gatheredData, prior *flow.DraftInsight, feedback []string) (*draftReply, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "Question: %s\n", task.UserQuery)
	fmt.Fprintf(&b, "Analysis depth: %s\n\n", task.Complexity)

	if prefs := s.loadPreferences(ctx, task.DealershipID); prefs.DetailLevel != "" {
		fmt.Fprintf(&b, "Preferred detail level: %s\n\n", prefs.DetailLevel)
	}
	if history := s.loadHistory(ctx, task.DealershipID); len(history) > 0 {
		b.WriteString("Recent insights for this dealership:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		b.WriteString("\n")
	}

	for _, sd := range gathered.sources {
		if sd.err != nil {
			fmt.Fprintf(&b, "Source %s: unavailable\n\n", sd.source)
			continue
		}
		fmt.Fprintf(&b, "Source %s (%d rows", sd.source, sd.result.RowCount)
		if sd.result.RowCount > sampleRowsPerSource {
			fmt.Fprintf(&b, ", first %d shown", sampleRowsPerSource)
		}
		b.WriteString("):\n")
		b.WriteString(formatRows(sd.result, sampleRowsPerSource))
		b.WriteString("\n")
	}

	if prior != nil {
		fmt.Fprintf(&b, "Your previous answer was sent back for revision.\nPrevious summary: %s\n", prior.Summary)
		if len(feedback) > 0 {
			b.WriteString("Reviewer feedback to address:\n")
			for _, f := range feedback {
				fmt.Fprintf(&b, "- %s\n", f)
			}
		}
	}

	raw, err := s.model.Generate(ctx, llm.Request{
		System:      fmt.Sprintf(analystSystemPrompt, strings.ReplaceAll(s.name, "_", " ")),
		Prompt:      b.String(),
		Temperature: 0.3,
		MaxTokens:   2048,
	})
	if err != nil {
		return nil, err
	}

	var reply draftReply
	if err := llm.DecodeStructured(raw, &reply); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reply.Summary) == "" {
		return nil, fmt.Errorf("model reply missing summary")
	}
	return &reply, nil
}

func (s *Specialist) loadPreferences(ctx context.Context, dealershipID string) store.Preferences {
	if s.memory == nil {
		return store.Preferences{}
	}
	prefs, err := s.memory.GetPreferences(ctx, dealershipID)
	if err != nil {
		s.logger.Debug("Preference lookup failed", map[string]interface{}{
			"dealershipId": dealershipID,
			"error":        err.Error(),
		})
		return store.Preferences{}
	}
	return prefs
}

func (s *Specialist) loadHistory(ctx context.Context, dealershipID string) []string {
	if s.archive == nil {
		return nil
	}
	docs, err := s.archive.ListRecent(ctx, dealershipID, contextInsightLimit)
	if err != nil {
		s.logger.Debug("Insight history lookup failed", map[string]interface{}{
			"dealershipId": dealershipID,
			"error":        err.Error(),
		})
		return nil
	}
	summaries := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Summary != "" {
			summaries = append(summaries, d.Summary)
		}
	}
	return summaries
}

func formatRows(result *query.Result, limit int) string {
	var b strings.Builder
	b.WriteString(strings.Join(result.Columns, " | "))
	b.WriteString("\n")
	for i, row := range result.Rows {
		if i >= limit {
			break
		}
		vals := make([]string, len(result.Columns))
		for j, col := range result.Columns {
			vals[j] = fmt.Sprintf("%v", row[col])
		}
		b.WriteString(strings.Join(vals, " | "))
		b.WriteString("\n")
	}
	return b.String()
}

// ==========================
// Draft assembly and scoring
// ==========================

func (s *Specialist) buildDraft(task *flow.AnalyticalTask, gathered gatheredData, reply *draftReply) *flow.DraftInsight {
	used, queries := gathered.successful()

	return &flow.DraftInsight{
		TaskID:          task.ID,
		Summary:         reply.Summary,
		DetailedInsight: strings.Join(reply.KeyFindings, "\n"),
		Recommendations: reply.Recommendations,
		KeyMetrics:      reply.KeyMetrics,
		DataSourcesUsed: used,
		SQLQueries:      queries,
		RowsExamined:    gathered.totalRows,
		Methodology:     reply.Methodology,
		GeneratedBy:     s.name,
	}
}

// degradedDraft reports the raw data situation without analysis. The low
// confidence score routes it straight into the validator's revision band.
func (s *Specialist) degradedDraft(task *flow.AnalyticalTask, gathered gatheredData) *flow.DraftInsight {
	var parts []string
	for _, sd := range gathered.sources {
		if sd.err != nil {
			parts = append(parts, fmt.Sprintf("%s: unavailable", sd.source))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %d rows retrieved", sd.source, sd.result.RowCount))
	}
	used, queries := gathered.successful()

	return &flow.DraftInsight{
		TaskID:          task.ID,
		Summary:         fmt.Sprintf("Analysis unavailable. Data retrieved for %q: %s.", task.UserQuery, strings.Join(parts, "; ")),
		DataSourcesUsed: used,
		SQLQueries:      queries,
		RowsExamined:    gathered.totalRows,
		Methodology:     "raw data retrieval only",
		ConfidenceScore: s.cfg.DegradedConfidence,
		GeneratedBy:     s.name,
		Degraded:        true,
	}
}

var (
	statisticalMarkers = []string{"regression", "correlation", "standard deviation", "confidence interval", "p-value", "seasonal"}
	predictiveMarkers  = []string{"forecast", "projection", "projected", "predicted", "outlook"}
)

// scoreConfidence starts from the tier's base score and rewards data
// coverage and substance, clamped to the tier's bounds. An analysis that
// saw no rows at all is penalized. Tiers with an AnalysisDepthBonus are
// further rewarded for statistical and predictive content.
func (s *Specialist) scoreConfidence(gathered gatheredData, reply *draftReply) float64 {
	score := s.cfg.BaseConfidence

	if n := len(gathered.sources); n > 0 {
		score += 0.15 * float64(gathered.succeeded) / float64(n)
	}

	switch {
	case gathered.totalRows >= 50:
		score += 0.10
	case gathered.totalRows >= 10:
		score += 0.05
	case gathered.totalRows == 0:
		score -= 0.20
	}

	if len(reply.KeyFindings) >= 2 {
		score += 0.05
	}
	if len(reply.Recommendations) >= 1 {
		score += 0.05
	}
	if len(reply.KeyMetrics) >= 1 {
		score += 0.05
	}

	if bonus := s.cfg.AnalysisDepthBonus; bonus > 0 {
		text := strings.ToLower(reply.Methodology + " " + strings.Join(reply.KeyFindings, " "))
		if containsAny(text, statisticalMarkers) {
			score += bonus
		}
		if containsAny(text, predictiveMarkers) {
			score += bonus
		}
	}

	return s.clamp(score)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func (s *Specialist) clamp(score float64) float64 {
	if score < s.cfg.MinConfidence {
		return s.cfg.MinConfidence
	}
	if score > s.cfg.MaxConfidence {
		return s.cfg.MaxConfidence
	}
	return score
}
