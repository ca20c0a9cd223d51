package masteranalyst

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vendora/internal/common/config"
	"vendora/internal/common/logger"
	"vendora/internal/flow"
	"vendora/internal/llm"
	"vendora/internal/query"
)

type fakeModel struct {
	reply string
	err   error
	calls int
}

func (f *fakeModel) Generate(ctx context.Context, req llm.Request) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeRunner struct {
	err      error
	executed []query.Query
}

func (f *fakeRunner) Execute(ctx context.Context, q query.Query) (*query.Result, error) {
	f.executed = append(f.executed, q)
	if f.err != nil {
		return nil, f.err
	}
	return &query.Result{Source: q.Source, RowCount: 60}, nil
}

func gateConfig() config.ValidationConfig {
	return config.ValidationConfig{
		ApprovalThreshold: 0.85,
		RevisionBand:      0.15,
		CategoryWeights: map[string]float64{
			CategoryDataAccuracy:  0.35,
			CategoryMethodology:   0.25,
			CategoryBusinessLogic: 0.25,
			CategoryCompliance:    0.15,
		},
		MethodologyMinConf:  0.7,
		Denylist:            []string{"guaranteed", "risk-free"},
		StatisticalMinRows:  30,
		EnhancementEnabled:  true,
		ReviewModelFallback: 0.7,
	}
}

const plausibleReply = `{"plausible": 1.0, "issues": []}`

func newAnalyst(t *testing.T, model Model) *MasterAnalyst {
	t.Helper()
	return New(gateConfig(), model, nil, logger.NewTestLogger(t))
}

const scopedSalesQuery = "SELECT sale_price, gross_profit FROM sales WHERE dealership_id = $1 LIMIT 1000"

func solidDraft() *flow.DraftInsight {
	return &flow.DraftInsight{
		TaskID:          "TASK-12345678",
		Summary:         "Sales volume grew 12% month over month across all makes.",
		DetailedInsight: "Growth is concentrated in mid-range trims.",
		Recommendations: []string{"Restock the fastest-selling trims"},
		KeyMetrics:      map[string]interface{}{"growth_pct": 12.0},
		DataSourcesUsed: []string{"sales"},
		SQLQueries:      []string{scopedSalesQuery},
		RowsExamined:    60,
		Methodology:     "month-over-month comparison of completed sales",
		ConfidenceScore: 0.8,
		GeneratedBy:     flow.AgentDataAnalyst,
	}
}

func standardTask() *flow.AnalyticalTask {
	return &flow.AnalyticalTask{
		ID:           "TASK-12345678",
		DealershipID: "dealer_1",
		UserQuery:    "How are sales this month?",
		Complexity:   flow.ComplexityStandard,
	}
}

// ==========================
// Verdicts
// ==========================

func TestValidateApprovesSolidDraft(t *testing.T) {
	m := newAnalyst(t, &fakeModel{reply: plausibleReply})

	result, err := m.Validate(context.Background(), standardTask(), solidDraft())

	require.NoError(t, err)
	assert.Equal(t, flow.VerdictApproved, result.Verdict)
	assert.InDelta(t, 1.0, result.OverallScore, 1e-9)
	assert.Empty(t, result.Feedback)
}

func TestValidateEmptyMethodologyPenalized(t *testing.T) {
	m := newAnalyst(t, &fakeModel{reply: plausibleReply})

	draft := solidDraft()
	draft.Methodology = ""

	result, err := m.Validate(context.Background(), standardTask(), draft)

	require.NoError(t, err)
	assert.InDelta(t, 0.6, result.CategoryScores[CategoryMethodology], 1e-9)
	assert.Contains(t, result.Feedback, "methodology is not explained")
}

func TestValidateLowConfidenceZeroesMethodology(t *testing.T) {
	m := newAnalyst(t, &fakeModel{reply: plausibleReply})

	// Everything else about the draft is flawless; confidence below the
	// floor alone must keep it from being approved.
	draft := solidDraft()
	draft.ConfidenceScore = 0.65

	result, err := m.Validate(context.Background(), standardTask(), draft)

	require.NoError(t, err)
	assert.Zero(t, result.CategoryScores[CategoryMethodology])
	assert.InDelta(t, 0.75, result.OverallScore, 1e-9)
	assert.Equal(t, flow.VerdictNeedsRevision, result.Verdict)
	require.NotEmpty(t, result.Feedback)
	assert.Contains(t, result.Feedback[0], "methodology floor")
}

func TestValidatePredictionsRequireAssumptions(t *testing.T) {
	m := newAnalyst(t, &fakeModel{reply: plausibleReply})

	draft := solidDraft()
	draft.DetailedInsight = "Volume is forecast to grow another 5% next quarter."

	result, err := m.Validate(context.Background(), standardTask(), draft)

	require.NoError(t, err)
	assert.InDelta(t, 0.7, result.CategoryScores[CategoryMethodology], 1e-9)
	assert.Contains(t, result.Feedback, "forward-looking claims do not state their assumptions")

	draft.Methodology = "linear extrapolation assuming stable seasonal demand"
	result, err = m.Validate(context.Background(), standardTask(), draft)

	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.CategoryScores[CategoryMethodology], 1e-9)
}

func TestValidateRejectsDegradedDraft(t *testing.T) {
	m := newAnalyst(t, &fakeModel{reply: plausibleReply})

	draft := &flow.DraftInsight{
		TaskID:          "TASK-12345678",
		Summary:         "Analysis unavailable. Data retrieved: sales 40 rows.",
		DataSourcesUsed: []string{"sales"},
		RowsExamined:    40,
		Methodology:     "raw data retrieval only",
		ConfidenceScore: 0.3,
		Degraded:        true,
	}

	result, err := m.Validate(context.Background(), standardTask(), draft)

	require.NoError(t, err)
	assert.Equal(t, flow.VerdictRejected, result.Verdict)
	// Data accuracy (0.5+0.7)/2, methodology zeroed by the confidence
	// floor, business logic 0.6, compliance clean.
	assert.InDelta(t, 0.51, result.OverallScore, 1e-9)
}

func TestValidatePIIRejectsUnconditionally(t *testing.T) {
	model := &fakeModel{reply: plausibleReply}
	m := newAnalyst(t, model)

	draft := solidDraft()
	draft.Summary = "Top buyer SSN 123-45-6789 purchased three vehicles this quarter."

	result, err := m.Validate(context.Background(), standardTask(), draft)

	require.NoError(t, err)
	assert.Equal(t, flow.VerdictRejected, result.Verdict, "PII overrides an otherwise passing score")
	assert.Zero(t, result.CategoryScores[CategoryCompliance])
	assert.InDelta(t, 0.85, result.OverallScore, 1e-9)
}

func TestValidatePIIInRecommendations(t *testing.T) {
	m := newAnalyst(t, &fakeModel{reply: plausibleReply})

	draft := solidDraft()
	draft.Recommendations = append(draft.Recommendations, "Follow up with jane.doe@example.com")

	result, err := m.Validate(context.Background(), standardTask(), draft)

	require.NoError(t, err)
	assert.Equal(t, flow.VerdictRejected, result.Verdict)
}

// ==========================
// Category scoring
// ==========================

func TestValidateDenylistPenalizesCompliance(t *testing.T) {
	m := newAnalyst(t, &fakeModel{reply: plausibleReply})

	draft := solidDraft()
	draft.Summary = "Profits are guaranteed to grow next quarter based on this data."

	result, err := m.Validate(context.Background(), standardTask(), draft)

	require.NoError(t, err)
	assert.InDelta(t, 0.5, result.CategoryScores[CategoryCompliance], 1e-9)
	assert.Contains(t, result.Feedback[0], "prohibited wording")
}

func TestValidatePIIInKeyMetrics(t *testing.T) {
	m := newAnalyst(t, &fakeModel{reply: plausibleReply})

	draft := solidDraft()
	draft.KeyMetrics["top_buyer_contact"] = "call 555-123-4567"

	result, err := m.Validate(context.Background(), standardTask(), draft)

	require.NoError(t, err)
	assert.Equal(t, flow.VerdictRejected, result.Verdict)
	assert.Zero(t, result.CategoryScores[CategoryCompliance])
}

func TestValidateDenylistInMethodology(t *testing.T) {
	m := newAnalyst(t, &fakeModel{reply: plausibleReply})

	draft := solidDraft()
	draft.Methodology = "a guaranteed-accurate comparison of completed sales"

	result, err := m.Validate(context.Background(), standardTask(), draft)

	require.NoError(t, err)
	assert.InDelta(t, 0.5, result.CategoryScores[CategoryCompliance], 1e-9)
	assert.Contains(t, result.Feedback[0], "prohibited wording")
}

func TestValidateThinSampleForComplexAnalysis(t *testing.T) {
	m := newAnalyst(t, &fakeModel{reply: plausibleReply})

	task := standardTask()
	task.Complexity = flow.ComplexityComplex
	draft := solidDraft()
	draft.RowsExamined = 20

	result, err := m.Validate(context.Background(), task, draft)

	require.NoError(t, err)
	assert.InDelta(t, 0.7, result.CategoryScores[CategoryMethodology], 1e-9)
	require.NotEmpty(t, result.Feedback)
	assert.Contains(t, result.Feedback[0], "too small a sample")
}

func TestValidateRejectsUnsafeBackingQuery(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"dangerous statement", "SELECT sale_price FROM sales WHERE dealership_id = $1; DROP TABLE sales"},
		{"missing dealership scope", "SELECT sale_price FROM sales LIMIT 1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newAnalyst(t, &fakeModel{reply: plausibleReply})

			draft := solidDraft()
			draft.SQLQueries = []string{tt.sql}

			result, err := m.Validate(context.Background(), standardTask(), draft)

			require.NoError(t, err)
			assert.Zero(t, result.CategoryScores[CategoryDataAccuracy])
			assert.Equal(t, flow.VerdictRejected, result.Verdict)
			require.NotEmpty(t, result.Feedback)
			assert.Contains(t, result.Feedback[0], "safety validation")
		})
	}
}

func TestValidateSpotChecksComplexTasks(t *testing.T) {
	runner := &fakeRunner{}
	m := New(gateConfig(), &fakeModel{reply: plausibleReply}, runner, logger.NewTestLogger(t))

	task := standardTask()
	task.Complexity = flow.ComplexityComplex

	result, err := m.Validate(context.Background(), task, solidDraft())

	require.NoError(t, err)
	assert.InDelta(t, 1.0, result.CategoryScores[CategoryDataAccuracy], 1e-9)
	require.Len(t, runner.executed, 1)
	assert.Equal(t, scopedSalesQuery, runner.executed[0].SQL)
	assert.Equal(t, []interface{}{"dealer_1"}, runner.executed[0].Args, "spot-check binds the task's own dealership")
}

func TestValidateSpotCheckFailurePenalizes(t *testing.T) {
	runner := &fakeRunner{err: errors.New("relation vanished")}
	m := New(gateConfig(), &fakeModel{reply: plausibleReply}, runner, logger.NewTestLogger(t))

	task := standardTask()
	task.Complexity = flow.ComplexityComplex

	result, err := m.Validate(context.Background(), task, solidDraft())

	require.NoError(t, err)
	// Structural 0.7 after the failed spot-check, averaged with the 1.0
	// plausibility review.
	assert.InDelta(t, 0.85, result.CategoryScores[CategoryDataAccuracy], 1e-9)
	require.NotEmpty(t, result.Feedback)
	assert.Contains(t, result.Feedback[0], "could not be re-executed")
}

func TestValidateSkipsSpotCheckForStandardTasks(t *testing.T) {
	runner := &fakeRunner{}
	m := New(gateConfig(), &fakeModel{reply: plausibleReply}, runner, logger.NewTestLogger(t))

	_, err := m.Validate(context.Background(), standardTask(), solidDraft())

	require.NoError(t, err)
	assert.Empty(t, runner.executed)
}

func TestValidateReviewModelOutageUsesFallback(t *testing.T) {
	m := newAnalyst(t, &fakeModel{err: errors.New("model unavailable")})

	result, err := m.Validate(context.Background(), standardTask(), solidDraft())

	require.NoError(t, err)
	// Structural 1.0 averaged with the 0.7 neutral fallback.
	assert.InDelta(t, 0.85, result.CategoryScores[CategoryDataAccuracy], 1e-9)
}

func TestValidateReviewIssuesPropagate(t *testing.T) {
	m := newAnalyst(t, &fakeModel{reply: `{"plausible": 0.6, "issues": ["growth figure is not supported by the rows"]}`})

	result, err := m.Validate(context.Background(), standardTask(), solidDraft())

	require.NoError(t, err)
	assert.InDelta(t, 0.8, result.CategoryScores[CategoryDataAccuracy], 1e-9)
	assert.Contains(t, result.Feedback, "growth figure is not supported by the rows")
}

func TestValidateSkipsReviewForDegradedDraft(t *testing.T) {
	model := &fakeModel{reply: plausibleReply}
	m := newAnalyst(t, model)

	draft := solidDraft()
	draft.Degraded = true

	_, err := m.Validate(context.Background(), standardTask(), draft)

	require.NoError(t, err)
	assert.Zero(t, model.calls, "degraded drafts are not worth a review call")
}

// ==========================
// Enhancement
// ==========================

func TestEnhanceRewritesApprovedInsight(t *testing.T) {
	model := &fakeModel{reply: `{"summary": "Sales momentum is strong: volume up 12% month over month.", "detailed_insight": "Mid-range trims drive the growth."}`}
	m := newAnalyst(t, model)

	insight := &flow.ValidatedInsight{Draft: *solidDraft()}
	out, err := m.Enhance(context.Background(), standardTask(), insight)

	require.NoError(t, err)
	assert.True(t, out.Enhanced)
	assert.Contains(t, out.Draft.Summary, "momentum")
	assert.False(t, insight.Enhanced, "input insight is not mutated")
}

func TestEnhanceDisabled(t *testing.T) {
	cfg := gateConfig()
	cfg.EnhancementEnabled = false
	model := &fakeModel{}
	m := New(cfg, model, nil, logger.NewTestLogger(t))

	insight := &flow.ValidatedInsight{Draft: *solidDraft()}
	out, err := m.Enhance(context.Background(), standardTask(), insight)

	require.NoError(t, err)
	assert.Same(t, insight, out)
	assert.Zero(t, model.calls)
}

func TestEnhanceFailureSurfaces(t *testing.T) {
	m := newAnalyst(t, &fakeModel{err: errors.New("model unavailable")})

	_, err := m.Enhance(context.Background(), standardTask(), &flow.ValidatedInsight{Draft: *solidDraft()})

	assert.Error(t, err)
}

func TestEnhanceRejectsIntroducedPII(t *testing.T) {
	m := newAnalyst(t, &fakeModel{reply: `{"summary": "Call our best customer at 555-123-4567 to close the deal."}`})

	_, err := m.Enhance(context.Background(), standardTask(), &flow.ValidatedInsight{Draft: *solidDraft()})

	assert.Error(t, err)
}

// ==========================
// Audit trail
// ==========================

func TestAuditTrail(t *testing.T) {
	m := newAnalyst(t, &fakeModel{reply: plausibleReply})

	_, err := m.Validate(context.Background(), standardTask(), solidDraft())
	require.NoError(t, err)

	bad := solidDraft()
	bad.Summary = "SSN 123-45-6789"
	_, err = m.Validate(context.Background(), standardTask(), bad)
	require.NoError(t, err)

	entries := m.AuditEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, flow.VerdictApproved, entries[0].Verdict)
	assert.Equal(t, flow.AgentDataAnalyst, entries[0].AgentID)
	assert.GreaterOrEqual(t, entries[0].DurationMs, int64(0))
	assert.Equal(t, flow.VerdictRejected, entries[1].Verdict)
	assert.True(t, entries[1].PIIDetected)

	m.LogAuditSummary()
}

// ==========================
// Quality score properties
// ==========================

// Improving any category score can never lower the overall quality score.
func TestQualityScoreMonotonic(t *testing.T) {
	m := newAnalyst(t, &fakeModel{reply: plausibleReply})

	base := map[string]float64{
		CategoryDataAccuracy:  0.4,
		CategoryMethodology:   0.6,
		CategoryBusinessLogic: 0.5,
		CategoryCompliance:    0.7,
	}

	for category := range base {
		for _, bump := range []float64{0.1, 0.3, 0.6} {
			improved := map[string]float64{}
			for k, v := range base {
				improved[k] = v
			}
			if improved[category]+bump > 1.0 {
				continue
			}
			improved[category] += bump

			assert.GreaterOrEqual(t, m.weightedOverall(improved), m.weightedOverall(base),
				"raising %s by %.1f must not lower the overall score", category, bump)
		}
	}
}
