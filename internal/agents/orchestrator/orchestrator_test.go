package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vendora/internal/common/logger"
	"vendora/internal/flow"
	"vendora/internal/llm"
	"vendora/pkg/registry"
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

func newOrchestrator(t *testing.T, model Model) *Orchestrator {
	t.Helper()
	return New(model, registry.Default(), logger.NewTestLogger(t))
}

// ==========================
// Classify
// ==========================

func TestClassifyUsesModelReply(t *testing.T) {
	model := &fakeModel{reply: `{"complexity": "complex", "required_data": ["sales", "inventory"], "reasoning": "cross source"}`}
	o := newOrchestrator(t, model)

	task := &flow.AnalyticalTask{ID: "TASK-11112222", UserQuery: "Compare sales against inventory turnover"}
	got, err := o.Classify(context.Background(), task)

	require.NoError(t, err)
	assert.Equal(t, flow.ComplexityComplex, got.Complexity)
	assert.Equal(t, []string{"sales", "inventory"}, got.RequiredData)
	assert.Equal(t, flow.AgentSeniorAnalyst, got.AssignedAgent)
}

func TestClassifyDispatchRule(t *testing.T) {
	tests := []struct {
		complexity string
		wantAgent  string
	}{
		{"simple", flow.AgentDataAnalyst},
		{"standard", flow.AgentDataAnalyst},
		{"complex", flow.AgentSeniorAnalyst},
		{"critical", flow.AgentSeniorAnalyst},
	}

	for _, tt := range tests {
		t.Run(tt.complexity, func(t *testing.T) {
			model := &fakeModel{reply: `{"complexity": "` + tt.complexity + `", "required_data": ["sales"]}`}
			o := newOrchestrator(t, model)

			got, err := o.Classify(context.Background(), &flow.AnalyticalTask{ID: "TASK-00000001", UserQuery: "q"})

			require.NoError(t, err)
			assert.Equal(t, tt.wantAgent, got.AssignedAgent)
		})
	}
}

func TestClassifyFallsBackOnModelError(t *testing.T) {
	model := &fakeModel{err: errors.New("upstream down")}
	o := newOrchestrator(t, model)

	task := &flow.AnalyticalTask{ID: "TASK-00000002", UserQuery: "Why is service revenue trending down this quarter?"}
	got, err := o.Classify(context.Background(), task)

	require.NoError(t, err, "a model outage degrades routing, it does not fail the task")
	assert.Equal(t, flow.ComplexityComplex, got.Complexity)
	assert.Equal(t, flow.AgentSeniorAnalyst, got.AssignedAgent)
	assert.Contains(t, got.RequiredData, "service")
}

func TestClassifyFallsBackOnSchemaViolation(t *testing.T) {
	// Complexity outside the enum must be rejected, not trusted.
	model := &fakeModel{reply: `{"complexity": "extreme", "required_data": ["sales"]}`}
	o := newOrchestrator(t, model)

	got, err := o.Classify(context.Background(), &flow.AnalyticalTask{ID: "TASK-00000003", UserQuery: "how many cars did we sell"})

	require.NoError(t, err)
	assert.Equal(t, flow.ComplexitySimple, got.Complexity)
	assert.Equal(t, flow.AgentDataAnalyst, got.AssignedAgent)
}

func TestClassifyFallsBackOnUnparseableReply(t *testing.T) {
	model := &fakeModel{reply: "Sure! Sales look great this month."}
	o := newOrchestrator(t, model)

	got, err := o.Classify(context.Background(), &flow.AnalyticalTask{ID: "TASK-00000004", UserQuery: "audit our lead handling for compliance"})

	require.NoError(t, err)
	assert.Equal(t, flow.ComplexityCritical, got.Complexity)
	assert.Equal(t, flow.AgentSeniorAnalyst, got.AssignedAgent)
}

func TestClassifyDropsUnknownSources(t *testing.T) {
	model := &fakeModel{reply: `{"complexity": "standard", "required_data": ["sales", "payroll"]}`}
	o := newOrchestrator(t, model)

	got, err := o.Classify(context.Background(), &flow.AnalyticalTask{ID: "TASK-00000005", UserQuery: "q"})

	require.NoError(t, err)
	assert.Equal(t, []string{"sales"}, got.RequiredData)
}

func TestClassifyDefaultsDataSource(t *testing.T) {
	model := &fakeModel{reply: `{"complexity": "standard", "required_data": []}`}
	o := newOrchestrator(t, model)

	got, err := o.Classify(context.Background(), &flow.AnalyticalTask{ID: "TASK-00000006", UserQuery: "zzz qqq"})

	require.NoError(t, err)
	assert.NotEmpty(t, got.RequiredData, "a specialist always needs at least one source")
}

// ==========================
// FormatResponse
// ==========================

func TestFormatResponseUsesModelWording(t *testing.T) {
	model := &fakeModel{reply: `{
		"summary": "Executive view: sales momentum is strong.",
		"key_findings": ["Volume up 12%", "Margins held"],
		"recommendations": ["Restock top trims"]
	}`}
	o := newOrchestrator(t, model)

	task := &flow.AnalyticalTask{ID: "TASK-00000007", DealershipID: "dealer_7", UserQuery: "how are sales"}
	insight := &flow.ValidatedInsight{
		Draft: flow.DraftInsight{
			Summary:         "Sales grew 12% month over month.",
			DetailedInsight: "details",
			ConfidenceScore: 0.9,
		},
	}

	resp, err := o.FormatResponse(context.Background(), task, insight)

	require.NoError(t, err)
	assert.Equal(t, "Executive view: sales momentum is strong.", resp.Summary)
	assert.Equal(t, "Volume up 12%\nMargins held", resp.DetailedInsight)
	assert.Equal(t, []string{"Restock top trims"}, resp.Recommendations)
	assert.Equal(t, 1, model.calls)
}

func TestFormatResponseFallsBackOnModelFailure(t *testing.T) {
	model := &fakeModel{err: errors.New("upstream down")}
	o := newOrchestrator(t, model)

	task := &flow.AnalyticalTask{ID: "TASK-00000008", DealershipID: "dealer_7", UserQuery: "how are sales"}
	insight := &flow.ValidatedInsight{
		Draft: flow.DraftInsight{
			Summary:         "Sales grew 12% month over month.",
			Recommendations: []string{"Restock top trims"},
			ConfidenceScore: 0.9,
		},
	}

	resp, err := o.FormatResponse(context.Background(), task, insight)

	require.NoError(t, err, "a formatting outage never blocks an approved insight")
	assert.Equal(t, "Sales grew 12% month over month.", resp.Summary)
	assert.Equal(t, []string{"Restock top trims"}, resp.Recommendations)
}

func TestFormatResponseHintPrefersInsightContent(t *testing.T) {
	o := newOrchestrator(t, &fakeModel{err: errors.New("down")})

	task := &flow.AnalyticalTask{ID: "TASK-00000009", DealershipID: "dealer_7", UserQuery: "tell me about our leads"}
	insight := &flow.ValidatedInsight{
		Draft: flow.DraftInsight{
			Summary:         "Walk-ins account for the largest share of the lead breakdown.",
			ConfidenceScore: 0.9,
		},
	}

	resp, err := o.FormatResponse(context.Background(), task, insight)

	require.NoError(t, err)
	assert.Equal(t, "pie_chart", resp.VisualizationHint, "the answer describes a distribution even though the question did not")
}

func TestFormatResponse(t *testing.T) {
	o := newOrchestrator(t, &fakeModel{})

	task := &flow.AnalyticalTask{
		ID:            "TASK-aabbccdd",
		DealershipID:  "dealer_7",
		UserQuery:     "What is the monthly sales trend?",
		Complexity:    flow.ComplexityStandard,
		RevisionCount: 1,
	}
	insight := &flow.ValidatedInsight{
		Draft: flow.DraftInsight{
			Summary:         "Sales grew 12% month over month.",
			DetailedInsight: "details",
			Recommendations: []string{"Increase inventory of top trims"},
			KeyMetrics:      map[string]interface{}{"growth_pct": 12.0},
			ConfidenceScore: 0.83,
		},
		Validation: flow.ValidationResult{OverallScore: 0.9},
	}

	resp, err := o.FormatResponse(context.Background(), task, insight)

	require.NoError(t, err)
	assert.Equal(t, "TASK-aabbccdd", resp.TaskID)
	assert.Equal(t, "dealer_7", resp.DealershipID)
	assert.Equal(t, "Moderate", resp.ConfidenceLabel)
	assert.Equal(t, "line_chart", resp.VisualizationHint)
	assert.Equal(t, 0.9, resp.QualityScore)
	assert.Equal(t, 1, resp.RevisionCount)
}

func TestConfidenceLabels(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0.99, "Very High"},
		{0.95, "Very High"},
		{0.90, "High"},
		{0.85, "High"},
		{0.75, "Moderate"},
		{0.70, "Moderate"},
		{0.55, "Low"},
		{0.50, "Low"},
		{0.30, "Very Low"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ConfidenceLabel(tt.score), "score %.2f", tt.score)
	}
}

func TestVisualizationHints(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"show me the sales trend over time", "line_chart"},
		{"monthly growth in service revenue", "line_chart"},
		{"compare new vs used gross margin", "bar_chart"},
		{"top 5 salespeople this quarter", "bar_chart"},
		{"breakdown of leads by source", "pie_chart"},
		{"what share of revenue is parts", "pie_chart"},
		{"list all open service orders", "table"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, VisualizationHint(tt.query))
		})
	}
}
