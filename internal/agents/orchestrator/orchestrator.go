// Package orchestrator implements the first agent tier: it classifies
// incoming queries, routes them to a specialist and formats the final
// response for the caller.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"vendora/internal/common/logger"
	"vendora/internal/common/validation"
	"vendora/internal/flow"
	"vendora/internal/llm"
	"vendora/pkg/registry"
)

// Model is the slice of the generative client the orchestrator needs.
type Model interface {
	Generate(ctx context.Context, req llm.Request) (string, error)
}

// Orchestrator classifies queries with the model, falling back to keyword
// heuristics when the model is unavailable or returns garbage. Formatting
// is purely local.
type Orchestrator struct {
	model    Model
	registry *registry.SourceRegistry
	logger   logger.Logger
}

func New(model Model, reg *registry.SourceRegistry, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		model:    model,
		registry: reg,
		logger:   log,
	}
}

// ==========================
// Classification
// ==========================

var classificationSchema = validation.MustCompileSchema(`{
	"type": "object",
	"required": ["complexity", "required_data"],
	"properties": {
		"complexity": {
			"type": "string",
			"enum": ["simple", "standard", "complex", "critical"]
		},
		"required_data": {
			"type": "array",
			"items": {"type": "string"}
		},
		"reasoning": {"type": "string"}
	}
}`)

type modelClassification struct {
	Complexity   string   `json:"complexity"`
	RequiredData []string `json:"required_data"`
	Reasoning    string   `json:"reasoning"`
}

const classifySystemPrompt = `You are the routing tier of a dealership analytics system.
Classify the user's question and reply with JSON only, no prose:
{"complexity": "simple|standard|complex|critical", "required_data": [...], "reasoning": "..."}

complexity: simple = single-value lookup, standard = routine reporting,
complex = multi-source or trend analysis, critical = financial, audit or
compliance sensitive.
required_data: subset of the available data sources that the answer needs.`

// Classify determines complexity and required data sources for a task and
// assigns the specialist tier. A model failure degrades to keyword
// heuristics rather than failing the task.
func (o *Orchestrator) Classify(ctx context.Context, task *flow.AnalyticalTask) (flow.Classification, error) {
	mc, err := o.classifyWithModel(ctx, task.UserQuery)
	if err != nil {
		o.logger.Warn("Model classification failed, using keyword heuristics", map[string]interface{}{
			"taskId": task.ID,
			"error":  err.Error(),
		})
		mc = o.classifyByKeywords(task.UserQuery)
	}

	complexity := flow.Complexity(mc.Complexity)
	sources := o.registry.Filter(mc.RequiredData)
	if len(sources) == 0 {
		sources = o.registry.MatchKeywords(task.UserQuery)
	}
	if len(sources) == 0 {
		sources = []string{"sales"}
	}

	classification := flow.Classification{
		Complexity:    complexity,
		RequiredData:  sources,
		AssignedAgent: agentFor(complexity),
	}

	o.logger.Info("Query classified", map[string]interface{}{
		"taskId":       task.ID,
		"complexity":   string(classification.Complexity),
		"requiredData": classification.RequiredData,
		"agent":        classification.AssignedAgent,
	})
	return classification, nil
}

func (o *Orchestrator) classifyWithModel(ctx context.Context, userQuery string) (modelClassification, error) {
	var mc modelClassification

	prompt := fmt.Sprintf("Available data sources: %s\n\nUser question: %s",
		strings.Join(o.registry.Names(), ", "), userQuery)

	raw, err := o.model.Generate(ctx, llm.Request{
		System:      classifySystemPrompt,
		Prompt:      prompt,
		Temperature: 0.1,
		MaxTokens:   512,
	})
	if err != nil {
		return mc, err
	}

	doc, err := llm.ExtractJSON(raw)
	if err != nil {
		return mc, err
	}
	if result := classificationSchema.ValidateJSON(doc); !result.Valid {
		return mc, fmt.Errorf("classification reply rejected by schema: %v", result.Errors)
	}
	if err := json.Unmarshal(doc, &mc); err != nil {
		return mc, err
	}
	return mc, nil
}

var (
	criticalKeywords = []string{"compliance", "audit", "fraud", "regulatory", "legal", "write-off"}
	complexKeywords  = []string{"forecast", "predict", "why", "correlat", "compare", "versus", " vs ", "trend", "year over year", "quarter over quarter"}
	simpleKeywords   = []string{"how many", "count of", "total number", "list ", "show me the"}
)

// classifyByKeywords is the degraded routing path. It errs toward the
// senior tier for anything that smells risky.
func (o *Orchestrator) classifyByKeywords(userQuery string) modelClassification {
	q := strings.ToLower(userQuery)

	complexity := "standard"
	switch {
	case containsAny(q, criticalKeywords):
		complexity = "critical"
	case containsAny(q, complexKeywords):
		complexity = "complex"
	case containsAny(q, simpleKeywords):
		complexity = "simple"
	}

	return modelClassification{
		Complexity:   complexity,
		RequiredData: o.registry.MatchKeywords(userQuery),
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// agentFor maps complexity to the specialist tier that handles it.
func agentFor(c flow.Complexity) string {
	switch c {
	case flow.ComplexityComplex, flow.ComplexityCritical:
		return flow.AgentSeniorAnalyst
	default:
		return flow.AgentDataAnalyst
	}
}

// ==========================
// Response formatting
// ==========================

type formatReply struct {
	Summary         string   `json:"summary"`
	KeyFindings     []string `json:"key_findings"`
	Recommendations []string `json:"recommendations"`
}

const formatSystemPrompt = `You are the presentation tier of a dealership analytics system.
Rewrite the validated insight for dealership management: a one-sentence
executive summary, short bullet findings and concrete recommendations.
Keep every number exactly as given; never invent new figures. Reply with
JSON only:
{"summary": "...", "key_findings": ["..."], "recommendations": ["..."]}`

// FormatResponse turns a validated insight into the caller-facing shape,
// attaching a confidence label and a visualization hint. The wording is
// polished by the model; when that fails the draft's own text ships as-is.
func (o *Orchestrator) FormatResponse(ctx context.Context, task *flow.AnalyticalTask, insight *flow.ValidatedInsight) (*flow.Response, error) {
	hint := VisualizationHint(insight.Draft.Summary + "\n" + insight.Draft.DetailedInsight)
	if hint == "table" {
		hint = VisualizationHint(task.UserQuery)
	}

	resp := &flow.Response{
		TaskID:            task.ID,
		DealershipID:      task.DealershipID,
		Summary:           insight.Draft.Summary,
		DetailedInsight:   insight.Draft.DetailedInsight,
		Recommendations:   insight.Draft.Recommendations,
		KeyMetrics:        insight.Draft.KeyMetrics,
		ConfidenceLabel:   ConfidenceLabel(insight.Draft.ConfidenceScore),
		VisualizationHint: hint,
		QualityScore:      insight.Validation.OverallScore,
		Complexity:        task.Complexity,
		RevisionCount:     task.RevisionCount,
	}

	reply, err := o.formatWithModel(ctx, task, insight)
	if err != nil {
		o.logger.Warn("Model formatting failed, delivering draft wording", map[string]interface{}{
			"taskId": task.ID,
			"error":  err.Error(),
		})
		return resp, nil
	}

	resp.Summary = reply.Summary
	if len(reply.KeyFindings) > 0 {
		resp.DetailedInsight = strings.Join(reply.KeyFindings, "\n")
	}
	if len(reply.Recommendations) > 0 {
		resp.Recommendations = reply.Recommendations
	}
	return resp, nil
}

func (o *Orchestrator) formatWithModel(ctx context.Context, task *flow.AnalyticalTask, insight *flow.ValidatedInsight) (*formatReply, error) {
	prompt := fmt.Sprintf("Question: %s\nSummary: %s\nFindings:\n%s\nRecommendations:\n%s\n",
		task.UserQuery, insight.Draft.Summary, insight.Draft.DetailedInsight,
		strings.Join(insight.Draft.Recommendations, "\n"))

	raw, err := o.model.Generate(ctx, llm.Request{
		System:      formatSystemPrompt,
		Prompt:      prompt,
		Temperature: 0.4,
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, err
	}

	var reply formatReply
	if err := llm.DecodeStructured(raw, &reply); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reply.Summary) == "" {
		return nil, fmt.Errorf("format reply missing summary")
	}
	return &reply, nil
}

// ConfidenceLabel maps a numeric confidence score to the wording shown to
// dealership staff.
func ConfidenceLabel(score float64) string {
	switch {
	case score >= 0.95:
		return "Very High"
	case score >= 0.85:
		return "High"
	case score >= 0.70:
		return "Moderate"
	case score >= 0.50:
		return "Low"
	default:
		return "Very Low"
	}
}

var (
	trendWords        = []string{"trend", "over time", "monthly", "weekly", "growth", "forecast"}
	comparisonWords   = []string{"compare", "comparison", "versus", " vs ", "difference between", "top "}
	distributionWords = []string{"distribution", "breakdown", "share", "percentage", "split", "proportion"}
)

// VisualizationHint suggests how the frontend should render the answer,
// keyed off what the text actually describes.
func VisualizationHint(text string) string {
	q := strings.ToLower(text)
	switch {
	case containsAny(q, trendWords):
		return "line_chart"
	case containsAny(q, comparisonWords):
		return "bar_chart"
	case containsAny(q, distributionWords):
		return "pie_chart"
	default:
		return "table"
	}
}
