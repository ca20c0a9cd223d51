// Package flow owns the analytical task lifecycle: the state machine, the
// task registry and the orchestration of the three agent tiers.
package flow

import (
	"context"
	"time"
)

// Complexity tiers assigned by the orchestrator.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityStandard Complexity = "standard"
	ComplexityComplex  Complexity = "complex"
	ComplexityCritical Complexity = "critical"
)

// Specialist roles the orchestrator dispatches to.
const (
	AgentDataAnalyst   = "data_analyst"
	AgentSeniorAnalyst = "senior_analyst"
)

// State is a node in the task state machine.
type State string

const (
	StatePending    State = "pending"
	StateDispatched State = "dispatched"
	StateDrafting   State = "drafting"
	StateValidating State = "validating"
	StateRevising   State = "revising"
	StateApproved   State = "approved"
	StateRejected   State = "rejected"
	StateDelivered  State = "delivered"
	StateFailed     State = "failed"
)

// validTransitions encodes the only legal state machine edges. Any other
// transition is a programming error surfaced immediately.
var validTransitions = map[State][]State{
	StatePending:    {StateDispatched, StateFailed},
	StateDispatched: {StateDrafting, StateFailed},
	StateDrafting:   {StateValidating, StateFailed},
	StateValidating: {StateRevising, StateApproved, StateRejected, StateFailed},
	StateRevising:   {StateDrafting, StateFailed},
	StateApproved:   {StateDelivered, StateFailed},
}

func canTransition(from, to State) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateDelivered || s == StateRejected || s == StateFailed
}

// AnalyticalTask is the unit of work flowing through the pipeline.
type AnalyticalTask struct {
	ID            string                 `json:"id"`
	DealershipID  string                 `json:"dealership_id"`
	UserQuery     string                 `json:"user_query"`
	Complexity    Complexity             `json:"complexity"`
	RequiredData  []string               `json:"required_data"`
	AssignedAgent string                 `json:"assigned_agent"`
	State         State                  `json:"state"`
	RevisionCount int                    `json:"revision_count"`
	MaxRevisions  int                    `json:"max_revisions"`
	Feedback      []string               `json:"feedback,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// DraftInsight is the specialist's answer before validation. SQLQueries
// keeps the executed statements for audit and re-verification;
// SQLQueries[i] is the statement that backed DataSourcesUsed[i].
type DraftInsight struct {
	TaskID          string                 `json:"task_id"`
	Summary         string                 `json:"summary"`
	DetailedInsight string                 `json:"detailed_insight"`
	Recommendations []string               `json:"recommendations"`
	KeyMetrics      map[string]interface{} `json:"key_metrics"`
	DataSourcesUsed []string               `json:"data_sources_used"`
	SQLQueries      []string               `json:"sql_queries,omitempty"`
	RowsExamined    int                    `json:"rows_examined"`
	Methodology     string                 `json:"methodology"`
	ConfidenceScore float64                `json:"confidence_score"`
	GeneratedBy     string                 `json:"generated_by"`
	Revision        int                    `json:"revision"`
	Degraded        bool                   `json:"degraded"`
}

// Verdict is the master analyst's decision on a draft.
type Verdict string

const (
	VerdictApproved      Verdict = "approved"
	VerdictNeedsRevision Verdict = "needs_revision"
	VerdictRejected      Verdict = "rejected"
)

// ValidationResult is the weighted quality assessment of one draft.
type ValidationResult struct {
	TaskID         string             `json:"task_id"`
	Verdict        Verdict            `json:"verdict"`
	OverallScore   float64            `json:"overall_score"`
	CategoryScores map[string]float64 `json:"category_scores"`
	Feedback       []string           `json:"feedback,omitempty"`
}

// ValidatedInsight pairs an approved draft with its assessment.
type ValidatedInsight struct {
	Draft      DraftInsight     `json:"draft"`
	Validation ValidationResult `json:"validation"`
	Enhanced   bool             `json:"enhanced"`
}

// Response is the formatted answer returned to the caller.
type Response struct {
	TaskID            string                 `json:"task_id"`
	DealershipID      string                 `json:"dealership_id"`
	Summary           string                 `json:"summary"`
	DetailedInsight   string                 `json:"detailed_insight"`
	Recommendations   []string               `json:"recommendations"`
	KeyMetrics        map[string]interface{} `json:"key_metrics,omitempty"`
	ConfidenceLabel   string                 `json:"confidence_label"`
	VisualizationHint string                 `json:"visualization_hint"`
	QualityScore      float64                `json:"quality_score"`
	Complexity        Complexity             `json:"complexity"`
	RevisionCount     int                    `json:"revision_count"`
	ProcessingTimeMs  int64                  `json:"processing_time_ms"`
}

// Classification is the orchestrator's routing decision.
type Classification struct {
	Complexity    Complexity `json:"complexity"`
	RequiredData  []string   `json:"required_data"`
	AssignedAgent string     `json:"assigned_agent"`
}

// Orchestrator classifies incoming queries and formats final responses.
type Orchestrator interface {
	Classify(ctx context.Context, task *AnalyticalTask) (Classification, error)
	FormatResponse(ctx context.Context, task *AnalyticalTask, insight *ValidatedInsight) (*Response, error)
}

// Specialist generates and revises draft insights.
type Specialist interface {
	Name() string
	GenerateDraft(ctx context.Context, task *AnalyticalTask) (*DraftInsight, error)
	ReviseDraft(ctx context.Context, task *AnalyticalTask, prior *DraftInsight, feedback []string) (*DraftInsight, error)
}

// Validator is the quality gate every draft must clear.
type Validator interface {
	Validate(ctx context.Context, task *AnalyticalTask, draft *DraftInsight) (*ValidationResult, error)
	Enhance(ctx context.Context, task *AnalyticalTask, insight *ValidatedInsight) (*ValidatedInsight, error)
}

// TaskStatus is the externally visible snapshot of one task.
type TaskStatus struct {
	TaskID        string     `json:"task_id"`
	DealershipID  string     `json:"dealership_id"`
	State         State      `json:"state"`
	Complexity    Complexity `json:"complexity"`
	AssignedAgent string     `json:"assigned_agent"`
	RevisionCount int        `json:"revision_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Metrics is the aggregate view over all processed tasks.
type Metrics struct {
	TotalQueries           int64              `json:"total_queries"`
	Approved               int64              `json:"approved"`
	Rejected               int64              `json:"rejected"`
	Failed                 int64              `json:"failed"`
	TotalRevisions         int64              `json:"total_revisions"`
	ApprovalRate           float64            `json:"approval_rate"`
	AvgProcessingTimeMs    float64            `json:"avg_processing_time_ms"`
	ActiveTasks            int                `json:"active_tasks"`
	ComplexityDistribution map[Complexity]int `json:"complexity_distribution"`
	RecentErrors           []FlowError        `json:"recent_errors"`
}

// FlowError is one entry in the bounded recent-error buffer.
type FlowError struct {
	TaskID    string    `json:"task_id"`
	Stage     string    `json:"stage"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
