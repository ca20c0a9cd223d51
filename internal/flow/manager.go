// internal/flow/manager.go
package flow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vendora/internal/common/config"
	stderrors "vendora/internal/common/errors"
	"vendora/internal/common/logger"
	"vendora/internal/common/metrics"
	"vendora/internal/common/validation"
)

// DeliveryHook runs after a task reaches the delivered state. Hooks are
// best-effort: archive writes, memory updates and notifications never fail
// the response that is already on its way to the caller.
type DeliveryHook func(ctx context.Context, task *AnalyticalTask, resp *Response)

// Manager drives every task through the state machine and owns the task
// registry and aggregate metrics. All methods are safe for concurrent use.
type Manager struct {
	cfg          config.FlowConfig
	orchestrator Orchestrator
	specialists  map[string]Specialist
	validator    Validator
	logger       logger.Logger
	errorHandler *stderrors.ErrorHandler

	hooks []DeliveryHook

	mu           sync.RWMutex
	tasks        map[string]*AnalyticalTask
	recentErrors []FlowError

	statsMu        sync.Mutex
	totalQueries   int64
	approved       int64
	rejected       int64
	failed         int64
	totalRevisions int64
	totalElapsedMs int64
	complexityDist map[Complexity]int
}

func NewManager(
	cfg config.FlowConfig,
	orchestrator Orchestrator,
	specialists []Specialist,
	validator Validator,
	log logger.Logger,
) *Manager {
	byName := make(map[string]Specialist, len(specialists))
	for _, s := range specialists {
		byName[s.Name()] = s
	}
	return &Manager{
		cfg:            cfg,
		orchestrator:   orchestrator,
		specialists:    byName,
		validator:      validator,
		logger:         log,
		errorHandler:   stderrors.NewErrorHandler(log),
		tasks:          make(map[string]*AnalyticalTask),
		complexityDist: make(map[Complexity]int),
	}
}

// AddDeliveryHook registers a post-delivery side effect.
func (m *Manager) AddDeliveryHook(hook DeliveryHook) {
	m.hooks = append(m.hooks, hook)
}

// ProcessUserQuery runs one query through classification, drafting,
// validation and delivery, bounded by the configured revision limit and
// overall deadline. userContext carries caller-supplied request context
// (session, channel, locale); it is sanitized before it touches the task.
func (m *Manager) ProcessUserQuery(ctx context.Context, dealershipID, userQuery string, userContext map[string]interface{}) (*Response, error) {
	if err := validation.ValidateDealershipID(dealershipID); err != nil {
		return nil, err
	}
	if err := validation.ValidateUserQuery(userQuery); err != nil {
		return nil, err
	}

	task := m.newTask(dealershipID, userQuery, sanitizeUserContext(userContext))
	metrics.TasksActive.Inc()
	defer metrics.TasksActive.Dec()

	timeout := config.GetDuration(m.cfg.TimeoutMs)
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := m.run(taskCtx, task)
	if err != nil && taskCtx.Err() == context.DeadlineExceeded {
		timeoutErr := stderrors.NewFlowTimeoutError(task.ID, timeout)
		m.failTask(task, "deadline", timeoutErr)
		err = timeoutErr
	}

	elapsed := time.Since(task.CreatedAt)
	m.recordOutcome(task, elapsed, err)

	if err != nil {
		return nil, err
	}

	resp.ProcessingTimeMs = elapsed.Milliseconds()
	return resp, nil
}

func (m *Manager) run(ctx context.Context, task *AnalyticalTask) (*Response, error) {
	// L1: classify and dispatch.
	classifyStart := time.Now()
	classification, err := m.orchestrator.Classify(ctx, task)
	metrics.StageDuration.WithLabelValues("classify").Observe(time.Since(classifyStart).Seconds())
	if err != nil {
		stdErr := m.errorHandler.HandleStageError("classify", task.ID, err)
		m.failTask(task, "classify", stdErr)
		return nil, stdErr
	}

	m.mu.Lock()
	task.Complexity = classification.Complexity
	task.RequiredData = classification.RequiredData
	task.AssignedAgent = classification.AssignedAgent
	m.mu.Unlock()

	if err := m.transition(task, StateDispatched); err != nil {
		return nil, err
	}

	specialist, ok := m.specialists[task.AssignedAgent]
	if !ok {
		stdErr := stderrors.NewClassificationFailedError(
			fmt.Errorf("no specialist registered for %q", task.AssignedAgent))
		m.failTask(task, "dispatch", stdErr)
		return nil, stdErr
	}

	// L2/L3 loop: draft, validate, revise within the revision budget.
	var draft *DraftInsight
	for {
		if err := m.transition(task, StateDrafting); err != nil {
			return nil, err
		}

		draftStart := time.Now()
		if draft == nil {
			draft, err = specialist.GenerateDraft(ctx, task)
		} else {
			draft, err = specialist.ReviseDraft(ctx, task, draft, task.Feedback)
		}
		metrics.StageDuration.WithLabelValues("draft").Observe(time.Since(draftStart).Seconds())
		if err != nil {
			stdErr := m.errorHandler.HandleStageError("draft", task.ID, err)
			m.failTask(task, "draft", stdErr)
			return nil, stdErr
		}

		if err := m.transition(task, StateValidating); err != nil {
			return nil, err
		}

		validateStart := time.Now()
		result, err := m.validator.Validate(ctx, task, draft)
		metrics.StageDuration.WithLabelValues("validate").Observe(time.Since(validateStart).Seconds())
		if err != nil {
			stdErr := m.errorHandler.HandleStageError("validate", task.ID, err)
			m.failTask(task, "validate", stdErr)
			return nil, stdErr
		}

		metrics.InsightsValidated.WithLabelValues(string(result.Verdict)).Inc()
		metrics.QualityScore.Observe(result.OverallScore)

		switch result.Verdict {
		case VerdictApproved:
			return m.deliver(ctx, task, draft, result)

		case VerdictNeedsRevision:
			if task.RevisionCount >= task.MaxRevisions {
				stdErr := stderrors.NewMaxRevisionsExceededError(task.ID, task.RevisionCount)
				m.rejectTask(task, "revise", stdErr)
				return nil, stdErr
			}
			if err := m.transition(task, StateRevising); err != nil {
				return nil, err
			}
			m.mu.Lock()
			task.RevisionCount++
			task.Feedback = append(task.Feedback, result.Feedback...)
			m.mu.Unlock()
			metrics.RevisionCycles.Inc()
			m.logger.Info("Draft sent back for revision", map[string]interface{}{
				"taskId":   task.ID,
				"revision": task.RevisionCount,
				"score":    result.OverallScore,
			})

		default: // VerdictRejected
			stdErr := stderrors.NewInsightRejectedError(task.ID, result.OverallScore)
			m.rejectTask(task, "validate", stdErr)
			return nil, stdErr
		}
	}
}

func (m *Manager) deliver(ctx context.Context, task *AnalyticalTask, draft *DraftInsight, result *ValidationResult) (*Response, error) {
	if err := m.transition(task, StateApproved); err != nil {
		return nil, err
	}

	insight := &ValidatedInsight{Draft: *draft, Validation: *result}

	// Enhancement is best-effort: a failure never blocks an approved insight.
	enhanced, err := m.validator.Enhance(ctx, task, insight)
	if err != nil {
		m.logger.Warn("Insight enhancement failed, delivering unenhanced draft", map[string]interface{}{
			"taskId": task.ID,
			"error":  err.Error(),
		})
	} else {
		insight = enhanced
	}

	resp, err := m.orchestrator.FormatResponse(ctx, task, insight)
	if err != nil {
		stdErr := m.errorHandler.HandleStageError("format", task.ID, err)
		m.failTask(task, "format", stdErr)
		return nil, stdErr
	}

	if err := m.transition(task, StateDelivered); err != nil {
		return nil, err
	}

	for _, hook := range m.hooks {
		hook(ctx, task, resp)
	}

	m.logger.Info("Insight delivered", map[string]interface{}{
		"taskId":       task.ID,
		"dealershipId": task.DealershipID,
		"complexity":   string(task.Complexity),
		"revisions":    task.RevisionCount,
		"qualityScore": result.OverallScore,
	})

	return resp, nil
}

// GetFlowStatus returns a snapshot of one task.
func (m *Manager) GetFlowStatus(taskID string) (*TaskStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return nil, stderrors.NewTaskNotFoundError(taskID)
	}

	return &TaskStatus{
		TaskID:        task.ID,
		DealershipID:  task.DealershipID,
		State:         task.State,
		Complexity:    task.Complexity,
		AssignedAgent: task.AssignedAgent,
		RevisionCount: task.RevisionCount,
		CreatedAt:     task.CreatedAt,
		UpdatedAt:     task.UpdatedAt,
	}, nil
}

// GetMetrics returns the aggregate pipeline metrics.
func (m *Manager) GetMetrics() Metrics {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	out := Metrics{
		TotalQueries:           m.totalQueries,
		Approved:               m.approved,
		Rejected:               m.rejected,
		Failed:                 m.failed,
		TotalRevisions:         m.totalRevisions,
		ComplexityDistribution: make(map[Complexity]int, len(m.complexityDist)),
	}
	for k, v := range m.complexityDist {
		out.ComplexityDistribution[k] = v
	}
	if m.totalQueries > 0 {
		out.ApprovalRate = float64(m.approved) / float64(m.totalQueries)
		out.AvgProcessingTimeMs = float64(m.totalElapsedMs) / float64(m.totalQueries)
	}

	m.mu.RLock()
	out.RecentErrors = append(out.RecentErrors, m.recentErrors...)
	for _, task := range m.tasks {
		if !task.State.IsTerminal() {
			out.ActiveTasks++
		}
	}
	m.mu.RUnlock()

	return out
}

// ==========================
// Internals
// ==========================

const (
	maxContextEntries  = 16
	maxContextValueLen = 256
)

// sanitizeUserContext keeps only flat scalar entries of the caller's
// context map and bounds both entry count and value length.
func sanitizeUserContext(raw map[string]interface{}) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]interface{})
	for key, value := range raw {
		if len(out) >= maxContextEntries {
			break
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		switch v := value.(type) {
		case string:
			if len(v) > maxContextValueLen {
				v = v[:maxContextValueLen]
			}
			out[key] = v
		case bool, int, int64, float64:
			out[key] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (m *Manager) newTask(dealershipID, userQuery string, metadata map[string]interface{}) *AnalyticalTask {
	u := uuid.New()
	now := time.Now().UTC()
	task := &AnalyticalTask{
		ID:           fmt.Sprintf("TASK-%x", u[0:4]),
		DealershipID: dealershipID,
		UserQuery:    userQuery,
		Metadata:     metadata,
		State:        StatePending,
		MaxRevisions: m.cfg.MaxRevisions,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()

	m.logger.Info("Task created", map[string]interface{}{
		"taskId":       task.ID,
		"dealershipId": dealershipID,
	})
	return task
}

func (m *Manager) transition(task *AnalyticalTask, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !canTransition(task.State, to) {
		return fmt.Errorf("illegal state transition for %s: %s -> %s", task.ID, task.State, to)
	}

	m.logger.Debug("State transition", map[string]interface{}{
		"taskId": task.ID,
		"from":   string(task.State),
		"to":     string(to),
	})
	task.State = to
	task.UpdatedAt = time.Now().UTC()
	return nil
}

// failTask forces the failed state from anywhere and records the error.
func (m *Manager) failTask(task *AnalyticalTask, stage string, stdErr *stderrors.StandardError) {
	m.mu.Lock()
	task.State = StateFailed
	task.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()
	m.recordError(task.ID, stage, stdErr)
}

// rejectTask marks a quality rejection, a terminal business outcome rather
// than an infrastructure failure.
func (m *Manager) rejectTask(task *AnalyticalTask, stage string, stdErr *stderrors.StandardError) {
	m.mu.Lock()
	task.State = StateRejected
	task.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()
	m.recordError(task.ID, stage, stdErr)
}

func (m *Manager) recordError(taskID, stage string, stdErr *stderrors.StandardError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recentErrors = append(m.recentErrors, FlowError{
		TaskID:    taskID,
		Stage:     stage,
		Code:      string(stdErr.Code),
		Message:   stdErr.Message,
		Timestamp: time.Now().UTC(),
	})
	if limit := m.cfg.RecentErrorsLimit; len(m.recentErrors) > limit {
		m.recentErrors = m.recentErrors[len(m.recentErrors)-limit:]
	}
}

func (m *Manager) recordOutcome(task *AnalyticalTask, elapsed time.Duration, err error) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	m.totalQueries++
	m.totalElapsedMs += elapsed.Milliseconds()
	m.totalRevisions += int64(task.RevisionCount)
	if task.Complexity != "" {
		m.complexityDist[task.Complexity]++
	}

	switch {
	case err == nil:
		m.approved++
	case task.State == StateRejected:
		m.rejected++
	default:
		m.failed++
	}

	metrics.QueriesProcessed.WithLabelValues(string(task.State), string(task.Complexity)).Inc()
}
