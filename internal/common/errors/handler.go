// internal/common/errors/handler.go
package errors

import (
	"time"
)

// ErrorHandler normalizes and logs pipeline stage failures.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleStageError normalizes err to a StandardError, logs it with stage and
// task context, and returns the normalized error for the caller to record.
func (h *ErrorHandler) HandleStageError(stage, taskID string, err error) *StandardError {
	stdErr := h.normalizeError(err)
	h.logError(stage, taskID, stdErr)
	return stdErr
}

// normalizeError ensures we always have a StandardError.
func (h *ErrorHandler) normalizeError(err error) *StandardError {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func (h *ErrorHandler) logError(stage, taskID string, stdErr *StandardError) {
	h.logger.Error("Pipeline stage failed", map[string]interface{}{
		"stage":         stage,
		"taskId":        taskID,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"retries":       GetRetryCount(stdErr.Code),
		"errorCategory": GetErrorCategory(stdErr.Code),
	})
}
