// Package errors provides standardized error handling for the insight
// validation pipeline.
package errors

import (
	goerrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeInputValidationFailed ErrorCode = "INPUT_VALIDATION_FAILED"
	ErrCodeDealershipIDInvalid   ErrorCode = "DEALERSHIP_ID_INVALID"
	ErrCodeQueryTooLong          ErrorCode = "QUERY_TOO_LONG"

	ErrCodeClassificationFailed ErrorCode = "CLASSIFICATION_FAILED"
	ErrCodeGenerationFailed     ErrorCode = "GENERATION_FAILED"
	ErrCodeInsightRejected      ErrorCode = "INSIGHT_REJECTED"
	ErrCodeMaxRevisionsExceeded ErrorCode = "MAX_REVISIONS_EXCEEDED"
	ErrCodeFlowTimeout          ErrorCode = "FLOW_TIMEOUT"
	ErrCodeTaskNotFound         ErrorCode = "TASK_NOT_FOUND"

	ErrCodeDangerousSQL      ErrorCode = "DANGEROUS_SQL"
	ErrCodeMissingScopeParam ErrorCode = "MISSING_SCOPE_PARAM"
	ErrCodeUnknownDataSource ErrorCode = "UNKNOWN_DATA_SOURCE"
	ErrCodePIIDetected       ErrorCode = "PII_DETECTED"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"

	ErrCodeArchiveUnavailable ErrorCode = "ARCHIVE_UNAVAILABLE"
	ErrCodeMemoryStoreFailed  ErrorCode = "MEMORY_STORE_FAILED"

	ErrCodeLLMTimeout          ErrorCode = "LLM_TIMEOUT"
	ErrCodeLLMRequestFailed    ErrorCode = "LLM_REQUEST_FAILED"
	ErrCodeLLMResponseInvalid  ErrorCode = "LLM_RESPONSE_INVALID"
	ErrCodeExternalUnavailable ErrorCode = "EXTERNAL_UNAVAILABLE"

	ErrCodeIngestSignatureInvalid ErrorCode = "INGEST_SIGNATURE_INVALID"
	ErrCodeIngestParseFailed      ErrorCode = "INGEST_PARSE_FAILED"

	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// AsStandardError extracts a *StandardError from an error chain, if present.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if goerrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// ==========================
// 2. Error Constructors
// ==========================

// NewInputValidationError creates a non-retryable input validation error.
func NewInputValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInputValidationFailed,
		Message:   "Request input validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDealershipIDInvalidError creates a non-retryable tenant id error.
func NewDealershipIDInvalidError(dealershipID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDealershipIDInvalid,
		Message:   "Dealership id is malformed",
		Details:   fmt.Sprintf("dealershipId: %s", dealershipID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryTooLongError creates a non-retryable query length error.
func NewQueryTooLongError(length, max int) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryTooLong,
		Message:   "User query exceeds maximum length",
		Details:   fmt.Sprintf("length: %d, max: %d", length, max),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewClassificationFailedError creates a retryable classification error.
func NewClassificationFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeClassificationFailed,
		Message:   "Query classification failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewGenerationFailedError creates a retryable draft generation error.
func NewGenerationFailedError(specialist string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGenerationFailed,
		Message:   "Draft insight generation failed",
		Details:   fmt.Sprintf("specialist: %s, error: %s", specialist, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInsightRejectedError creates a non-retryable validation rejection.
func NewInsightRejectedError(taskID string, score float64) *StandardError {
	return &StandardError{
		Code:      ErrCodeInsightRejected,
		Message:   "Insight rejected by quality validation",
		Details:   fmt.Sprintf("taskId: %s, qualityScore: %.3f", taskID, score),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMaxRevisionsExceededError creates a non-retryable revision cap error.
func NewMaxRevisionsExceededError(taskID string, revisions int) *StandardError {
	return &StandardError{
		Code:      ErrCodeMaxRevisionsExceeded,
		Message:   "Revision limit reached without approval",
		Details:   fmt.Sprintf("taskId: %s, revisions: %d", taskID, revisions),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewFlowTimeoutError creates a non-retryable pipeline timeout error.
func NewFlowTimeoutError(taskID string, timeout time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeFlowTimeout,
		Message:   "Insight pipeline exceeded overall deadline; try a simpler or more narrowly scoped query",
		Details:   fmt.Sprintf("taskId: %s, timeout: %s", taskID, timeout),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTaskNotFoundError creates a non-retryable lookup error.
func NewTaskNotFoundError(taskID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTaskNotFound,
		Message:   "Task not found",
		Details:   fmt.Sprintf("taskId: %s", taskID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDangerousSQLError creates a non-retryable SQL safety error.
func NewDangerousSQLError(reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDangerousSQL,
		Message:   "Generated SQL failed safety validation",
		Details:   reason,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMissingScopeParamError creates a non-retryable tenant scoping error.
func NewMissingScopeParamError(param string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMissingScopeParam,
		Message:   "Query is not scoped to a dealership",
		Details:   fmt.Sprintf("required parameter: %s", param),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnknownDataSourceError creates a non-retryable registry lookup error.
func NewUnknownDataSourceError(source string) *StandardError {
	return &StandardError{
		Code:      ErrCodeUnknownDataSource,
		Message:   "Data source is not registered",
		Details:   fmt.Sprintf("source: %s", source),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPIIDetectedError creates a non-retryable compliance error.
func NewPIIDetectedError(kind string) *StandardError {
	return &StandardError{
		Code:      ErrCodePIIDetected,
		Message:   "Insight content contains personally identifiable information",
		Details:   fmt.Sprintf("pattern: %s", kind),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(source string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Analytical query execution error",
		Details:   fmt.Sprintf("source: %s, error: %s", source, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryTimeoutError creates a retryable query timeout error.
func NewQueryTimeoutError(source string) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryTimeout,
		Message:   "Analytical query timeout",
		Details:   fmt.Sprintf("source: %s", source),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewArchiveUnavailableError creates a retryable insight archive error.
func NewArchiveUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeArchiveUnavailable,
		Message:   "Insight archive unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewMemoryStoreFailedError creates a retryable conversation memory error.
func NewMemoryStoreFailedError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeMemoryStoreFailed,
		Message:   "Conversation memory operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewLLMTimeoutError creates a retryable model timeout error.
func NewLLMTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeLLMTimeout,
		Message:   "Model call exceeded timeout threshold",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewLLMRequestFailedError creates a retryable model request error.
func NewLLMRequestFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLLMRequestFailed,
		Message:   "Model API request error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewLLMResponseInvalidError creates a non-retryable model response error.
func NewLLMResponseInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeLLMResponseInvalid,
		Message:   "Model response failed schema validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewExternalUnavailableError creates a retryable circuit breaker error.
func NewExternalUnavailableError(service string) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalUnavailable,
		Message:   fmt.Sprintf("External service '%s' temporarily unavailable", service),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewIngestSignatureInvalidError creates a non-retryable webhook auth error.
func NewIngestSignatureInvalidError() *StandardError {
	return &StandardError{
		Code:      ErrCodeIngestSignatureInvalid,
		Message:   "Webhook signature verification failed",
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewIngestParseFailedError creates a non-retryable attachment parse error.
func NewIngestParseFailedError(attachment string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeIngestParseFailed,
		Message:   "Report attachment could not be parsed",
		Details:   fmt.Sprintf("attachment: %s, error: %s", attachment, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Retry Policy
// ==========================

// GetRetryCount returns the recommended retry count for an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeArchiveUnavailable,
		ErrCodeMemoryStoreFailed,
		ErrCodeLLMRequestFailed,
		ErrCodeNotificationSendFailed:
		return 3

	case ErrCodeQueryTimeout,
		ErrCodeClassificationFailed,
		ErrCodeGenerationFailed,
		ErrCodeExternalUnavailable:
		return 2

	case ErrCodeLLMTimeout:
		return 1

	default:
		return 0
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// ==========================
// 4. HTTP Mapping
// ==========================

// HTTPStatus maps an error code to the status returned by the API layer.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInputValidationFailed,
		ErrCodeDealershipIDInvalid,
		ErrCodeQueryTooLong,
		ErrCodeIngestParseFailed:
		return http.StatusBadRequest
	case ErrCodeIngestSignatureInvalid:
		return http.StatusUnauthorized
	case ErrCodeTaskNotFound, ErrCodeUnknownDataSource:
		return http.StatusNotFound
	case ErrCodeDangerousSQL, ErrCodeMissingScopeParam, ErrCodePIIDetected:
		return http.StatusUnprocessableEntity
	case ErrCodeFlowTimeout, ErrCodeQueryTimeout, ErrCodeLLMTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeExternalUnavailable, ErrCodeDatabaseConnectionFailed, ErrCodeArchiveUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "INPUT") || strings.Contains(codeStr, "DEALERSHIP") || strings.Contains(codeStr, "TOO_LONG"):
		return "INPUT"
	case strings.Contains(codeStr, "SQL") || strings.Contains(codeStr, "SCOPE") || strings.Contains(codeStr, "PII"):
		return "SAFETY"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "ARCHIVE") || strings.Contains(codeStr, "MEMORY"):
		return "STORAGE"
	case strings.Contains(codeStr, "LLM") || strings.Contains(codeStr, "EXTERNAL"):
		return "MODEL"
	case strings.Contains(codeStr, "INGEST"):
		return "INGEST"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	default:
		return "FLOW"
	}
}
