package core

import "fmt"

// ErrorCode classifies sync failures for callers and the retry machinery.
type ErrorCode string

const (
	CodeIntegrationDisabled ErrorCode = "INTEGRATION_DISABLED"
	CodePluginNotFound      ErrorCode = "PLUGIN_NOT_FOUND"
	CodeEntityNotSupported  ErrorCode = "ENTITY_NOT_SUPPORTED"
	CodeSyncError           ErrorCode = "SYNC_ERROR"
	CodeWebhookError        ErrorCode = "WEBHOOK_ERROR"
	CodeInvalidSignature    ErrorCode = "INVALID_SIGNATURE"
)

// SyncError carries a sync error code and retryability hint.
type SyncError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

func (e *SyncError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

// CodeValue returns the string error code for log/result integration.
func (e *SyncError) CodeValue() string { return string(e.Code) }

// RetryableStatus indicates if the operation can be retried.
func (e *SyncError) RetryableStatus() bool { return e.Retryable }

// CodedError exposes sync error metadata without depending on the concrete type.
type CodedError interface {
	error
	CodeValue() string
	RetryableStatus() bool
}

// NewSyncError builds a SyncError with the default retryability for its code:
// only SYNC_ERROR is assumed transient; everything else needs operator action.
func NewSyncError(code ErrorCode, message string) *SyncError {
	return &SyncError{
		Code:      code,
		Message:   message,
		Retryable: code == CodeSyncError,
	}
}

// Errorf builds a SyncError with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *SyncError {
	return NewSyncError(code, fmt.Sprintf(format, args...))
}
