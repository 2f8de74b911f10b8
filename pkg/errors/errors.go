// Package errors provides a structured error system for dashcache with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for dashcache operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"
	ErrCodeUnknownProfile   ErrorCode = "UNKNOWN_PROFILE"
	ErrCodeUnknownTest      ErrorCode = "UNKNOWN_TEST"

	// Fetch Errors
	ErrCodeFetchFailed   ErrorCode = "FETCH_FAILED"
	ErrCodeFetchTimeout  ErrorCode = "FETCH_TIMEOUT"
	ErrCodeFetchCanceled ErrorCode = "FETCH_CANCELED"
	ErrCodeRefreshFailed ErrorCode = "REFRESH_FAILED"
	ErrCodePreloadFailed ErrorCode = "PRELOAD_FAILED"

	// Cache Errors
	ErrCodeCacheFull    ErrorCode = "CACHE_FULL"
	ErrCodeCacheKey     ErrorCode = "CACHE_KEY"
	ErrCodeCacheEvicted ErrorCode = "CACHE_EVICTED"

	// Reporting Errors
	ErrCodeReportFailed       ErrorCode = "REPORT_FAILED"
	ErrCodeExportFormat       ErrorCode = "EXPORT_FORMAT"
	ErrCodeExportFailed       ErrorCode = "EXPORT_FAILED"
	ErrCodeNotificationFailed ErrorCode = "REPORT_NOTIFICATION"
	ErrCodeDeliveryFailed     ErrorCode = "REPORT_DELIVERY"
	ErrCodeCircuitOpen        ErrorCode = "REPORT_CIRCUIT_OPEN"

	// State Management Errors
	ErrCodeAlreadyStarted     ErrorCode = "ALREADY_STARTED"
	ErrCodeNotInitialized     ErrorCode = "NOT_INITIALIZED"
	ErrCodeInvalidState       ErrorCode = "INVALID_STATE"
	ErrCodeShutdownInProgress ErrorCode = "SHUTDOWN_IN_PROGRESS"
	ErrCodeComponentStopped   ErrorCode = "COMPONENT_STOPPED"

	// Internal System Errors
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
	ErrCodeUnknownError   ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFetch         ErrorCategory = "fetch"
	CategoryCache         ErrorCategory = "cache"
	CategoryReporting     ErrorCategory = "reporting"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// DashError represents a structured error with context and metadata.
type DashError struct {
	// Core error information
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component  string `json:"component"`
	Operation  string `json:"operation,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`

	// Error handling hints
	Retryable bool `json:"retryable"`

	// Debug information
	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *DashError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Component != "" {
		if e.Operation != "" {
			msg = fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, msg)
		} else {
			msg = fmt.Sprintf("[%s] %s", e.Component, msg)
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *DashError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *DashError) Is(target error) bool {
	if dashErr, ok := target.(*DashError); ok {
		return e.Code == dashErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *DashError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}

	if e.ResourceID != "" {
		parts = append(parts, fmt.Sprintf("ResourceID=%s", e.ResourceID))
	}

	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}

	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("DashError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *DashError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new error with default values.
func NewError(code ErrorCode, message string) *DashError {
	return &DashError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// Wrap creates a new error around cause.
func Wrap(cause error, code ErrorCode, message string) *DashError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "MISSING_CONFIG") ||
		strings.HasPrefix(codeStr, "CONFIG_") || strings.HasPrefix(codeStr, "UNKNOWN_PROFILE") ||
		strings.HasPrefix(codeStr, "UNKNOWN_TEST"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "FETCH_") || strings.HasPrefix(codeStr, "REFRESH_") ||
		strings.HasPrefix(codeStr, "PRELOAD_"):
		return CategoryFetch
	case strings.HasPrefix(codeStr, "CACHE_"):
		return CategoryCache
	case strings.HasPrefix(codeStr, "REPORT_") || strings.HasPrefix(codeStr, "EXPORT_"):
		return CategoryReporting
	case strings.HasPrefix(codeStr, "ALREADY_") || strings.HasPrefix(codeStr, "NOT_INITIALIZED") ||
		strings.HasPrefix(codeStr, "INVALID_STATE") || strings.HasPrefix(codeStr, "SHUTDOWN_") ||
		strings.HasPrefix(codeStr, "COMPONENT_"):
		return CategoryState
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeFetchFailed:    true,
		ErrCodeFetchTimeout:   true,
		ErrCodeRefreshFailed:  true,
		ErrCodePreloadFailed:  true,
		ErrCodeExportFailed:   true,
		ErrCodeDeliveryFailed: true,
		ErrCodeInternalError:  true,
	}
	return retryableCodes[code]
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:]) // +2 to skip this function and the caller
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *DashError) WithContext(key, value string) *DashError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *DashError) WithDetail(key string, value interface{}) *DashError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *DashError) WithComponent(component string) *DashError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *DashError) WithOperation(operation string) *DashError {
	e.Operation = operation
	return e
}

// WithResource sets the resource the error belongs to
func (e *DashError) WithResource(resourceID string) *DashError {
	e.ResourceID = resourceID
	return e
}

// WithCause sets the underlying cause
func (e *DashError) WithCause(cause error) *DashError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *DashError) WithStack() *DashError {
	e.Stack = CaptureStack(2)
	return e
}

// GetRecommendation returns a recommendation for fixing the error
func (e *DashError) GetRecommendation() string {
	recommendations := map[ErrorCode]string{
		ErrCodeFetchFailed: "The resource fetch function returned an error. " +
			"Check the upstream data source; cached data, if any, is still being served.",
		ErrCodeFetchTimeout: "The fetch exceeded the caller's deadline. " +
			"Consider a longer context deadline or a faster data source.",
		ErrCodeRefreshFailed: "A background refresh failed. " +
			"The previous entry remains in the cache until it expires.",
		ErrCodeUnknownProfile: "The requested budget profile is not registered. " +
			"Register it with AddProfile or use development or production.",
		ErrCodeUnknownTest: "No A/B test is configured with this id. " +
			"Call Setup before Analyze.",
		ErrCodeInvalidConfig: "Configuration validation failed. " +
			"Check your configuration file syntax and required parameters.",
		ErrCodeExportFormat: "Unsupported export format. Use json or csv.",
		ErrCodeDeliveryFailed: "The report webhook rejected the delivery or was unreachable. " +
			"Check reporting.webhook.url and the receiving service.",
		ErrCodeCircuitOpen: "Deliveries are paused after repeated webhook failures. " +
			"They resume automatically once the cooldown passes.",
		ErrCodeCacheFull: "The cache reached its entry limit. " +
			"Increase cache.max_entries or lower resource TTLs.",
	}

	if rec, exists := recommendations[e.Code]; exists {
		return rec
	}

	return "Please check the error message for details and consult the documentation."
}

// DetailedDiagnostic returns a comprehensive diagnostic message
func (e *DashError) DetailedDiagnostic() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Error: %s", e.Message))
	parts = append(parts, fmt.Sprintf("Code: %s", e.Code))
	parts = append(parts, fmt.Sprintf("Category: %s", e.Category))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component: %s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation: %s", e.Operation))
	}

	if e.ResourceID != "" {
		parts = append(parts, fmt.Sprintf("Resource: %s", e.ResourceID))
	}

	if len(e.Context) > 0 {
		parts = append(parts, "\nContext:")
		for k, v := range e.Context {
			parts = append(parts, fmt.Sprintf("  %s: %s", k, v))
		}
	}

	if len(e.Details) > 0 {
		parts = append(parts, "\nDetails:")
		for k, v := range e.Details {
			parts = append(parts, fmt.Sprintf("  %s: %v", k, v))
		}
	}

	parts = append(parts, "\nRecommendation:")
	parts = append(parts, "  "+e.GetRecommendation())

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("\nUnderlying cause: %s", e.Cause.Error()))
	}

	return strings.Join(parts, "\n")
}

// HasCode reports whether err, or any error it wraps, is a DashError with code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if de, ok := err.(*DashError); ok && de.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
