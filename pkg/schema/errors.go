package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeNetwork           = "NETWORK_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeUnknownNodeType   = "UNKNOWN_NODE_TYPE"
	ErrCodeBadReference      = "BAD_REFERENCE"
	ErrCodeBadType           = "BAD_TYPE"
	ErrCodeNoMatchingTrigger = "NO_MATCHING_TRIGGER"
	ErrCodeMaxHopsExceeded   = "MAX_HOPS_EXCEEDED"
	ErrCodeDeliveryFailed    = "DELIVERY_FAILED"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeStopped           = "STOPPED"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
)

// structuralCodes are graph or type errors that no retry can fix.
var structuralCodes = map[string]bool{
	ErrCodeUnknownNodeType: true,
	ErrCodeBadReference:    true,
	ErrCodeBadType:         true,
	ErrCodeMaxHopsExceeded: true,
}

// EngineError is the structured error type used across the runtime.
type EngineError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// IsStructural reports whether the error describes a broken graph or a type
// mismatch rather than a transient failure.
func (e *EngineError) IsStructural() bool {
	return structuralCodes[e.Code]
}

// NewError creates a new EngineError.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates a new EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *EngineError) WithNode(nodeID string) *EngineError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first EngineError in err's chain, or "".
func CodeOf(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// IsStructural reports whether err carries a structural EngineError.
func IsStructural(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.IsStructural()
	}
	return false
}
