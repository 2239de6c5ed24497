package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeCompile           = "COMPILE_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeWorkflowNotFound  = "WORKFLOW_NOT_FOUND"
	ErrCodeUnresolvedSymbol  = "UNRESOLVED_SYMBOL"
	ErrCodePathFault         = "PATH_FAULT"
	ErrCodeTypeMismatch      = "TYPE_MISMATCH"
	ErrCodeDuplicateWorkflow = "DUPLICATE_WORKFLOW_NAME"
	ErrCodeDuplicateRule     = "DUPLICATE_RULE_NAME"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeStore             = "STORE_ERROR"
)

// EngineError is the structured error type for all rule engine operations.
type EngineError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Rule    string         `json:"rule,omitempty"`
	Cause   error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("[%s] rule %s: %s", e.Code, e.Rule, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// NewError creates a new EngineError.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates a new EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithRule attaches a rule name to the error.
func (e *EngineError) WithRule(rule string) *EngineError {
	e.Rule = rule
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

// IsCode reports whether any EngineError in err's chain carries the given code.
func IsCode(err error, code string) bool {
	var ee *EngineError
	for err != nil {
		if !errors.As(err, &ee) {
			return false
		}
		if ee.Code == code {
			return true
		}
		err = ee.Cause
	}
	return false
}
