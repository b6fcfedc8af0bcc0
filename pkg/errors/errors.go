// SPDX-License-Identifier: Apache-2.0
// Package errors provides the typed error taxonomy of the operator
// engine. Expected conditions travel as values, never as panics.
package errors

import (
	"encoding/json"
	"fmt"
)

// Code classifies operator errors for recovery decisions and auditing.
type Code string

const (
	// CodeInternal indicates an internal engine error.
	CodeInternal Code = "INTERNAL_ERROR"

	// CodeInvalidArgs indicates action arguments failed schema validation.
	CodeInvalidArgs Code = "INVALID_ARGS"

	// CodeSkillNotFound indicates the action named an unregistered skill.
	CodeSkillNotFound Code = "SKILL_NOT_FOUND"

	// CodeDuplicateSkill indicates a registration collided with an
	// already registered skill id.
	CodeDuplicateSkill Code = "DUPLICATE_SKILL"

	// CodePermissionDenied indicates the trust gate or approval channel
	// refused the action.
	CodePermissionDenied Code = "PERMISSION_DENIED"

	// CodeExecutionFailed indicates the skill implementation threw or
	// timed out.
	CodeExecutionFailed Code = "SKILL_EXECUTION_FAILED"

	// CodeNotFound indicates a lookup target was absent. Informational
	// for lookup-class skills, not a failure.
	CodeNotFound Code = "NOT_FOUND"

	// CodeLoopDetected indicates identical failing actions repeated past
	// the configured threshold. Internal; triggers escalation.
	CodeLoopDetected Code = "LOOP_DETECTED"

	// CodeBudgetExceeded indicates the step or wall-clock budget fired.
	CodeBudgetExceeded Code = "BUDGET_EXCEEDED"

	// CodeTimeout indicates an operation exceeded its own deadline.
	CodeTimeout Code = "TIMEOUT"

	// CodeLLMError indicates a model routing call failed.
	CodeLLMError Code = "LLM_ERROR"
)

// Error is a typed error with context for auditing. It implements the
// error interface and unwraps to its cause.
type Error struct {
	Code        Code
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	payload := map[string]any{
		"code":        string(e.Code),
		"message":     e.Message,
		"recoverable": e.Recoverable,
	}
	if e.Err != nil {
		payload["cause"] = e.Err.Error()
	}
	if len(e.Context) > 0 {
		payload["context"] = e.Context
	}
	return json.Marshal(payload)
}

// New creates an Error with the given code, message, and cause.
func New(code Code, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]any),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for chaining.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// As attempts to convert an error to an *Error, wrapping unknown errors
// as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	if oe, ok := err.(*Error); ok {
		return oe
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of an error, or CodeInternal for untyped ones.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if oe, ok := err.(*Error); ok {
		return oe.Code
	}
	return CodeInternal
}
