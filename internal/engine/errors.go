package engine

import "fmt"

// ErrorKind classifies user-visible engine failures. The host maps kinds to
// presentation.
type ErrorKind string

const (
	ErrAlreadyRunning ErrorKind = "already_running"
	ErrNotRunning     ErrorKind = "not_running"
	ErrPlanNotFound   ErrorKind = "plan_not_found"
	ErrPlanEmpty      ErrorKind = "plan_empty"
	ErrValidation     ErrorKind = "validation"
	ErrInvalidState   ErrorKind = "invalid_state"
	ErrFatal          ErrorKind = "fatal"
)

// EngineError is the single user-visible failure type of the control surface.
type EngineError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind ErrorKind, format string, args ...interface{}) *EngineError {
	return &EngineError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
