package contract

import (
	"context"
	"errors"
)

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")

	ErrUnknownCapability    = errors.New("unknown capability")
	ErrCapabilityExecution  = errors.New("capability execution failed")
	ErrInvalidArguments     = errors.New("invalid capability arguments")
	ErrSingleWriteViolation = errors.New("only one write is allowed per turn")
	ErrRecordNotFound       = errors.New("record not found")
	ErrReasoning            = errors.New("reasoning failed")
	ErrNonConvergence       = errors.New("workflow did not converge")
	ErrPersistence          = errors.New("conversation state persistence failed")
	ErrAmbiguousIntent      = errors.New("ambiguous intent")
	ErrThreadBusy           = errors.New("thread has a turn in progress")
)

// ErrorCode is the taxonomy code attached to failed results and turn errors.
type ErrorCode string

const (
	CodeUnknownCapability    ErrorCode = "UNKNOWN_CAPABILITY"
	CodeCapabilityExecution  ErrorCode = "CAPABILITY_EXECUTION_ERROR"
	CodeValidation           ErrorCode = "VALIDATION_ERROR"
	CodeNonConvergence       ErrorCode = "NON_CONVERGENCE"
	CodePersistence          ErrorCode = "PERSISTENCE_ERROR"
	CodeInvalidArguments     ErrorCode = "INVALID_ARGUMENTS"
	CodeTimeout              ErrorCode = "TIMEOUT"
	CodeSingleWriteViolation ErrorCode = "SINGLE_WRITE_VIOLATION"
	CodeReasoning            ErrorCode = "REASONING_ERROR"
	CodeAmbiguousIntent      ErrorCode = "AMBIGUOUS_INTENT"
	CodeRecordNotFound       ErrorCode = "RECORD_NOT_FOUND"
)

// CodeOf maps an error chain to its taxonomy code.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrUnknownCapability):
		return CodeUnknownCapability
	case errors.Is(err, ErrInvalidArguments):
		return CodeInvalidArguments
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrSingleWriteViolation):
		return CodeSingleWriteViolation
	case errors.Is(err, ErrRecordNotFound):
		return CodeRecordNotFound
	case errors.Is(err, ErrCapabilityExecution):
		return CodeCapabilityExecution
	case errors.Is(err, ErrNonConvergence):
		return CodeNonConvergence
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	case errors.Is(err, ErrAmbiguousIntent):
		return CodeAmbiguousIntent
	case errors.Is(err, ErrReasoning), errors.Is(err, ErrModelInvoke), errors.Is(err, ErrSchemaViolation):
		return CodeReasoning
	default:
		return CodeCapabilityExecution
	}
}

// TurnError is returned alongside a readable answer when a turn fails as a whole.
type TurnError struct {
	Code ErrorCode
	Err  error
}

func (e *TurnError) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Err.Error()
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

func NewTurnError(err error) *TurnError {
	if err == nil {
		return nil
	}
	var te *TurnError
	if errors.As(err, &te) {
		return te
	}
	return &TurnError{Code: CodeOf(err), Err: err}
}
