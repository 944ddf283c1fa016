package utils

import (
	"errors"
	"fmt"
)

// ValidationError represents an error occurring during data validation.
type ValidationError struct {
	Message string
}

// Error returns the error message string.
func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new ValidationError with a specific message.
func NewValidationError(message string) error {
	return &ValidationError{
		Message: message,
	}
}

// NewValidationErrorf creates a new ValidationError with a formatted message.
func NewValidationErrorf(format string, args ...interface{}) error {
	return &ValidationError{
		Message: fmt.Sprintf(format, args...),
	}
}

// Stage identifies the pipeline step an error came from.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageCompute  Stage = "compute"
	StageEvaluate Stage = "evaluate"
	StageNotify   Stage = "notify"
)

// Kind classifies how the caller should react to a stage failure.
type Kind string

const (
	// KindTransient means skip this tick and try again on the next one.
	KindTransient Kind = "transient"
	// KindNotReady means there is not enough data yet; skip silently.
	KindNotReady Kind = "not_ready"
	// KindFatal stops the process.
	KindFatal Kind = "fatal"
)

// ErrNoData is returned by fetchers for empty or unusable responses.
var ErrNoData = errors.New("no data")

// StageError is the typed outcome of a failed pipeline stage.
type StageError struct {
	Stage  Stage
	Kind   Kind
	Symbol string
	Err    error
}

// Error implements error.
func (e *StageError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s %s [%s]: %v", e.Stage, e.Kind, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient failure of stage.
func Transient(stage Stage, symbol string, err error) error {
	return &StageError{Stage: stage, Kind: KindTransient, Symbol: symbol, Err: err}
}

// NotReady wraps err as a not-ready outcome of stage.
func NotReady(stage Stage, symbol string, err error) error {
	return &StageError{Stage: stage, Kind: KindNotReady, Symbol: symbol, Err: err}
}

// Fatal wraps err as a fatal failure of stage.
func Fatal(stage Stage, err error) error {
	return &StageError{Stage: stage, Kind: KindFatal, Err: err}
}

// KindOf returns the Kind of err. Untyped errors are treated as transient.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

// StageOf returns the stage recorded in err, or an empty Stage.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// SymbolOf returns the symbol recorded in err, or "".
func SymbolOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Symbol
	}
	return ""
}

// IsNotReady reports whether err is a not-ready outcome.
func IsNotReady(err error) bool {
	return err != nil && KindOf(err) == KindNotReady
}

// IsFatal reports whether err must stop the process.
func IsFatal(err error) bool {
	return err != nil && KindOf(err) == KindFatal
}
