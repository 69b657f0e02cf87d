package stages

import (
	"errors"
	"fmt"
)

var (
	// ErrPrecondition marks a missing task or temp file.
	ErrPrecondition = errors.New("precondition failed")
	// ErrEncoding marks unsupported or corrupt input media.
	ErrEncoding = errors.New("encoding error")
	// ErrResourceExhausted marks a transient device/memory exhaustion.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrRuntimeFailure marks a transient inference failure.
	ErrRuntimeFailure = errors.New("runtime failure")
	// ErrEmptyResult marks a stage that succeeded but produced nothing usable.
	ErrEmptyResult = errors.New("empty result")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrResourceExhausted) || errors.Is(err, ErrRuntimeFailure)
}

// StageError is a stage-aware failure.
type StageError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
