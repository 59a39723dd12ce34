package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning  = errors.New("job is already running")
	ErrJobNotFound     = errors.New("job not found")
	ErrMappingNotFound = errors.New("mapping not found")
	ErrLogFinalized    = errors.New("execution log already finalized")
)

// ConfigurationError reports a job definition that can never succeed as is.
type ConfigurationError struct {
	JobID  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.JobID != "" {
		msg += " for job " + e.JobID
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func NewConfigurationError(jobID, reason string, err error) *ConfigurationError {
	return &ConfigurationError{JobID: jobID, Reason: reason, Err: err}
}

type SourceReadError struct {
	Source string
	Table  string
	Err    error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("read %s from source %s: %v", e.Table, e.Source, e.Err)
}

func (e *SourceReadError) Unwrap() error { return e.Err }

type SinkWriteError struct {
	Target string
	Op     string
	Err    error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

// CellCoercionWarning describes a value that kept its original form because
// coercion to the target type failed. It is reported, never returned as an error.
type CellCoercionWarning struct {
	Row    int
	Field  string
	Target string
	Value  interface{}
	Cause  string
}

func (w CellCoercionWarning) String() string {
	return fmt.Sprintf("row %d field %s: cannot coerce %v to %s: %s", w.Row, w.Field, w.Value, w.Target, w.Cause)
}

// IsRetryable reports whether a failed attempt may be retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var cfgErr *ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return false
	case errors.Is(err, ErrAlreadyRunning),
		errors.Is(err, ErrJobNotFound),
		errors.Is(err, ErrMappingNotFound),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
