package verification

import (
	"context"
	"errors"
	"fmt"
)

// Stages at which an infrastructure failure can interrupt a job.
const (
	StageFetch   = "fetch"
	StageAnalyze = "analyze"
	StagePersist = "persist"
)

// InfraError is a transient failure unrelated to document content.
// The queue retries jobs that fail with it.
type InfraError struct {
	Stage   string
	Message string
	Cause   error
}

func (e *InfraError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *InfraError) Unwrap() error {
	return e.Cause
}

// Retryable reports that the job should be redelivered.
func (e *InfraError) Retryable() bool {
	return true
}

// InvalidJobError means the job itself cannot be processed; redelivering it would fail the same way.
type InvalidJobError struct {
	Cause error
}

func (e *InvalidJobError) Error() string {
	return fmt.Sprintf("invalid processing job: %v", e.Cause)
}

func (e *InvalidJobError) Unwrap() error {
	return e.Cause
}

// Retryable reports that the job must not be redelivered.
func (e *InvalidJobError) Retryable() bool {
	return false
}

// IsRetryable reports whether err, or anything it wraps, asks to be retried.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
