// Package queue delivers ProcessingJobs to workers at least once.
//
// A delivery is held by exactly one consumer until it is settled with Ack,
// Retry or DeadLetter. Retry redelivers the job with its attempt counter
// incremented after a delay; DeadLetter moves it to a failure sink for
// manual inspection.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/jonathan/onboarding-verifier/internal/types"
)

var (
	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue closed")
	// ErrAlreadySettled is returned when a delivery is settled twice.
	ErrAlreadySettled = errors.New("delivery already settled")
)

// Delivery is one job handed to one consumer.
type Delivery interface {
	Job() types.ProcessingJob
	// Ack removes the job permanently.
	Ack(ctx context.Context) error
	// Retry makes the job visible again after delay with Attempt incremented.
	Retry(ctx context.Context, delay time.Duration) error
	// DeadLetter moves the job to the failure sink.
	DeadLetter(ctx context.Context, reason string) error
}

// Queue is a durable job queue.
type Queue interface {
	// Enqueue makes job available to consumers as its first attempt.
	Enqueue(ctx context.Context, job types.ProcessingJob) error
	// Consume returns a stream of deliveries for one consumer. The channel is
	// closed when ctx is done or the queue is closed.
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// firstAttempt resets the delivery bookkeeping of a job being enqueued.
func firstAttempt(job types.ProcessingJob, now time.Time) types.ProcessingJob {
	job.Attempt = 1
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now.UTC()
	}
	return job
}
