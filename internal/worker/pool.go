// Package worker runs a fixed-size pool of consumers over a job queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/onboarding-verifier/internal/queue"
	"github.com/jonathan/onboarding-verifier/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler processes one job. Errors whose Retryable method returns true are
// redelivered with backoff; every other error dead-letters the job.
type Handler func(ctx context.Context, job types.ProcessingJob) error

// ExhaustedFunc is called after a job used its last attempt.
type ExhaustedFunc func(ctx context.Context, job types.ProcessingJob, err error)

// Pool pulls jobs one at a time per worker and settles each delivery.
type Pool struct {
	Size        int
	Policy      queue.RetryPolicy
	Handler     Handler
	OnExhausted ExhaustedFunc
	// JobTimeout bounds a single handler call; zero means unbounded.
	JobTimeout time.Duration
	Logger     *zap.Logger
}

// Run consumes from q until ctx is done. A job already in flight when ctx is
// cancelled runs to completion and is settled before Run returns.
func (p *Pool) Run(ctx context.Context, q queue.Queue) error {
	if p.Handler == nil {
		return errors.New("worker pool requires a handler")
	}
	size := p.Size
	if size < 1 {
		size = 1
	}
	policy := p.Policy
	if policy == (queue.RetryPolicy{}) {
		policy = queue.DefaultRetryPolicy()
	}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("invalid retry policy: %w", err)
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("system", "worker"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < size; i++ {
		deliveries, err := q.Consume(gctx)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}
		w := &worker{id: i, pool: p, policy: policy, logger: logger.With(zap.Int("worker", i))}
		g.Go(func() error {
			return w.loop(gctx, deliveries)
		})
	}

	logger.Info("worker pool started", zap.Int("size", size), zap.Int("max_attempts", policy.MaxAttempts))
	err := g.Wait()
	logger.Info("worker pool stopped")
	return err
}

type worker struct {
	id     int
	pool   *Pool
	policy queue.RetryPolicy
	logger *zap.Logger
}

func (w *worker) loop(ctx context.Context, deliveries <-chan queue.Delivery) error {
	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.process(ctx, d)
		case <-ctx.Done():
			return nil
		}
	}
}

// process runs one delivery to completion. The handler and settlement are
// detached from ctx so shutdown never abandons a half-finished job.
func (w *worker) process(ctx context.Context, d queue.Delivery) {
	job := d.Job()
	log := w.logger.With(
		zap.String("document_id", job.DocumentID.String()),
		zap.Int("attempt", job.Attempt))

	if job.Attempt > w.policy.MaxAttempts {
		w.exhaust(ctx, d, job, log)
		return
	}

	jobCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc = func() {}
	if w.pool.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(jobCtx, w.pool.JobTimeout)
	}
	started := time.Now()
	err := w.run(jobCtx, job)
	cancel()

	settleCtx := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		log.Info("job completed", zap.Duration("duration", time.Since(started)))
		if ackErr := d.Ack(settleCtx); ackErr != nil {
			log.Error("failed to ack job", zap.Error(ackErr))
		}

	case retryable(err) && !w.policy.Exhausted(job.Attempt):
		delay := w.policy.Backoff(job.Attempt)
		log.Warn("job failed; retrying",
			zap.Duration("delay", delay),
			zap.Int("max_attempts", w.policy.MaxAttempts),
			zap.Error(err))
		if retryErr := d.Retry(settleCtx, delay); retryErr != nil {
			log.Error("failed to schedule retry", zap.Error(retryErr))
		}

	case retryable(err):
		log.Error("job failed on final attempt; moving to failure sink", zap.Error(err))
		if dlErr := d.DeadLetter(settleCtx, fmt.Sprintf("exhausted %d attempts: %v", job.Attempt, err)); dlErr != nil {
			log.Error("failed to dead-letter job", zap.Error(dlErr))
		}
		if w.pool.OnExhausted != nil {
			w.pool.OnExhausted(settleCtx, job, err)
		}

	default:
		log.Error("job failed permanently; moving to failure sink", zap.Error(err))
		if dlErr := d.DeadLetter(settleCtx, err.Error()); dlErr != nil {
			log.Error("failed to dead-letter job", zap.Error(dlErr))
		}
	}
}

// exhaust dead-letters a job that arrives past its last attempt, which happens
// when earlier deliveries were lost without being settled.
func (w *worker) exhaust(ctx context.Context, d queue.Delivery, job types.ProcessingJob, log *zap.Logger) {
	settleCtx := context.WithoutCancel(ctx)
	err := fmt.Errorf("delivered %d times without completing, limit is %d", job.Attempt, w.policy.MaxAttempts)
	log.Error("job exceeded its attempt limit; moving to failure sink", zap.Error(err))
	if dlErr := d.DeadLetter(settleCtx, err.Error()); dlErr != nil {
		log.Error("failed to dead-letter job", zap.Error(dlErr))
	}
	if w.pool.OnExhausted != nil {
		w.pool.OnExhausted(settleCtx, job, err)
	}
}

// run calls the handler, converting a panic into a permanent failure.
func (w *worker) run(ctx context.Context, job types.ProcessingJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return w.pool.Handler(ctx, job)
}

func retryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}
