package queue

import (
	"context"
	"sync"
	"time"

	"github.com/jonathan/onboarding-verifier/internal/types"
)

// FailedJob is a job moved to the failure sink.
type FailedJob struct {
	Job    types.ProcessingJob
	Reason string
}

type scheduled struct {
	job types.ProcessingJob
	at  time.Time
}

// MemoryQueue is an in-process Queue for tests and single-binary local runs.
// Jobs do not survive a restart.
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []scheduled
	inFlight int
	acked    []types.ProcessingJob
	failed   []FailedJob
	retries  []time.Duration
	closed   bool
	// changed is closed and replaced whenever pending gains a job.
	changed chan struct{}
	done    chan struct{}
	now     func() time.Time
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		changed: make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, job types.ProcessingJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.schedule(firstAttempt(job, q.now()), 0)
}

func (q *MemoryQueue) schedule(job types.ProcessingJob, delay time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.pending = append(q.pending, scheduled{job: job, at: q.now().Add(delay)})
	q.broadcastLocked()
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// take removes the first due job. When nothing is due it reports how long
// until the next one is (-1 when the queue is empty) and a channel closed on
// the next enqueue.
func (q *MemoryQueue) take() (types.ProcessingJob, bool, time.Duration, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	next := time.Duration(-1)
	for i, s := range q.pending {
		if !s.at.After(now) {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.inFlight++
			return s.job, true, 0, nil
		}
		if wait := s.at.Sub(now); next < 0 || wait < next {
			next = wait
		}
	}
	return types.ProcessingJob{}, false, next, q.changed
}

// putBack returns a job that was taken but never handed to a consumer.
func (q *MemoryQueue) putBack(job types.ProcessingJob) {
	q.mu.Lock()
	q.inFlight--
	q.pending = append([]scheduled{{job: job, at: q.now()}}, q.pending...)
	if !q.closed {
		q.broadcastLocked()
	}
	q.mu.Unlock()
}

// Consume implements Queue.
func (q *MemoryQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			job, ok, wait, changed := q.take()
			if ok {
				select {
				case out <- &memoryDelivery{q: q, job: job}:
					continue
				case <-ctx.Done():
					q.putBack(job)
					return
				case <-q.done:
					q.putBack(job)
					return
				}
			}

			var (
				timer *time.Timer
				due   <-chan time.Time
			)
			if wait >= 0 {
				timer = time.NewTimer(wait)
				due = timer.C
			}
			stopped := false
			select {
			case <-changed:
			case <-due:
			case <-ctx.Done():
				stopped = true
			case <-q.done:
				stopped = true
			}
			if timer != nil {
				timer.Stop()
			}
			if stopped {
				return
			}
		}
	}()
	return out, nil
}

// Close implements Queue. Pending jobs are dropped.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	return nil
}

// Acked returns every acknowledged job in settle order.
func (q *MemoryQueue) Acked() []types.ProcessingJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]types.ProcessingJob(nil), q.acked...)
}

// Failed returns the contents of the failure sink.
func (q *MemoryQueue) Failed() []FailedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]FailedJob(nil), q.failed...)
}

// RetryDelays returns the delay of every Retry call in order.
func (q *MemoryQueue) RetryDelays() []time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]time.Duration(nil), q.retries...)
}

// Len returns the number of jobs waiting or held by consumers.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + q.inFlight
}

type memoryDelivery struct {
	q       *MemoryQueue
	job     types.ProcessingJob
	mu      sync.Mutex
	settled bool
}

func (d *memoryDelivery) Job() types.ProcessingJob {
	return d.job
}

func (d *memoryDelivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return ErrAlreadySettled
	}
	d.settled = true
	return nil
}

func (d *memoryDelivery) Ack(ctx context.Context) error {
	if err := d.settle(); err != nil {
		return err
	}
	d.q.mu.Lock()
	d.q.inFlight--
	d.q.acked = append(d.q.acked, d.job)
	d.q.mu.Unlock()
	return nil
}

func (d *memoryDelivery) Retry(ctx context.Context, delay time.Duration) error {
	if err := d.settle(); err != nil {
		return err
	}
	next := d.job
	next.Attempt++

	d.q.mu.Lock()
	d.q.inFlight--
	d.q.retries = append(d.q.retries, delay)
	d.q.mu.Unlock()
	return d.q.schedule(next, delay)
}

func (d *memoryDelivery) DeadLetter(ctx context.Context, reason string) error {
	if err := d.settle(); err != nil {
		return err
	}
	d.q.mu.Lock()
	d.q.inFlight--
	d.q.failed = append(d.q.failed, FailedJob{Job: d.job, Reason: reason})
	d.q.mu.Unlock()
	return nil
}
