package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jonathan/onboarding-verifier/internal/types"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Message headers
const (
	HeaderAttempt       = "x-attempt"
	HeaderFailureReason = "x-failure-reason"
)

// retryQueueTTL expires idle delay queues so one-off delays do not accumulate.
const retryQueueTTL = 10 * time.Minute

// RabbitQueue is a Queue on RabbitMQ.
//
// Topology, for a queue named N:
//   - N: durable work queue
//   - N.retry.<ms>: one delay queue per backoff delay; messages expire after
//     <ms> and are dead-lettered back into N
//   - N.failed: failure sink
//
// Each consumer gets its own channel with prefetch 1 so a held message is
// invisible to other consumers until settled.
type RabbitQueue struct {
	conn   *amqp.Connection
	name   string
	logger *zap.Logger

	pubMu sync.Mutex
	pub   *amqp.Channel

	mu        sync.Mutex
	declared  map[string]bool
	consumers []*amqp.Channel
	closed    bool
}

// NewRabbitQueue connects to url and declares the work and failure queues.
func NewRabbitQueue(url, name string, logger *zap.Logger) (*RabbitQueue, error) {
	if name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a RabbitMQ channel: %w", err)
	}

	q := &RabbitQueue{
		conn:     conn,
		name:     name,
		logger:   logger.With(zap.String("system", "queue"), zap.String("queue", name)),
		pub:      pub,
		declared: map[string]bool{},
	}

	for _, queueName := range []string{name, FailedQueueName(name)} {
		if _, err := pub.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to declare %s queue: %w", queueName, err)
		}
	}

	return q, nil
}

// FailedQueueName returns the failure sink for a work queue.
func FailedQueueName(name string) string {
	return name + ".failed"
}

// RetryQueueName returns the delay queue holding retries for delay.
func RetryQueueName(name string, delay time.Duration) string {
	return fmt.Sprintf("%s.retry.%d", name, delay.Milliseconds())
}

func retryQueueArgs(name string, delay time.Duration) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": name,
		"x-message-ttl":             delay.Milliseconds(),
		"x-expires":                 (delay + retryQueueTTL).Milliseconds(),
	}
}

// declareRetryQueue declares the delay queue for delay once per process.
func (q *RabbitQueue) declareRetryQueue(delay time.Duration) (string, error) {
	queueName := RetryQueueName(q.name, delay)

	q.mu.Lock()
	known := q.declared[queueName]
	q.mu.Unlock()
	if known {
		return queueName, nil
	}

	q.pubMu.Lock()
	_, err := q.pub.QueueDeclare(queueName, true, false, false, false, retryQueueArgs(q.name, delay))
	q.pubMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to declare %s queue: %w", queueName, err)
	}

	q.mu.Lock()
	q.declared[queueName] = true
	q.mu.Unlock()
	return queueName, nil
}

func (q *RabbitQueue) publish(ctx context.Context, routingKey string, job types.ProcessingJob, headers amqp.Table) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if headers == nil {
		headers = amqp.Table{}
	}
	headers[HeaderAttempt] = int32(job.Attempt)

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	err = q.pub.PublishWithContext(ctx, "", routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		Headers:      headers,
		DeliveryMode: amqp.Persistent,
		MessageId:    job.DocumentID.String(),
		Timestamp:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", routingKey, err)
	}
	return nil
}

// Enqueue implements Queue.
func (q *RabbitQueue) Enqueue(ctx context.Context, job types.ProcessingJob) error {
	return q.publish(ctx, q.name, firstAttempt(job, time.Now()), nil)
}

// Consume implements Queue.
func (q *RabbitQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	q.mu.Unlock()

	ch, err := q.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	msgs, err := ch.Consume(q.name, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume from %s queue: %w", q.name, err)
	}

	q.mu.Lock()
	q.consumers = append(q.consumers, ch)
	q.mu.Unlock()

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				job, err := decodeJob(msg.Body, msg.Headers, msg.Redelivered)
				if err != nil {
					q.rejectMalformed(ctx, msg, err)
					continue
				}
				if msg.Redelivered && q.recount(ctx, msg, job) {
					continue
				}
				select {
				case out <- &rabbitDelivery{q: q, msg: msg, job: job}:
				case <-ctx.Done():
					// Unsettled; the broker redelivers it once the channel closes.
					_ = msg.Nack(false, true)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (q *RabbitQueue) rejectMalformed(ctx context.Context, msg amqp.Delivery, cause error) {
	q.logger.Error("malformed job message; moving to failure sink", zap.Error(cause))

	headers := amqp.Table{HeaderFailureReason: "malformed message: " + cause.Error()}
	q.pubMu.Lock()
	err := q.pub.PublishWithContext(context.WithoutCancel(ctx), "", FailedQueueName(q.name), false, false, amqp.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp.Persistent,
	})
	q.pubMu.Unlock()
	if err != nil {
		q.logger.Error("failed to move malformed message", zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}
	_ = msg.Ack(false)
}

// recount republishes a broker redelivery with its attempt already advanced
// and acks the original, so a consumer that dies mid-job still uses up an
// attempt. It reports false when the job should be handled from msg instead.
func (q *RabbitQueue) recount(ctx context.Context, msg amqp.Delivery, job types.ProcessingJob) bool {
	q.logger.Warn("job redelivered by broker; counting the lost attempt",
		zap.String("document_id", job.DocumentID.String()),
		zap.Int("attempt", job.Attempt))

	if err := q.publish(context.WithoutCancel(ctx), q.name, job, nil); err != nil {
		q.logger.Error("failed to republish redelivered job", zap.Error(err))
		return false
	}
	if err := msg.Ack(false); err != nil {
		q.logger.Error("failed to ack redelivered job", zap.Error(err))
	}
	return true
}

// decodeJob parses a message body, preferring the attempt header over the body.
// A broker redelivery means the previous attempt ended without being settled.
func decodeJob(body []byte, headers amqp.Table, redelivered bool) (types.ProcessingJob, error) {
	var job types.ProcessingJob
	if err := json.Unmarshal(body, &job); err != nil {
		return types.ProcessingJob{}, fmt.Errorf("failed to parse job: %w", err)
	}
	if attempt, ok := attemptFromHeaders(headers); ok {
		job.Attempt = attempt
	}
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	if redelivered {
		job.Attempt++
	}
	return job, nil
}

func attemptFromHeaders(headers amqp.Table) (int, bool) {
	if headers == nil {
		return 0, false
	}
	switch v := headers[HeaderAttempt].(type) {
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case int:
		return v, true
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	default:
		return 0, false
	}
}

// Close implements Queue.
func (q *RabbitQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	consumers := q.consumers
	q.consumers = nil
	q.mu.Unlock()

	for _, ch := range consumers {
		_ = ch.Close()
	}
	if err := q.pub.Close(); err != nil {
		q.conn.Close()
		return fmt.Errorf("failed to close channel: %w", err)
	}
	if err := q.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

type rabbitDelivery struct {
	q       *RabbitQueue
	msg     amqp.Delivery
	job     types.ProcessingJob
	mu      sync.Mutex
	settled bool
}

func (d *rabbitDelivery) Job() types.ProcessingJob {
	return d.job
}

func (d *rabbitDelivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return ErrAlreadySettled
	}
	d.settled = true
	return nil
}

func (d *rabbitDelivery) Ack(ctx context.Context) error {
	if err := d.settle(); err != nil {
		return err
	}
	return d.msg.Ack(false)
}

// Retry republishes the job to the delay queue and then acks the original, so
// a crash in between duplicates the job instead of losing it.
func (d *rabbitDelivery) Retry(ctx context.Context, delay time.Duration) error {
	if err := d.settle(); err != nil {
		return err
	}

	next := d.job
	next.Attempt++

	routingKey := d.q.name
	if delay > 0 {
		queueName, err := d.q.declareRetryQueue(delay)
		if err != nil {
			_ = d.msg.Nack(false, true)
			return err
		}
		routingKey = queueName
	}

	if err := d.q.publish(ctx, routingKey, next, nil); err != nil {
		_ = d.msg.Nack(false, true)
		return err
	}
	return d.msg.Ack(false)
}

func (d *rabbitDelivery) DeadLetter(ctx context.Context, reason string) error {
	if err := d.settle(); err != nil {
		return err
	}
	if err := d.q.publish(ctx, FailedQueueName(d.q.name), d.job, amqp.Table{HeaderFailureReason: reason}); err != nil {
		_ = d.msg.Nack(false, true)
		return err
	}
	return d.msg.Ack(false)
}
