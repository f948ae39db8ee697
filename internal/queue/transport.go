package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/infrastructure/logger"
	"github.com/bnema/transcoder/internal/infrastructure/metrics"
)

const (
	// MaxPriority bounds the priority accepted by Enqueue.
	MaxPriority = 4096

	defaultAttempts     = 3
	defaultBackoff      = 2 * time.Second
	defaultPollInterval = 500 * time.Millisecond
	claimErrorDelay     = 2 * time.Second
)

// Handler processes one payload. A non-nil error asks the transport to
// redeliver the payload later.
type Handler func(ctx context.Context, payload domain.Payload) error

type RetryPolicy struct {
	Attempts int
	Base     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: defaultAttempts, Base: defaultBackoff}
}

// Backoff returns the delay before the delivery following the given failed
// attempt: Base, 2*Base, 4*Base, ...
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.Base * time.Duration(1<<(attempt-1))
}

type Options struct {
	// Consumer identifies this process; entries it leaves active are
	// recovered when a consumer with the same id starts again.
	Consumer     string
	Policy       RetryPolicy
	PollInterval time.Duration
}

type Transport struct {
	broker   Broker
	consumer string
	policy   RetryPolicy
	poll     time.Duration
}

func New(broker Broker, opts Options) *Transport {
	if opts.Policy.Attempts < 1 {
		opts.Policy.Attempts = defaultAttempts
	}
	if opts.Policy.Base <= 0 {
		opts.Policy.Base = defaultBackoff
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Consumer == "" {
		opts.Consumer = "worker-1"
	}
	return &Transport{
		broker:   broker,
		consumer: opts.Consumer,
		policy:   opts.Policy,
		poll:     opts.PollInterval,
	}
}

func (t *Transport) Enqueue(ctx context.Context, payload domain.Payload, priority int) error {
	if priority < domain.MinPriority || priority > MaxPriority {
		return fmt.Errorf("%w: %d not in [%d,%d]", domain.ErrInvalidPriority, priority, domain.MinPriority, MaxPriority)
	}
	if payload.JobID == "" {
		return fmt.Errorf("enqueue: empty job id")
	}

	id, err := t.broker.Push(ctx, Message{Payload: payload, Priority: priority})
	if err != nil {
		return fmt.Errorf("%w: enqueue job %s: %v", domain.ErrTransportUnavailable, payload.JobID, err)
	}

	metrics.QueueEnqueued.Inc()
	logger.Debug.Printf("enqueued job %s as %s (priority=%d)", payload.JobID, id, priority)
	return nil
}

func (t *Transport) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	return t.broker.Dead(ctx, limit)
}

// Consume hands payloads to h with at most concurrency invocations running at
// once. It blocks until ctx is done, then waits for in-flight handlers, which
// are not cancelled.
func (t *Transport) Consume(ctx context.Context, concurrency int, h Handler) error {
	if concurrency < 1 {
		concurrency = 1
	}

	if n, err := t.broker.Recover(ctx, t.consumer); err != nil {
		logger.Error.Printf("consumer %s: recover stalled deliveries: %v", t.consumer, err)
	} else if n > 0 {
		logger.Info.Printf("consumer %s: re-queued %d stalled deliveries", t.consumer, n)
	}

	handlerCtx := context.WithoutCancel(ctx)
	sem := semaphore.NewWeighted(int64(concurrency))

	logger.Info.Printf("consumer %s: consuming with concurrency %d", t.consumer, concurrency)
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		d, err := t.broker.Claim(ctx, t.consumer)
		if err != nil || d == nil {
			sem.Release(1)
			delay := t.poll
			if err != nil && ctx.Err() == nil {
				logger.Error.Printf("consumer %s: claim: %v", t.consumer, err)
				delay = claimErrorDelay
			}
			if !sleep(ctx, delay) {
				break
			}
			continue
		}

		metrics.QueueInFlight.Inc()
		go func() {
			defer sem.Release(1)
			defer metrics.QueueInFlight.Dec()
			t.deliver(handlerCtx, d, h)
		}()
	}

	// Wait for in-flight deliveries by taking every slot.
	_ = sem.Acquire(context.Background(), int64(concurrency))
	logger.Info.Printf("consumer %s: stopped", t.consumer)
	return nil
}

func (t *Transport) deliver(ctx context.Context, d *Delivery, h Handler) {
	err := invoke(ctx, d, h)
	if err == nil {
		if ackErr := t.broker.Ack(ctx, d.ID); ackErr != nil {
			logger.Error.Printf("ack delivery %s (job %s): %v", d.ID, d.Payload.JobID, ackErr)
		}
		metrics.QueueDeliveries.WithLabelValues(metrics.DeliveryAck).Inc()
		return
	}

	msg := domain.TruncateError(err.Error())
	if d.Attempt < t.policy.Attempts {
		delay := t.policy.Backoff(d.Attempt)
		if rErr := t.broker.Retry(ctx, d.ID, time.Now().Add(delay), msg); rErr != nil {
			logger.Error.Printf("schedule retry of delivery %s: %v", d.ID, rErr)
		}
		metrics.QueueDeliveries.WithLabelValues(metrics.DeliveryRetry).Inc()
		logger.Warn.Printf("delivery %s (job %s) attempt %d/%d failed, retrying in %s: %s",
			d.ID, d.Payload.JobID, d.Attempt, t.policy.Attempts, delay, logger.SanitizeForLog(msg))
		return
	}

	if bErr := t.broker.Bury(ctx, d.ID, msg); bErr != nil {
		logger.Error.Printf("bury delivery %s: %v", d.ID, bErr)
	}
	metrics.QueueDeliveries.WithLabelValues(metrics.DeliveryDead).Inc()
	logger.Error.Printf("delivery %s (job %s) failed after %d attempts: %s",
		d.ID, d.Payload.JobID, d.Attempt, logger.SanitizeForLog(msg))
}

var errHandlerPanic = errors.New("handler panic")

func invoke(ctx context.Context, d *Delivery, h Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.QueueDeliveries.WithLabelValues(metrics.DeliveryPanic).Inc()
			logger.Error.Printf("handler panic for job %s: %v\n%s", d.Payload.JobID, r, debug.Stack())
			err = fmt.Errorf("%w: %v", errHandlerPanic, r)
		}
	}()
	return h(ctx, d.Payload)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
