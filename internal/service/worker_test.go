package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/queue"
)

type stubConsumer struct {
	payloads    []domain.Payload
	err         error
	concurrency int
	handled     []error
}

func (s *stubConsumer) Consume(ctx context.Context, concurrency int, h queue.Handler) error {
	s.concurrency = concurrency
	for _, p := range s.payloads {
		s.handled = append(s.handled, h(ctx, p))
	}
	return s.err
}

type handlerFunc func(ctx context.Context, p domain.Payload) error

func (f handlerFunc) HandlePayload(ctx context.Context, p domain.Payload) error { return f(ctx, p) }

func TestWorkerPool_Run(t *testing.T) {
	consumer := &stubConsumer{
		payloads: []domain.Payload{{JobID: "a"}, {JobID: "b"}},
		err:      context.Canceled,
	}
	var seen []string
	handler := handlerFunc(func(_ context.Context, p domain.Payload) error {
		seen = append(seen, p.JobID)
		if p.JobID == "b" {
			return errors.New("store down")
		}
		return nil
	})

	pool := NewWorkerPool(consumer, handler, 0)
	require.NoError(t, pool.Run(context.Background()))

	assert.Equal(t, 1, consumer.concurrency)
	assert.Equal(t, []string{"a", "b"}, seen)
	require.Len(t, consumer.handled, 2)
	assert.NoError(t, consumer.handled[0])
	assert.EqualError(t, consumer.handled[1], "store down")
}

func TestWorkerPool_RunReturnsConsumerErrors(t *testing.T) {
	consumer := &stubConsumer{err: domain.ErrTransportUnavailable}
	pool := NewWorkerPool(consumer, handlerFunc(func(context.Context, domain.Payload) error { return nil }), 4)

	err := pool.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransportUnavailable)
	assert.Equal(t, 4, consumer.concurrency)
}
