package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/queue"
)

func push(t *testing.T, b *QueueBroker, jobID string, priority int) string {
	t.Helper()
	id, err := b.Push(context.Background(), queue.Message{
		Payload:  domain.Payload{JobID: jobID, InputFilePath: "/in/" + jobID, OutputFormat: domain.FormatMP3},
		Priority: priority,
	})
	require.NoError(t, err)
	return id
}

func TestQueueBroker_ClaimOrder(t *testing.T) {
	b := NewQueueBroker(newTestStore(t), "media-processing")
	ctx := context.Background()

	push(t, b, "low", 10)
	push(t, b, "high", 1)
	push(t, b, "high-2", 1)

	var order []string
	for {
		d, err := b.Claim(ctx, "w1")
		require.NoError(t, err)
		if d == nil {
			break
		}
		assert.Equal(t, 1, d.Attempt)
		order = append(order, d.Payload.JobID)
	}
	assert.Equal(t, []string{"high", "high-2", "low"}, order)
}

func TestQueueBroker_QueuesAreIsolated(t *testing.T) {
	s := newTestStore(t)
	a := NewQueueBroker(s, "a")
	b := NewQueueBroker(s, "b")
	push(t, a, "job-a", 5)

	d, err := b.Claim(context.Background(), "w1")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestQueueBroker_RetryWaitsUntilReady(t *testing.T) {
	b := NewQueueBroker(newTestStore(t), "q")
	ctx := context.Background()
	push(t, b, "job-1", 5)

	d, err := b.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, d)

	require.NoError(t, b.Retry(ctx, d.ID, time.Now().Add(time.Hour), "locked"))
	none, err := b.Claim(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, b.Retry(ctx, d.ID, time.Now().Add(-time.Millisecond), "locked"))
	again, err := b.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 2, again.Attempt)
}

func TestQueueBroker_AckAndBury(t *testing.T) {
	b := NewQueueBroker(newTestStore(t), "q")
	ctx := context.Background()
	push(t, b, "ok", 5)
	push(t, b, "bad", 5)

	d1, err := b.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, b.Ack(ctx, d1.ID))

	d2, err := b.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, b.Bury(ctx, d2.ID, "boom"))

	none, err := b.Claim(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, none)

	dead, err := b.Dead(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "bad", dead[0].Payload.JobID)
	assert.Equal(t, "boom", dead[0].LastError)
	assert.Equal(t, 1, dead[0].Attempts)
	assert.False(t, dead[0].FailedAt.IsZero())
}

func TestQueueBroker_RecoverOnlyOwnDeliveries(t *testing.T) {
	b := NewQueueBroker(newTestStore(t), "q")
	ctx := context.Background()
	push(t, b, "mine", 5)
	push(t, b, "theirs", 5)

	_, err := b.Claim(ctx, "w1")
	require.NoError(t, err)
	_, err = b.Claim(ctx, "w2")
	require.NoError(t, err)

	n, err := b.Recover(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, err := b.Claim(ctx, "w3")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "mine", d.Payload.JobID)
}

func TestQueueBroker_WithTransport(t *testing.T) {
	b := NewQueueBroker(newTestStore(t), "q")
	tr := queue.New(b, queue.Options{Consumer: "w1", PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, tr.Enqueue(ctx, domain.Payload{JobID: "job-1", InputFilePath: "/in/a.wav", OutputFormat: domain.FormatMP3}, 3))

	got := make(chan domain.Payload, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Consume(ctx, 1, func(_ context.Context, p domain.Payload) error {
			got <- p
			return nil
		})
	}()

	select {
	case p := <-got:
		assert.Equal(t, "job-1", p.JobID)
		assert.Equal(t, domain.FormatMP3, p.OutputFormat)
	case <-time.After(5 * time.Second):
		t.Fatal("payload not delivered")
	}
	cancel()
	<-done

	d, err := b.Claim(context.Background(), "w1")
	require.NoError(t, err)
	assert.Nil(t, d, "acked entry is removed")
}
