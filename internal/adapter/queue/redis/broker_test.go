package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/infrastructure/rediscli"
	"github.com/bnema/transcoder/internal/queue"
)

// setupBroker spins up a Redis container and returns a broker on it.
func setupBroker(t *testing.T) *Broker {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := rediscli.NewClient("redis://" + host + ":" + port.Port())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewBroker(client, "media-processing")
}

func push(t *testing.T, b *Broker, jobID string, priority int) {
	t.Helper()
	_, err := b.Push(context.Background(), queue.Message{
		Payload:  domain.Payload{JobID: jobID, InputFilePath: "/in/" + jobID, OutputFormat: domain.FormatMP4},
		Priority: priority,
	})
	require.NoError(t, err)
}

func TestBroker_ClaimOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	b := setupBroker(t)
	ctx := context.Background()

	push(t, b, "low", 10)
	push(t, b, "high", 1)
	push(t, b, "high-2", 1)
	push(t, b, "max", queue.MaxPriority)

	var order []string
	for {
		d, err := b.Claim(ctx, "w1")
		require.NoError(t, err)
		if d == nil {
			break
		}
		order = append(order, d.Payload.JobID)
	}
	assert.Equal(t, []string{"high", "high-2", "low", "max"}, order)
}

func TestBroker_RetryBuryRecover(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	b := setupBroker(t)
	ctx := context.Background()
	push(t, b, "job-1", 5)

	d, err := b.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 1, d.Attempt)
	assert.Equal(t, 5, d.Priority)

	// Not ready yet.
	require.NoError(t, b.Retry(ctx, d.ID, time.Now().Add(time.Hour), "locked"))
	none, err := b.Claim(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, b.Retry(ctx, d.ID, time.Now().Add(-time.Second), "locked"))
	d, err = b.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, 2, d.Attempt)

	// Crash while active, then restart with the same consumer id.
	n, err := b.Recover(ctx, "other")
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = b.Recover(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, err = b.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NoError(t, b.Bury(ctx, d.ID, "gave up"))

	dead, err := b.Dead(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "job-1", dead[0].Payload.JobID)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Equal(t, "gave up", dead[0].LastError)
}

func TestBroker_Ack(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	b := setupBroker(t)
	ctx := context.Background()
	push(t, b, "job-1", 5)

	d, err := b.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, b.Ack(ctx, d.ID))

	n, err := b.Recover(ctx, "w1")
	require.NoError(t, err)
	assert.Zero(t, n)

	exists, err := b.rdb.Exists(ctx, b.itemPrefix()+d.ID).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
