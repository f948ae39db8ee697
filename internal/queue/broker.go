package queue

import (
	"context"
	"time"

	"github.com/bnema/transcoder/internal/domain"
)

type Message struct {
	Payload  domain.Payload
	Priority int
}

// Delivery is one hand-off of a queued payload to a consumer.
type Delivery struct {
	ID       string
	Payload  domain.Payload
	Priority int
	Attempt  int // 1 on first delivery
}

// DeadLetter is a payload that exhausted its delivery attempts. It is kept
// for inspection and never handed out again.
type DeadLetter struct {
	ID        string         `json:"id"`
	Payload   domain.Payload `json:"payload"`
	Priority  int            `json:"priority"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error"`
	FailedAt  time.Time      `json:"failed_at"`
}

// Broker is the durable storage behind a Transport. Implementations must be
// safe for concurrent use by several processes.
type Broker interface {
	Push(ctx context.Context, msg Message) (string, error)
	// Claim hands out the next ready entry, lowest priority first and oldest
	// first among equal priorities, marking it active for consumer. It
	// returns nil when nothing is ready.
	Claim(ctx context.Context, consumer string) (*Delivery, error)
	// Ack removes a successfully handled entry.
	Ack(ctx context.Context, id string) error
	// Retry makes the entry claimable again once at has passed.
	Retry(ctx context.Context, id string, at time.Time, errMsg string) error
	// Bury moves the entry to the dead set.
	Bury(ctx context.Context, id string, errMsg string) error
	// Recover re-queues entries left active by consumer, typically after a
	// crash, and reports how many were re-queued.
	Recover(ctx context.Context, consumer string) (int, error)
	Dead(ctx context.Context, limit int) ([]DeadLetter, error)
}
