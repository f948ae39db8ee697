package redis

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/infrastructure/logger"
	"github.com/bnema/transcoder/internal/port"
)

const publishTimeout = 2 * time.Second

func channel(prefix, jobID string) string {
	return prefix + ":job:" + jobID
}

// Publisher sends job events over Redis pub/sub so that processes other than
// the producing worker can stream them.
type Publisher struct {
	rdb    goredis.UniversalClient
	prefix string
}

func NewPublisher(rdb goredis.UniversalClient, prefix string) *Publisher {
	return &Publisher{rdb: rdb, prefix: prefix}
}

// Publish is fire-and-forget like the in-process bus: failures are logged.
func (p *Publisher) Publish(jobID string, event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error.Printf("encode event for job %s: %v", jobID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, channel(p.prefix, jobID), data).Err(); err != nil {
		logger.Warn.Printf("publish %s event for job %s: %v", event.Type, jobID, err)
	}
}

// Relay feeds events received from Redis into a local publisher, usually the
// in-process EventBus behind the SSE endpoint.
type Relay struct {
	rdb    goredis.UniversalClient
	prefix string
	local  port.EventPublisher
}

func NewRelay(rdb goredis.UniversalClient, prefix string, local port.EventPublisher) *Relay {
	return &Relay{rdb: rdb, prefix: prefix, local: local}
}

// Run relays until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.PSubscribe(ctx, channel(r.prefix, "*"))
	defer func() { _ = sub.Close() }()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	logger.Info.Printf("relaying job events from redis channel %s", channel(r.prefix, "*"))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.relay(msg)
		}
	}
}

func (r *Relay) relay(msg *goredis.Message) {
	var event domain.Event
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		logger.Warn.Printf("discarding malformed event on %s: %v", msg.Channel, err)
		return
	}
	jobID := strings.TrimPrefix(msg.Channel, r.prefix+":job:")
	if event.JobID == "" {
		event.JobID = jobID
	}
	r.local.Publish(jobID, event)
}

var _ port.EventPublisher = (*Publisher)(nil)
