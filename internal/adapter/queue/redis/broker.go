package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/queue"
)

// priorityShift spreads priorities far enough apart in the waiting set score
// that the sequence number only orders entries of equal priority. 4096<<40
// still fits exactly in a float64.
const priorityShift = 1 << 40

// claimScript promotes due delayed entries, pops the best waiting entry and
// marks it active for the consumer.
var claimScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[2], id)
	local score = redis.call('HGET', ARGV[3] .. id, 'score')
	if score then
		redis.call('ZADD', KEYS[1], score, id)
	end
end

local head = redis.call('ZPOPMIN', KEYS[1])
if #head == 0 then
	return false
end

local id = head[1]
local key = ARGV[3] .. id
redis.call('HSET', KEYS[3], id, ARGV[2])
local attempts = redis.call('HINCRBY', key, 'attempts', 1)
return {id, redis.call('HGET', key, 'payload'), redis.call('HGET', key, 'priority'), attempts}
`)

// recoverScript moves the entries a consumer left active back to waiting.
var recoverScript = goredis.NewScript(`
local active = redis.call('HGETALL', KEYS[1])
local n = 0
for i = 1, #active, 2 do
	if active[i + 1] == ARGV[1] then
		local id = active[i]
		redis.call('HDEL', KEYS[1], id)
		local score = redis.call('HGET', ARGV[2] .. id, 'score')
		if score then
			redis.call('ZADD', KEYS[2], score, id)
			n = n + 1
		end
	end
end
return n
`)

// Broker is a queue.Broker on Redis, for deployments where workers run on
// several hosts.
type Broker struct {
	rdb  goredis.UniversalClient
	name string
}

func NewBroker(rdb goredis.UniversalClient, name string) *Broker {
	return &Broker{rdb: rdb, name: name}
}

func (b *Broker) key(parts ...string) string {
	k := b.name
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (b *Broker) itemPrefix() string { return b.key("item") + ":" }

func (b *Broker) Push(ctx context.Context, msg queue.Message) (string, error) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	seq, err := b.rdb.Incr(ctx, b.key("seq")).Result()
	if err != nil {
		return "", fmt.Errorf("next sequence: %w", err)
	}
	id := strconv.FormatInt(seq, 10)
	score := float64(msg.Priority)*priorityShift + float64(seq)

	_, err = b.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, b.itemPrefix()+id,
			"payload", string(payload),
			"priority", msg.Priority,
			"score", strconv.FormatFloat(score, 'f', 0, 64),
			"attempts", 0,
			"created_at", time.Now().UnixMilli(),
		)
		pipe.ZAdd(ctx, b.key("waiting"), goredis.Z{Score: score, Member: id})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("push item %s: %w", id, err)
	}
	return id, nil
}

func (b *Broker) Claim(ctx context.Context, consumer string) (*queue.Delivery, error) {
	res, err := claimScript.Run(ctx, b.rdb,
		[]string{b.key("waiting"), b.key("delayed"), b.key("active")},
		time.Now().UnixMilli(), consumer, b.itemPrefix(),
	).Slice()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	if len(res) != 4 {
		return nil, fmt.Errorf("claim: unexpected reply %v", res)
	}

	d := &queue.Delivery{}
	d.ID, _ = res[0].(string)
	payload, _ := res[1].(string)
	if p, ok := res[2].(string); ok {
		d.Priority, _ = strconv.Atoi(p)
	}
	if n, ok := res[3].(int64); ok {
		d.Attempt = int(n)
	}

	if err := json.Unmarshal([]byte(payload), &d.Payload); err != nil {
		_ = b.Bury(ctx, d.ID, "decode payload: "+err.Error())
		return nil, fmt.Errorf("decode item %s: %w", d.ID, err)
	}
	return d, nil
}

func (b *Broker) Ack(ctx context.Context, id string) error {
	_, err := b.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HDel(ctx, b.key("active"), id)
		pipe.Del(ctx, b.itemPrefix()+id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack item %s: %w", id, err)
	}
	return nil
}

func (b *Broker) Retry(ctx context.Context, id string, at time.Time, errMsg string) error {
	_, err := b.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HDel(ctx, b.key("active"), id)
		pipe.HSet(ctx, b.itemPrefix()+id, "last_error", errMsg)
		pipe.ZAdd(ctx, b.key("delayed"), goredis.Z{Score: float64(at.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("retry item %s: %w", id, err)
	}
	return nil
}

func (b *Broker) Bury(ctx context.Context, id string, errMsg string) error {
	now := time.Now()
	_, err := b.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HDel(ctx, b.key("active"), id)
		pipe.HSet(ctx, b.itemPrefix()+id, "last_error", errMsg, "failed_at", now.UnixMilli())
		pipe.ZAdd(ctx, b.key("dead"), goredis.Z{Score: float64(now.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("bury item %s: %w", id, err)
	}
	return nil
}

func (b *Broker) Recover(ctx context.Context, consumer string) (int, error) {
	n, err := recoverScript.Run(ctx, b.rdb,
		[]string{b.key("active"), b.key("waiting")},
		consumer, b.itemPrefix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}
	return n, nil
}

func (b *Broker) Dead(ctx context.Context, limit int) ([]queue.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := b.rdb.ZRevRange(ctx, b.key("dead"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead items: %w", err)
	}

	out := make([]queue.DeadLetter, 0, len(ids))
	for _, id := range ids {
		fields, err := b.rdb.HGetAll(ctx, b.itemPrefix()+id).Result()
		if err != nil {
			return nil, fmt.Errorf("read dead item %s: %w", id, err)
		}
		dl := queue.DeadLetter{ID: id, LastError: fields["last_error"]}
		dl.Priority, _ = strconv.Atoi(fields["priority"])
		dl.Attempts, _ = strconv.Atoi(fields["attempts"])
		if ms, err := strconv.ParseInt(fields["failed_at"], 10, 64); err == nil {
			dl.FailedAt = time.UnixMilli(ms)
		}
		var p domain.Payload
		if err := json.Unmarshal([]byte(fields["payload"]), &p); err == nil {
			dl.Payload = p
		}
		out = append(out, dl)
	}
	return out, nil
}

var _ queue.Broker = (*Broker)(nil)
