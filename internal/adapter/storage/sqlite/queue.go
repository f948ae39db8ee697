package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bnema/transcoder/internal/queue"
)

const (
	stateReady  = "ready"
	stateActive = "active"
	stateDead   = "dead"
)

// QueueBroker keeps queue entries in the queue_items table of the store's
// database, so jobs survive restarts without any extra service.
type QueueBroker struct {
	db   *sql.DB
	name string
}

func NewQueueBroker(store *Store, name string) *QueueBroker {
	return &QueueBroker{db: store.db, name: name}
}

func (b *QueueBroker) Push(ctx context.Context, msg queue.Message) (string, error) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	res, err := b.db.ExecContext(ctx, `
		INSERT INTO queue_items (queue, payload, priority, state, ready_at, created_at)
		VALUES (?, ?, ?, ?, 0, ?)`,
		b.name, string(payload), msg.Priority, stateReady, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert queue item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

func (b *QueueBroker) Claim(ctx context.Context, consumer string) (*queue.Delivery, error) {
	row := b.db.QueryRowContext(ctx, `
		UPDATE queue_items
		SET state = ?, consumer = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM queue_items
			WHERE queue = ? AND state = ? AND ready_at <= ?
			ORDER BY priority ASC, id ASC
			LIMIT 1
		)
		RETURNING id, payload, priority, attempts`,
		stateActive, consumer, b.name, stateReady, time.Now().UnixMilli(),
	)

	var (
		id      int64
		payload string
		d       queue.Delivery
	)
	if err := row.Scan(&id, &payload, &d.Priority, &d.Attempt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim queue item: %w", err)
	}

	d.ID = strconv.FormatInt(id, 10)
	if err := json.Unmarshal([]byte(payload), &d.Payload); err != nil {
		// An undecodable entry can never succeed.
		_ = b.Bury(ctx, d.ID, "decode payload: "+err.Error())
		return nil, fmt.Errorf("decode queue item %s: %w", d.ID, err)
	}
	return &d, nil
}

func (b *QueueBroker) Ack(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM queue_items WHERE id = ? AND queue = ?`, id, b.name)
	if err != nil {
		return fmt.Errorf("ack queue item %s: %w", id, err)
	}
	return nil
}

func (b *QueueBroker) Retry(ctx context.Context, id string, at time.Time, errMsg string) error {
	_, err := b.db.ExecContext(ctx, `
		UPDATE queue_items SET state = ?, consumer = '', ready_at = ?, last_error = ?
		WHERE id = ? AND queue = ?`,
		stateReady, at.UnixMilli(), errMsg, id, b.name,
	)
	if err != nil {
		return fmt.Errorf("retry queue item %s: %w", id, err)
	}
	return nil
}

func (b *QueueBroker) Bury(ctx context.Context, id string, errMsg string) error {
	_, err := b.db.ExecContext(ctx, `
		UPDATE queue_items SET state = ?, consumer = '', last_error = ?, failed_at = ?
		WHERE id = ? AND queue = ?`,
		stateDead, errMsg, time.Now().UTC(), id, b.name,
	)
	if err != nil {
		return fmt.Errorf("bury queue item %s: %w", id, err)
	}
	return nil
}

func (b *QueueBroker) Recover(ctx context.Context, consumer string) (int, error) {
	res, err := b.db.ExecContext(ctx, `
		UPDATE queue_items SET state = ?, consumer = '', ready_at = 0
		WHERE queue = ? AND state = ? AND consumer = ?`,
		stateReady, b.name, stateActive, consumer,
	)
	if err != nil {
		return 0, fmt.Errorf("recover queue items: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (b *QueueBroker) Dead(ctx context.Context, limit int) ([]queue.DeadLetter, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, payload, priority, attempts, last_error, failed_at
		FROM queue_items WHERE queue = ? AND state = ?
		ORDER BY failed_at DESC LIMIT ?`,
		b.name, stateDead, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list dead queue items: %w", err)
	}
	defer rows.Close()

	var out []queue.DeadLetter
	for rows.Next() {
		var (
			id       int64
			payload  string
			failedAt sql.NullTime
			dl       queue.DeadLetter
		)
		if err := rows.Scan(&id, &payload, &dl.Priority, &dl.Attempts, &dl.LastError, &failedAt); err != nil {
			return nil, err
		}
		dl.ID = strconv.FormatInt(id, 10)
		dl.FailedAt = failedAt.Time
		// Keep undecodable entries visible with an empty payload.
		_ = json.Unmarshal([]byte(payload), &dl.Payload)
		out = append(out, dl)
	}
	return out, rows.Err()
}

var _ queue.Broker = (*QueueBroker)(nil)
