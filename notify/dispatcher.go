package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const (
	defaultBatchSize   = 25
	defaultMaxAttempts = 5
)

// Dispatcher drains the outbox and fans messages out to the sink. Messages
// are claimed with FOR UPDATE SKIP LOCKED so multiple dispatchers never
// double-deliver a processed message.
type Dispatcher struct {
	pool        *pgxpool.Pool
	sink        Sink
	log         zerolog.Logger
	interval    time.Duration
	maxAttempts int
}

// NewDispatcher creates an outbox dispatcher polling at the given interval.
func NewDispatcher(pool *pgxpool.Pool, sink Sink, log zerolog.Logger, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Dispatcher{
		pool:        pool,
		sink:        sink,
		log:         log,
		interval:    interval,
		maxAttempts: defaultMaxAttempts,
	}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				d.log.Error().Err(err).Msg("outbox dispatch failed")
			}
		}
	}
}

// DispatchOnce claims and delivers one batch of pending messages, returning
// the number delivered.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("notify: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const claimSQL = `
		SELECT id, topic, payload, attempts
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.Query(ctx, claimSQL, defaultBatchSize)
	if err != nil {
		return 0, fmt.Errorf("notify: claim batch: %w", err)
	}

	type message struct {
		id       string
		topic    string
		payload  []byte
		attempts int
	}
	batch := make([]message, 0, defaultBatchSize)
	for rows.Next() {
		var m message
		if err := rows.Scan(&m.id, &m.topic, &m.payload, &m.attempts); err != nil {
			rows.Close()
			return 0, fmt.Errorf("notify: scan message: %w", err)
		}
		batch = append(batch, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("notify: iterate batch: %w", err)
	}

	delivered := 0
	for _, m := range batch {
		if err := d.deliver(ctx, m.topic, m.payload); err != nil {
			d.log.Error().Err(err).Str("outbox_id", m.id).Str("topic", m.topic).Msg("notification delivery failed")
			status := "pending"
			if m.attempts+1 >= d.maxAttempts {
				status = "dead"
			}
			if _, err := tx.Exec(ctx, `UPDATE outbox SET status = $1, attempts = attempts + 1 WHERE id = $2`, status, m.id); err != nil {
				return delivered, fmt.Errorf("notify: mark failed: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'processed', attempts = attempts + 1 WHERE id = $1`, m.id); err != nil {
			return delivered, fmt.Errorf("notify: mark processed: %w", err)
		}
		delivered++
	}

	if err := tx.Commit(ctx); err != nil {
		return delivered, fmt.Errorf("notify: commit batch: %w", err)
	}
	return delivered, nil
}

func (d *Dispatcher) deliver(ctx context.Context, topic string, raw []byte) error {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("notify: decode payload: %w", err)
	}

	recipients := recipientsFrom(payload)
	if len(recipients) == 0 {
		// nothing to fan out; treat as delivered
		return nil
	}

	for _, partyID := range recipients {
		if err := d.sink.Notify(ctx, partyID, EventKind(topic), payload); err != nil {
			return fmt.Errorf("notify: deliver to %s: %w", partyID, err)
		}
	}
	return nil
}

func recipientsFrom(payload map[string]any) []string {
	raw, ok := payload["recipients"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok && id != "" {
			out = append(out, id)
		}
	}
	return out
}
