// Package notify delivers committed domain events to the parties and the
// arbitrator. Delivery is best-effort and strictly after-commit: transitions
// enqueue messages into the transactional outbox, and the dispatcher drains
// it here. A failed delivery never affects the transition that produced it.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// EventKind identifies what happened; it matches the outbox topic.
type EventKind string

// Sink is the transport boundary. The chat integration implements this in
// production; LogSink stands in everywhere else.
type Sink interface {
	Notify(ctx context.Context, partyID string, kind EventKind, payload map[string]any) error
}

// LogSink writes every notification as a structured log event.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a logging sink.
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Notify logs the event.
func (s *LogSink) Notify(_ context.Context, partyID string, kind EventKind, payload map[string]any) error {
	s.log.Info().
		Str("party_id", partyID).
		Str("kind", string(kind)).
		Interface("payload", payload).
		Msg("notify")
	return nil
}
