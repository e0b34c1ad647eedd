package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"escrowflow/config"
	"escrowflow/deal"
)

// Service opens and resolves disputes. Deal status never changes here
// directly: both paths drive the owning deal through the state machine so
// the transition table stays the single source of truth.
type Service struct {
	pool     deal.TxBeginner
	machine  *deal.Machine
	deals    *deal.Service
	arbiters config.Arbiters
}

// NewService creates a dispute service sharing the deal machine.
func NewService(pool deal.TxBeginner, deals *deal.Service, arbiters config.Arbiters) *Service {
	return &Service{
		pool:     pool,
		machine:  deals.Machine(),
		deals:    deals,
		arbiters: arbiters,
	}
}

// Open raises a dispute on the deal and suspends its normal progression.
func (s *Service) Open(ctx context.Context, dealID int64, raisedBy, reason string) (Record, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) < MinReasonLen {
		return Record{}, fmt.Errorf("%w: need at least %d characters", ErrInvalidReason, MinReasonLen)
	}
	if len(reason) > MaxReasonLen {
		reason = reason[:MaxReasonLen]
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.machine.Lock(ctx, tx, dealID)
	if err != nil {
		return Record{}, err
	}
	d, err = s.deals.AuthorizeParty(ctx, tx, d, raisedBy)
	if err != nil {
		return Record{}, err
	}

	const insertSQL = `
		INSERT INTO disputes (deal_id, raised_by, reason)
		VALUES ($1, $2, $3)
		RETURNING id, deal_id, raised_by, reason, status, resolved_by, resolution, created_at, resolved_at
	`
	rec, err := scanRecord(tx.QueryRow(ctx, insertSQL, dealID, raisedBy, reason))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrAlreadyOpen
		}
		return Record{}, fmt.Errorf("dispute: insert: %w", err)
	}

	if _, err := s.machine.ApplyLocked(ctx, tx, d, deal.TransitionParams{
		DealID:      dealID,
		ActorID:     raisedBy,
		Sources:     []deal.Status{deal.StatusPaymentPending, deal.StatusPaymentConfirmed, deal.StatusDelivered},
		Next:        deal.StatusDisputed,
		EventType:   deal.EventDisputeOpened,
		Payload:     map[string]any{"dispute_id": rec.ID, "reason": reason},
		OutboxTopic: TopicOpened,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit open: %w", err)
	}
	return rec, nil
}

// Resolve closes the dispute and drives the owning deal to the
// arbitrator-chosen outcome.
func (s *Service) Resolve(ctx context.Context, disputeID int64, actorID, resolution string, outcome deal.Status) (Record, error) {
	if !s.arbiters.Contains(actorID) {
		return Record{}, ErrUnauthorized
	}
	if !deal.ValidResolutionOutcome(outcome) {
		return Record{}, fmt.Errorf("%w: %s", ErrInvalidOutcome, outcome)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const lockSQL = `
		SELECT id, deal_id, raised_by, reason, status, resolved_by, resolution, created_at, resolved_at
		FROM disputes
		WHERE id = $1
		FOR UPDATE
	`
	rec, err := scanRecord(tx.QueryRow(ctx, lockSQL, disputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: lock: %w", err)
	}
	if rec.Status == StatusResolved {
		return Record{}, ErrAlreadyResolved
	}

	const resolveSQL = `
		UPDATE disputes
		SET status = 'resolved',
		    resolved_by = $1,
		    resolution = $2,
		    resolved_at = now()
		WHERE id = $3
		RETURNING id, deal_id, raised_by, reason, status, resolved_by, resolution, created_at, resolved_at
	`
	rec, err = scanRecord(tx.QueryRow(ctx, resolveSQL, actorID, resolution, disputeID))
	if err != nil {
		return Record{}, fmt.Errorf("dispute: resolve: %w", err)
	}

	if _, err := s.machine.ApplyTx(ctx, tx, deal.TransitionParams{
		DealID:    rec.DealID,
		ActorID:   actorID,
		Sources:   []deal.Status{deal.StatusDisputed},
		Next:      outcome,
		EventType: deal.EventDisputeResolved,
		Payload: map[string]any{
			"dispute_id": rec.ID,
			"resolution": resolution,
			"outcome":    outcome,
		},
		OutboxTopic: TopicResolved,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}
	return rec, nil
}

// Outbox topics published by dispute transitions.
const (
	TopicOpened   = "dispute.opened"
	TopicResolved = "dispute.resolved"
)
