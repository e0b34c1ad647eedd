package rating

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"escrowflow/deal"
)

// Service records post-delivery ratings and maintains party trust
// aggregates. The aggregate is recomputed from the full rating history on
// every submission, never patched incrementally, so long histories cannot
// drift.
type Service struct {
	pool    deal.TxBeginner
	machine *deal.Machine
	deals   *deal.Service
}

// NewService creates a rating service sharing the deal machine.
func NewService(pool deal.TxBeginner, deals *deal.Service) *Service {
	return &Service{
		pool:    pool,
		machine: deals.Machine(),
		deals:   deals,
	}
}

// Submit persists the rating, refreshes the rated party's trust score,
// bumps both parties' deal counters, and completes the deal.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Record, error) {
	if params.Score < 1 || params.Score > 5 {
		return Record{}, ErrInvalidScore
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("rating: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.machine.Lock(ctx, tx, params.DealID)
	if err != nil {
		return Record{}, err
	}
	d, err = s.deals.AuthorizeParty(ctx, tx, d, params.RaterID)
	if err != nil {
		return Record{}, err
	}
	if d.Status != deal.StatusDelivered {
		return Record{}, fmt.Errorf("%w: status is %s", ErrDealNotDeliverable, d.Status)
	}

	ratedID, ok := d.OtherParty(params.RaterID)
	if !ok {
		return Record{}, ErrCounterpartyUnresolved
	}

	var comment *string
	if params.Comment != "" {
		comment = &params.Comment
	}

	const insertSQL = `
		INSERT INTO ratings (deal_id, rater_id, rated_id, score, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, deal_id, rater_id, rated_id, score, comment, created_at
	`
	rec, err := scanRecord(tx.QueryRow(ctx, insertSQL, params.DealID, params.RaterID, ratedID, params.Score, comment))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicate
		}
		return Record{}, fmt.Errorf("rating: insert: %w", err)
	}

	if err := s.recomputeTrustScore(ctx, tx, ratedID); err != nil {
		return Record{}, err
	}

	const bumpSQL = `
		UPDATE parties
		SET completed_deals = completed_deals + 1,
		    total_deals = total_deals + 1,
		    updated_at = now()
		WHERE id = ANY($1)
	`
	if _, err := tx.Exec(ctx, bumpSQL, []string{params.RaterID, ratedID}); err != nil {
		return Record{}, fmt.Errorf("rating: bump counters: %w", err)
	}

	if _, err := s.machine.ApplyLocked(ctx, tx, d, deal.TransitionParams{
		DealID:    d.ID,
		ActorID:   params.RaterID,
		Sources:   []deal.Status{deal.StatusDelivered},
		Next:      deal.StatusCompleted,
		EventType: deal.EventDealCompleted,
		Payload: map[string]any{
			"rating_id": rec.ID,
			"score":     rec.Score,
			"rated_id":  ratedID,
		},
		OutboxTopic: deal.TopicDealCompleted,
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("rating: commit submit: %w", err)
	}
	return rec, nil
}

// recomputeTrustScore sets the party's aggregate to the exact arithmetic
// mean over all their historical ratings.
func (s *Service) recomputeTrustScore(ctx context.Context, tx pgx.Tx, ratedID string) error {
	const q = `
		UPDATE parties
		SET trust_score = COALESCE((
		        SELECT ROUND(AVG(score)::numeric, 2)
		        FROM ratings
		        WHERE rated_id = $1
		    ), 0),
		    updated_at = now()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, q, ratedID); err != nil {
		return fmt.Errorf("rating: recompute trust score: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.DealID,
		&rec.RaterID,
		&rec.RatedID,
		&rec.Score,
		&rec.Comment,
		&rec.CreatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
