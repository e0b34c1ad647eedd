package deal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides the query side of the deal store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed deal repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get fetches a deal by its identifier.
func (r *Repository) Get(ctx context.Context, dealID int64) (Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE id = $1`

	d, err := scanDeal(r.pool.QueryRow(ctx, query, dealID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrNotFound
		}
		return Deal{}, fmt.Errorf("deal: get: %w", err)
	}
	return d, nil
}

// ListForParty returns the party's deals, newest first. Deals where the
// party is the still-unresolved counterparty are matched by handle.
func (r *Repository) ListForParty(ctx context.Context, partyID string) ([]Deal, error) {
	query := `
		SELECT ` + dealColumns + `
		FROM deals
		WHERE initiator_id = $1
		   OR counterparty_id = $1
		   OR (counterparty_id IS NULL AND counterparty_handle = (
		         SELECT lower(handle) FROM parties WHERE id = $1))
		ORDER BY created_at DESC, id DESC
	`
	return r.queryDeals(ctx, query, partyID)
}

// ListPendingConfirmation returns the arbitrator queue: deals awaiting a
// payment decision, oldest first.
func (r *Repository) ListPendingConfirmation(ctx context.Context) ([]Deal, error) {
	query := `
		SELECT ` + dealColumns + `
		FROM deals
		WHERE status = 'payment_pending'
		ORDER BY created_at ASC, id ASC
	`
	return r.queryDeals(ctx, query)
}

func (r *Repository) queryDeals(ctx context.Context, query string, args ...any) ([]Deal, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("deal: list: %w", err)
	}
	defer rows.Close()

	out := make([]Deal, 0, 16)
	for rows.Next() {
		var d Deal
		if err := rows.Scan(
			&d.ID,
			&d.InitiatorID,
			&d.CounterpartyHandle,
			&d.CounterpartyID,
			&d.Amount,
			&d.Description,
			&d.Status,
			&d.PaymentConfirmed,
			&d.DeliveryConfirmed,
			&d.CreatedAt,
			&d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("deal: scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deal: iterate: %w", err)
	}
	return out, nil
}
