package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides the query side of dispute records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed dispute repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get fetches a dispute by its identifier.
func (r *Repository) Get(ctx context.Context, disputeID int64) (Record, error) {
	const query = `
		SELECT id, deal_id, raised_by, reason, status, resolved_by, resolution, created_at, resolved_at
		FROM disputes
		WHERE id = $1
	`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, disputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get: %w", err)
	}
	return rec, nil
}

// ListOpen returns the arbitrator's dispute queue, oldest first, joined
// with the owning deal for review context.
func (r *Repository) ListOpen(ctx context.Context) ([]Summary, error) {
	const query = `
		SELECT d.id, d.deal_id, d.raised_by, d.reason, d.status, d.resolved_by, d.resolution,
		       d.created_at, d.resolved_at,
		       deals.amount, deals.description, p.handle
		FROM disputes d
		JOIN deals ON deals.id = d.deal_id
		JOIN parties p ON p.id = d.raised_by
		WHERE d.status = 'open'
		ORDER BY d.created_at ASC, d.id ASC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dispute: list open: %w", err)
	}
	defer rows.Close()

	out := make([]Summary, 0, 8)
	for rows.Next() {
		var s Summary
		if err := rows.Scan(
			&s.ID,
			&s.DealID,
			&s.RaisedBy,
			&s.Reason,
			&s.Status,
			&s.ResolvedBy,
			&s.Resolution,
			&s.CreatedAt,
			&s.ResolvedAt,
			&s.DealAmount,
			&s.DealDescription,
			&s.RaisedByHandle,
		); err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.DealID,
		&rec.RaisedBy,
		&rec.Reason,
		&rec.Status,
		&rec.ResolvedBy,
		&rec.Resolution,
		&rec.CreatedAt,
		&rec.ResolvedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
