package rating

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides the query side of rating records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed rating repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListForParty returns the ratings received by a party, newest first.
func (r *Repository) ListForParty(ctx context.Context, partyID string) ([]Record, error) {
	const query = `
		SELECT id, deal_id, rater_id, rated_id, score, comment, created_at
		FROM ratings
		WHERE rated_id = $1
		ORDER BY created_at DESC, id DESC
	`
	rows, err := r.pool.Query(ctx, query, partyID)
	if err != nil {
		return nil, fmt.Errorf("rating: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID,
			&rec.DealID,
			&rec.RaterID,
			&rec.RatedID,
			&rec.Score,
			&rec.Comment,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("rating: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rating: iterate: %w", err)
	}
	return out, nil
}
