package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals that the party does not exist.
var ErrNotFound = errors.New("identity: party not found")

// Repository handles data access for parties.
type Repository interface {
	Upsert(ctx context.Context, params UpsertParams) (Party, error)
	GetByID(ctx context.Context, partyID string) (Party, error)
	GetByHandle(ctx context.Context, handle string) (Party, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed identity repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const partyColumns = `id, handle, display_name, trust_score, completed_deals, total_deals, created_at, updated_at`

// Upsert inserts the party or refreshes its mutable display fields.
func (r *PGRepository) Upsert(ctx context.Context, params UpsertParams) (Party, error) {
	const upsertSQL = `
		INSERT INTO parties (id, handle, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET handle = EXCLUDED.handle,
		    display_name = EXCLUDED.display_name,
		    updated_at = now()
		RETURNING ` + partyColumns

	party, err := scanParty(r.pool.QueryRow(ctx, upsertSQL, params.ID, params.Handle, params.DisplayName))
	if err != nil {
		return Party{}, fmt.Errorf("identity: upsert party: %w", err)
	}
	return party, nil
}

// GetByID retrieves a party by its identifier.
func (r *PGRepository) GetByID(ctx context.Context, partyID string) (Party, error) {
	const selectSQL = `SELECT ` + partyColumns + ` FROM parties WHERE id = $1`

	party, err := scanParty(r.pool.QueryRow(ctx, selectSQL, partyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, ErrNotFound
		}
		return Party{}, fmt.Errorf("identity: get party by id: %w", err)
	}
	return party, nil
}

// GetByHandle retrieves a party by its display handle, case-insensitively.
func (r *PGRepository) GetByHandle(ctx context.Context, handle string) (Party, error) {
	const selectSQL = `SELECT ` + partyColumns + ` FROM parties WHERE lower(handle) = lower($1)`

	party, err := scanParty(r.pool.QueryRow(ctx, selectSQL, handle))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, ErrNotFound
		}
		return Party{}, fmt.Errorf("identity: get party by handle: %w", err)
	}
	return party, nil
}

func scanParty(row pgx.Row) (Party, error) {
	var p Party
	err := row.Scan(
		&p.ID,
		&p.Handle,
		&p.DisplayName,
		&p.TrustScore,
		&p.CompletedDeals,
		&p.TotalDeals,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Party{}, err
	}
	return p, nil
}
