package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrOperatorNotFound signals that the operator does not exist.
	ErrOperatorNotFound = errors.New("auth: operator not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
)

// Repository handles data access for operator accounts.
type Repository interface {
	CreateOperator(ctx context.Context, params CreateOperatorParams) (Operator, error)
	GetOperatorByEmail(ctx context.Context, email string) (Operator, error)
}

// CreateOperatorParams contains write parameters for creating operators.
type CreateOperatorParams struct {
	Email        string
	FullName     string
	PasswordHash string
	PartyID      string
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const operatorColumns = `id, email, full_name, password_hash, party_id, role, created_at`

// CreateOperator inserts a new dashboard operator.
func (r *PGRepository) CreateOperator(ctx context.Context, params CreateOperatorParams) (Operator, error) {
	const insertSQL = `
		INSERT INTO operators (email, full_name, password_hash, party_id, role)
		VALUES ($1, $2, $3, $4, 'arbitrator')
		RETURNING ` + operatorColumns

	op, err := scanOperator(r.pool.QueryRow(ctx, insertSQL, params.Email, params.FullName, params.PasswordHash, params.PartyID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Operator{}, ErrDuplicateEmail
		}
		return Operator{}, fmt.Errorf("auth: create operator: %w", err)
	}
	return op, nil
}

// GetOperatorByEmail retrieves an operator by email address.
func (r *PGRepository) GetOperatorByEmail(ctx context.Context, email string) (Operator, error) {
	const selectSQL = `SELECT ` + operatorColumns + ` FROM operators WHERE email = $1`

	op, err := scanOperator(r.pool.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Operator{}, ErrOperatorNotFound
		}
		return Operator{}, fmt.Errorf("auth: get operator by email: %w", err)
	}
	return op, nil
}

func scanOperator(row pgx.Row) (Operator, error) {
	var op Operator
	err := row.Scan(
		&op.ID,
		&op.Email,
		&op.FullName,
		&op.PasswordHash,
		&op.PartyID,
		&op.Role,
		&op.CreatedAt,
	)
	if err != nil {
		return Operator{}, err
	}
	return op, nil
}
