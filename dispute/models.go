package dispute

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

var (
	// ErrNotFound signals the dispute does not exist.
	ErrNotFound = errors.New("dispute: not found")
	// ErrAlreadyOpen signals the deal already has an open dispute.
	ErrAlreadyOpen = errors.New("dispute: deal already has an open dispute")
	// ErrAlreadyResolved signals the dispute was resolved earlier.
	ErrAlreadyResolved = errors.New("dispute: already resolved")
	// ErrInvalidReason signals a reason below the minimum length.
	ErrInvalidReason = errors.New("dispute: reason too short")
	// ErrInvalidOutcome signals a resolution target outside the permitted set.
	ErrInvalidOutcome = errors.New("dispute: invalid resolution outcome")
	// ErrUnauthorized signals the actor may not resolve disputes.
	ErrUnauthorized = errors.New("dispute: unauthorized")
)

// Reason length bounds.
const (
	MinReasonLen = 10
	MaxReasonLen = 1000
)

// Record mirrors the disputes table. A deal has at most one open dispute;
// opening one suspends normal deal progression until the arbitrator rules.
type Record struct {
	ID         int64
	DealID     int64
	RaisedBy   string
	Reason     string
	Status     Status
	ResolvedBy *string
	Resolution *string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// Summary is the arbitrator-queue view of an open dispute, joined with the
// owning deal.
type Summary struct {
	Record
	DealAmount      decimal.Decimal
	DealDescription string
	RaisedByHandle  string
}
