package identity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Party is the domain representation of a transaction participant.
// It mirrors the parties table and carries the aggregates maintained by the
// rating ledger.
type Party struct {
	ID             string
	Handle         string
	DisplayName    string
	TrustScore     decimal.Decimal
	CompletedDeals int
	TotalDeals     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UpsertParams contains the externally supplied identity fields. The
// identifier is immutable; handle and display name are last-write-wins.
type UpsertParams struct {
	ID          string
	Handle      string
	DisplayName string
}
