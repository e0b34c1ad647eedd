package rating

import (
	"errors"
	"time"
)

var (
	// ErrInvalidScore signals a score outside 1-5.
	ErrInvalidScore = errors.New("rating: score must be between 1 and 5")
	// ErrDuplicate signals the rater already rated this deal.
	ErrDuplicate = errors.New("rating: already rated")
	// ErrDealNotDeliverable signals the deal is not in the delivered state.
	ErrDealNotDeliverable = errors.New("rating: deal is not awaiting rating")
	// ErrCounterpartyUnresolved signals the other side of the deal has no
	// bound identity to attach the rating to.
	ErrCounterpartyUnresolved = errors.New("rating: counterparty not resolved")
)

// Record mirrors the ratings table.
type Record struct {
	ID        int64
	DealID    int64
	RaterID   string
	RatedID   string
	Score     int
	Comment   *string
	CreatedAt time.Time
}

// SubmitParams contains caller-supplied rating data. Submitting a rating is
// the trigger that completes the deal.
type SubmitParams struct {
	DealID  int64
	RaterID string
	Score   int
	Comment string
}
