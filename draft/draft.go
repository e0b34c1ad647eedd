// Package draft holds the ephemeral per-party deal-creation wizard state.
// Drafts live in a process-local TTL cache, entirely separate from the
// durable deal entity: a restart or scale-out abandons in-progress drafts
// without corrupting any committed deal.
package draft

import (
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"

	"escrowflow/deal"
)

// Stage is the wizard step the party is on.
type Stage string

const (
	StageAmount       Stage = "amount"
	StageCounterparty Stage = "counterparty"
	StageDescription  Stage = "description"
	StageComplete     Stage = "complete"
)

var (
	// ErrNoDraft signals the party has no draft in progress.
	ErrNoDraft = errors.New("draft: no draft in progress")
	// ErrWrongStage signals input arriving out of wizard order.
	ErrWrongStage = errors.New("draft: input does not match current stage")
	// ErrIncomplete signals an attempt to finish a draft with missing fields.
	ErrIncomplete = errors.New("draft: draft incomplete")
)

// Draft accumulates the fields collected before deal creation.
type Draft struct {
	PartyID            string
	Stage              Stage
	Amount             decimal.Decimal
	CounterpartyHandle string
	Description        string
	StartedAt          time.Time
}

// Store keeps drafts keyed by party id with a bounded size and TTL.
type Store struct {
	cache *lru.LRU[string, Draft]
}

// NewStore creates a draft store. Entries expire after ttl regardless of
// activity on other keys.
func NewStore(size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = 1024
	}
	return &Store{cache: lru.NewLRU[string, Draft](size, nil, ttl)}
}

// Begin starts a fresh draft for the party, replacing any prior one.
func (s *Store) Begin(partyID string) Draft {
	d := Draft{PartyID: partyID, Stage: StageAmount, StartedAt: time.Now()}
	s.cache.Add(partyID, d)
	return d
}

// Get returns the party's in-progress draft.
func (s *Store) Get(partyID string) (Draft, error) {
	d, ok := s.cache.Get(partyID)
	if !ok {
		return Draft{}, ErrNoDraft
	}
	return d, nil
}

// SetAmount records the deal amount and advances to the counterparty stage.
func (s *Store) SetAmount(partyID string, amount decimal.Decimal) (Draft, error) {
	return s.advance(partyID, StageAmount, func(d *Draft) {
		d.Amount = amount
		d.Stage = StageCounterparty
	})
}

// SetCounterparty records the counterparty handle and advances to the
// description stage.
func (s *Store) SetCounterparty(partyID, handle string) (Draft, error) {
	return s.advance(partyID, StageCounterparty, func(d *Draft) {
		d.CounterpartyHandle = handle
		d.Stage = StageDescription
	})
}

// SetDescription records the description and completes the wizard.
func (s *Store) SetDescription(partyID, description string) (Draft, error) {
	return s.advance(partyID, StageDescription, func(d *Draft) {
		d.Description = description
		d.Stage = StageComplete
	})
}

// Complete returns creation parameters for a finished draft and removes it
// from the store.
func (s *Store) Complete(partyID string) (deal.CreateParams, error) {
	d, err := s.Get(partyID)
	if err != nil {
		return deal.CreateParams{}, err
	}
	if d.Stage != StageComplete {
		return deal.CreateParams{}, ErrIncomplete
	}
	s.cache.Remove(partyID)
	return deal.CreateParams{
		InitiatorID:        d.PartyID,
		CounterpartyHandle: d.CounterpartyHandle,
		Amount:             d.Amount,
		Description:        d.Description,
	}, nil
}

// Clear abandons the party's draft.
func (s *Store) Clear(partyID string) {
	s.cache.Remove(partyID)
}

func (s *Store) advance(partyID string, want Stage, apply func(*Draft)) (Draft, error) {
	d, ok := s.cache.Get(partyID)
	if !ok {
		return Draft{}, ErrNoDraft
	}
	if d.Stage != want {
		return Draft{}, ErrWrongStage
	}
	apply(&d)
	s.cache.Add(partyID, d)
	return d, nil
}
