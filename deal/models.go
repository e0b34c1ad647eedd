package deal

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound signals the deal does not exist.
	ErrNotFound = errors.New("deal: not found")
	// ErrUnauthorized signals the caller is not permitted to act on the deal.
	ErrUnauthorized = errors.New("deal: unauthorized")
	// ErrInvalidAmount signals a non-positive, malformed, or out-of-bound amount.
	ErrInvalidAmount = errors.New("deal: invalid amount")
	// ErrInvalidDescription signals a description outside the length bounds.
	ErrInvalidDescription = errors.New("deal: invalid description")
	// ErrSelfDeal signals an attempt to open a deal against one's own handle.
	ErrSelfDeal = errors.New("deal: counterparty must differ from initiator")
	// ErrStaleState classifies StaleStateError for errors.Is.
	ErrStaleState = errors.New("deal: stale state")
)

// StaleStateError reports a failed optimistic transition: the stored status
// was outside the expected source set because a concurrent actor moved the
// deal first. Callers may re-fetch and retry or surface a conflict.
type StaleStateError struct {
	DealID  int64
	Current Status
	Next    Status
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("deal: stale state on deal %d: cannot move %s -> %s", e.DealID, e.Current, e.Next)
}

// Is makes errors.Is(err, ErrStaleState) match.
func (e *StaleStateError) Is(target error) bool { return target == ErrStaleState }

// Deal mirrors the deals table. Amount and description are immutable after
// creation; the counterparty reference is immutable once resolved. The two
// confirmation booleans are audit projections written only by the state
// machine alongside the corresponding transition.
type Deal struct {
	ID                 int64
	InitiatorID        string
	CounterpartyHandle string
	CounterpartyID     *string
	Amount             decimal.Decimal
	Description        string
	Status             Status
	PaymentConfirmed   bool
	DeliveryConfirmed  bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasParty reports whether the given party is the initiator or the resolved
// counterparty.
func (d Deal) HasParty(partyID string) bool {
	if partyID == "" {
		return false
	}
	if d.InitiatorID == partyID {
		return true
	}
	return d.CounterpartyID != nil && *d.CounterpartyID == partyID
}

// OtherParty returns the resolved party on the opposite side of the deal.
func (d Deal) OtherParty(partyID string) (string, bool) {
	switch {
	case d.InitiatorID == partyID && d.CounterpartyID != nil:
		return *d.CounterpartyID, true
	case d.CounterpartyID != nil && *d.CounterpartyID == partyID:
		return d.InitiatorID, true
	default:
		return "", false
	}
}

// Recipients lists the resolved parties for notification fan-out.
func (d Deal) Recipients() []string {
	out := []string{d.InitiatorID}
	if d.CounterpartyID != nil {
		out = append(out, *d.CounterpartyID)
	}
	return out
}

// CreateParams contains caller-supplied deal creation data.
type CreateParams struct {
	InitiatorID        string
	CounterpartyHandle string
	Amount             decimal.Decimal
	Description        string
}

// Result reports the outcome of a command. Applied is false when the
// requested transition had already been applied and the call was absorbed
// as an idempotent no-op.
type Result struct {
	Deal    Deal
	Applied bool
}

// Description length bounds, matching the creation wizard.
const (
	MinDescriptionLen = 10
	MaxDescriptionLen = 500
)

// Timeline event types recorded by the state machine.
const (
	EventDealCreated       = "DEAL_CREATED"
	EventPaymentRequested  = "PAYMENT_REQUESTED"
	EventPaymentMarked     = "PAYMENT_MARKED"
	EventPaymentConfirmed  = "PAYMENT_CONFIRMED"
	EventPaymentRejected   = "PAYMENT_REJECTED"
	EventDeliveryConfirmed = "DELIVERY_CONFIRMED"
	EventDealCancelled     = "DEAL_CANCELLED"
	EventDealCompleted     = "DEAL_COMPLETED"
	EventDisputeOpened     = "DISPUTE_OPENED"
	EventDisputeResolved   = "DISPUTE_RESOLVED"
)

// Outbox topics published by deal transitions.
const (
	TopicDealCreated      = "deal.created"
	TopicPaymentMarked    = "deal.payment_marked"
	TopicPaymentConfirmed = "deal.payment_confirmed"
	TopicPaymentRejected  = "deal.payment_rejected"
	TopicDelivered        = "deal.delivered"
	TopicDealCancelled    = "deal.cancelled"
	TopicDealCompleted    = "deal.completed"
)
