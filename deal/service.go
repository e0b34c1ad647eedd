package deal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"escrowflow/config"
	"escrowflow/identity"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service exposes the deal command surface. Every mutation runs as a single
// transaction built around the machine's locked read-check-write, so two
// concurrent attempts on the same deal cannot both succeed from the same
// source state.
type Service struct {
	pool      TxBeginner
	machine   *Machine
	arbiters  config.Arbiters
	maxAmount decimal.Decimal
}

// NewService creates a deal service.
func NewService(pool TxBeginner, machine *Machine, arbiters config.Arbiters, maxAmount decimal.Decimal) *Service {
	if machine == nil {
		machine = NewMachine()
	}
	return &Service{
		pool:      pool,
		machine:   machine,
		arbiters:  arbiters,
		maxAmount: maxAmount,
	}
}

// ValidateAmount normalizes the amount to two fractional digits and checks
// the positive and maximum bounds.
func (s *Service) ValidateAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if amount.Cmp(s.maxAmount) > 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: amount exceeds maximum %s", ErrInvalidAmount, s.maxAmount)
	}
	return amount, nil
}

// Create validates and persists a new deal, then immediately submits it for
// payment. The deal leaves the transaction in payment_pending with both the
// creation and submission recorded on the timeline.
func (s *Service) Create(ctx context.Context, params CreateParams) (Deal, error) {
	amount, err := s.ValidateAmount(params.Amount)
	if err != nil {
		return Deal{}, err
	}

	desc := strings.TrimSpace(params.Description)
	if n := utf8.RuneCountInString(desc); n < MinDescriptionLen || n > MaxDescriptionLen {
		return Deal{}, fmt.Errorf("%w: description must be %d-%d characters", ErrInvalidDescription, MinDescriptionLen, MaxDescriptionLen)
	}

	handle := identity.NormalizeHandle(params.CounterpartyHandle)
	if !identity.ValidHandle(handle) {
		return Deal{}, identity.ErrInvalidHandle
	}
	if params.InitiatorID == "" {
		return Deal{}, ErrUnauthorized
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Deal{}, fmt.Errorf("deal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var initiatorHandle string
	if err := tx.QueryRow(ctx, `SELECT handle FROM parties WHERE id = $1`, params.InitiatorID).Scan(&initiatorHandle); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, identity.ErrNotFound
		}
		return Deal{}, fmt.Errorf("deal: load initiator: %w", err)
	}
	if identity.NormalizeHandle(initiatorHandle) == handle {
		return Deal{}, ErrSelfDeal
	}

	// Bind the counterparty immediately when the handle is already known.
	var counterpartyID *string
	var resolved string
	err = tx.QueryRow(ctx, `SELECT id FROM parties WHERE lower(handle) = $1`, handle).Scan(&resolved)
	switch {
	case err == nil:
		counterpartyID = &resolved
	case errors.Is(err, pgx.ErrNoRows):
		// counterparty stays unresolved until they interact
	default:
		return Deal{}, fmt.Errorf("deal: resolve counterparty: %w", err)
	}

	const insertSQL = `
		INSERT INTO deals (initiator_id, counterparty_handle, counterparty_id, amount, description, status)
		VALUES ($1, $2, $3, $4, $5, 'created')
		RETURNING ` + dealColumns

	d, err := scanDeal(tx.QueryRow(ctx, insertSQL, params.InitiatorID, handle, counterpartyID, amount, desc))
	if err != nil {
		return Deal{}, fmt.Errorf("deal: insert: %w", err)
	}

	createdPayload := map[string]any{
		"deal_id":             d.ID,
		"amount":              d.Amount.StringFixed(2),
		"counterparty_handle": d.CounterpartyHandle,
	}
	if err := insertTimelineEvent(ctx, tx, d.ID, EventDealCreated, params.InitiatorID, createdPayload); err != nil {
		return Deal{}, err
	}

	// Default flow: submission for payment is immediate. No notification is
	// attached to this edge; the creation outbox message covers it.
	res, err := s.machine.ApplyLocked(ctx, tx, d, TransitionParams{
		DealID:    d.ID,
		ActorID:   params.InitiatorID,
		Sources:   []Status{StatusCreated},
		Next:      StatusPaymentPending,
		EventType: EventPaymentRequested,
	})
	if err != nil {
		return Deal{}, err
	}

	createdPayload["status"] = StatusPaymentPending
	if err := enqueueOutboxWithRecipients(ctx, tx, TopicDealCreated, createdPayload, res.Deal.Recipients()); err != nil {
		return Deal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Deal{}, fmt.Errorf("deal: commit create: %w", err)
	}
	return res.Deal, nil
}

// MarkPaymentDone records that a party claims to have paid on the external
// rail and queues a verification request for the arbitrators. The deal
// status does not change; only the arbitrator decision moves it forward.
func (s *Service) MarkPaymentDone(ctx context.Context, dealID int64, actorID string) (Result, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("deal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.machine.Lock(ctx, tx, dealID)
	if err != nil {
		return Result{}, err
	}
	d, err = s.bindAndAuthorize(ctx, tx, d, actorID)
	if err != nil {
		return Result{}, err
	}
	if d.PaymentConfirmed {
		return Result{Deal: d, Applied: false}, nil
	}
	if d.Status != StatusPaymentPending {
		return Result{}, &StaleStateError{DealID: d.ID, Current: d.Status, Next: StatusPaymentConfirmed}
	}

	payload := map[string]any{
		"deal_id":  d.ID,
		"amount":   d.Amount.StringFixed(2),
		"actor_id": actorID,
	}
	if err := insertTimelineEvent(ctx, tx, d.ID, EventPaymentMarked, actorID, payload); err != nil {
		return Result{}, err
	}

	arbiters := make([]string, 0, len(s.arbiters))
	for id := range s.arbiters {
		arbiters = append(arbiters, id)
	}
	if err := enqueueOutboxWithRecipients(ctx, tx, TopicPaymentMarked, payload, arbiters); err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("deal: commit payment marker: %w", err)
	}
	return Result{Deal: d, Applied: true}, nil
}

// ConfirmPayment is the arbitrator acknowledgement that funds arrived on the
// external rail. Retried confirmations on a deal that already cleared the
// payment are absorbed as a no-op success.
func (s *Service) ConfirmPayment(ctx context.Context, dealID int64, actorID string) (Result, error) {
	if !s.arbiters.Contains(actorID) {
		return Result{}, ErrUnauthorized
	}
	return s.transition(ctx, dealID, actorID, transitionSpec{
		sources:        []Status{StatusPaymentPending},
		next:           StatusPaymentConfirmed,
		eventType:      EventPaymentConfirmed,
		topic:          TopicPaymentConfirmed,
		appliedAlready: func(d Deal) bool { return d.PaymentConfirmed },
	})
}

// RejectPayment cancels a deal whose payment never arrived. Only the
// initiator is notified.
func (s *Service) RejectPayment(ctx context.Context, dealID int64, actorID string) (Result, error) {
	if !s.arbiters.Contains(actorID) {
		return Result{}, ErrUnauthorized
	}
	return s.transition(ctx, dealID, actorID, transitionSpec{
		sources:    []Status{StatusPaymentPending},
		next:       StatusCancelled,
		eventType:  EventPaymentRejected,
		topic:      TopicPaymentRejected,
		recipients: func(d Deal) []string { return []string{d.InitiatorID} },
	})
}

// ConfirmDelivery records that the goods or service changed hands. Either
// deal party may confirm; acting on an unresolved counterparty slot binds
// the caller's identity when their handle matches.
func (s *Service) ConfirmDelivery(ctx context.Context, dealID int64, actorID string) (Result, error) {
	return s.transition(ctx, dealID, actorID, transitionSpec{
		partyOwned:     true,
		sources:        []Status{StatusPaymentConfirmed},
		next:           StatusDelivered,
		eventType:      EventDeliveryConfirmed,
		topic:          TopicDelivered,
		appliedAlready: func(d Deal) bool { return d.DeliveryConfirmed },
	})
}

// Cancel lets a deal party abandon a deal before the payment is confirmed.
func (s *Service) Cancel(ctx context.Context, dealID int64, actorID string) (Result, error) {
	return s.transition(ctx, dealID, actorID, transitionSpec{
		partyOwned: true,
		sources:    []Status{StatusCreated, StatusPaymentPending},
		next:       StatusCancelled,
		eventType:  EventDealCancelled,
		topic:      TopicDealCancelled,
	})
}

type transitionSpec struct {
	partyOwned     bool
	sources        []Status
	next           Status
	eventType      string
	topic          string
	recipients     func(Deal) []string
	appliedAlready func(Deal) bool
}

func (s *Service) transition(ctx context.Context, dealID int64, actorID string, spec transitionSpec) (Result, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("deal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := s.machine.Lock(ctx, tx, dealID)
	if err != nil {
		return Result{}, err
	}

	if spec.partyOwned {
		d, err = s.bindAndAuthorize(ctx, tx, d, actorID)
		if err != nil {
			return Result{}, err
		}
	}

	if spec.appliedAlready != nil && d.Status != spec.next && spec.appliedAlready(d) {
		// The effect landed earlier and the deal has since moved on.
		return Result{Deal: d, Applied: false}, nil
	}

	params := TransitionParams{
		DealID:      d.ID,
		ActorID:     actorID,
		Sources:     spec.sources,
		Next:        spec.next,
		EventType:   spec.eventType,
		OutboxTopic: spec.topic,
	}
	if spec.recipients != nil {
		params.Recipients = spec.recipients(d)
	}

	res, err := s.machine.ApplyLocked(ctx, tx, d, params)
	if err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("deal: commit transition: %w", err)
	}
	return res, nil
}

// bindAndAuthorize verifies the actor is one of the two deal parties. When
// the counterparty slot is unresolved and the actor's registered handle
// matches, the slot is bound to the actor; the bound reference is immutable
// afterwards and the original amount and description are untouched.
func (s *Service) bindAndAuthorize(ctx context.Context, tx pgx.Tx, d Deal, actorID string) (Deal, error) {
	if d.HasParty(actorID) {
		return d, nil
	}
	if d.CounterpartyID != nil || actorID == "" {
		return Deal{}, ErrUnauthorized
	}

	var handle string
	if err := tx.QueryRow(ctx, `SELECT handle FROM parties WHERE id = $1`, actorID).Scan(&handle); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrUnauthorized
		}
		return Deal{}, fmt.Errorf("deal: load actor: %w", err)
	}
	if identity.NormalizeHandle(handle) != d.CounterpartyHandle {
		return Deal{}, ErrUnauthorized
	}

	if _, err := tx.Exec(ctx, `
		UPDATE deals SET counterparty_id = $1, updated_at = now()
		WHERE id = $2 AND counterparty_id IS NULL
	`, actorID, d.ID); err != nil {
		return Deal{}, fmt.Errorf("deal: bind counterparty: %w", err)
	}
	d.CounterpartyID = &actorID
	return d, nil
}

// AuthorizeParty exposes the bind-and-check step to sibling services that
// run their own transactions around the machine.
func (s *Service) AuthorizeParty(ctx context.Context, tx pgx.Tx, d Deal, actorID string) (Deal, error) {
	return s.bindAndAuthorize(ctx, tx, d, actorID)
}

// Machine returns the transition executor shared with sibling services.
func (s *Service) Machine() *Machine {
	return s.machine
}

func enqueueOutboxWithRecipients(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any, recipients []string) error {
	body := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		body[k] = v
	}
	body["recipients"] = recipients
	return enqueueOutbox(ctx, tx, topic, body)
}
