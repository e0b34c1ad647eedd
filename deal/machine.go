package deal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Machine enforces the deal transition table. It is the single owner of
// status writes: the dispute manager and rating ledger drive their status
// changes through ApplyLocked rather than touching the deals table.
type Machine struct{}

// NewMachine returns the transition executor.
func NewMachine() *Machine {
	return &Machine{}
}

// TransitionParams describes one attempted transition. Sources is the set
// of statuses the stored row must currently be in; anything else fails with
// StaleStateError. An empty OutboxTopic suppresses the outbox write for
// transitions with no notification side effect.
type TransitionParams struct {
	DealID      int64
	ActorID     string
	Sources     []Status
	Next        Status
	EventType   string
	Payload     map[string]any
	OutboxTopic string
	Recipients  []string
}

const dealColumns = `id, initiator_id, counterparty_handle, counterparty_id, amount, description,
       status, payment_confirmed, delivery_confirmed, created_at, updated_at`

// Lock reads the deal row FOR UPDATE inside the caller's transaction so the
// subsequent check-and-write cannot race a concurrent transition.
func (m *Machine) Lock(ctx context.Context, tx pgx.Tx, dealID int64) (Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE id = $1 FOR UPDATE`

	d, err := scanDeal(tx.QueryRow(ctx, query, dealID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Deal{}, ErrNotFound
		}
		return Deal{}, fmt.Errorf("deal: lock deal %d: %w", dealID, err)
	}
	return d, nil
}

// ApplyTx locks the deal and applies the transition in one step.
func (m *Machine) ApplyTx(ctx context.Context, tx pgx.Tx, params TransitionParams) (Result, error) {
	d, err := m.Lock(ctx, tx, params.DealID)
	if err != nil {
		return Result{}, err
	}
	return m.ApplyLocked(ctx, tx, d, params)
}

// ApplyLocked validates the transition against the locked row and performs
// the status write, timeline append, and outbox enqueue. A row already at
// the destination status is absorbed as an idempotent no-op success.
func (m *Machine) ApplyLocked(ctx context.Context, tx pgx.Tx, d Deal, params TransitionParams) (Result, error) {
	if d.Status == params.Next {
		return Result{Deal: d, Applied: false}, nil
	}

	allowed := false
	for _, src := range params.Sources {
		if d.Status == src {
			allowed = true
			break
		}
	}
	if !allowed || !CanTransition(d.Status, params.Next) {
		return Result{}, &StaleStateError{DealID: d.ID, Current: d.Status, Next: params.Next}
	}

	const updateSQL = `
		UPDATE deals
		SET status = $1,
		    payment_confirmed = payment_confirmed OR $2,
		    delivery_confirmed = delivery_confirmed OR $3,
		    updated_at = now()
		WHERE id = $4
		RETURNING ` + dealColumns

	updated, err := scanDeal(tx.QueryRow(ctx, updateSQL,
		params.Next,
		params.Next == StatusPaymentConfirmed,
		params.Next == StatusDelivered,
		d.ID,
	))
	if err != nil {
		return Result{}, fmt.Errorf("deal: update status: %w", err)
	}

	payload := map[string]any{
		"deal_id":         d.ID,
		"previous_status": d.Status,
		"next_status":     params.Next,
	}
	if params.ActorID != "" {
		payload["actor_id"] = params.ActorID
	}
	for k, v := range params.Payload {
		payload[k] = v
	}

	if err := insertTimelineEvent(ctx, tx, d.ID, params.EventType, params.ActorID, payload); err != nil {
		return Result{}, err
	}

	if params.OutboxTopic != "" {
		recipients := params.Recipients
		if recipients == nil {
			recipients = updated.Recipients()
		}
		payload["recipients"] = recipients
		if err := enqueueOutbox(ctx, tx, params.OutboxTopic, payload); err != nil {
			return Result{}, err
		}
	}

	return Result{Deal: updated, Applied: true}, nil
}

func insertTimelineEvent(ctx context.Context, tx pgx.Tx, dealID int64, eventType, actorID string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("deal: marshal timeline payload: %w", err)
	}
	var actor any
	if actorID != "" {
		actor = actorID
	}
	const q = `
		INSERT INTO timeline_events (deal_id, type, payload, actor_id)
		VALUES ($1, $2, $3::jsonb, $4)
	`
	if _, err := tx.Exec(ctx, q, dealID, eventType, body, actor); err != nil {
		return fmt.Errorf("deal: insert timeline event: %w", err)
	}
	return nil
}

func enqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("deal: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (id, topic, payload) VALUES ($1, $2, $3::jsonb)`
	if _, err := tx.Exec(ctx, q, uuid.NewString(), topic, body); err != nil {
		return fmt.Errorf("deal: enqueue outbox: %w", err)
	}
	return nil
}

func scanDeal(row pgx.Row) (Deal, error) {
	var d Deal
	err := row.Scan(
		&d.ID,
		&d.InitiatorID,
		&d.CounterpartyHandle,
		&d.CounterpartyID,
		&d.Amount,
		&d.Description,
		&d.Status,
		&d.PaymentConfirmed,
		&d.DeliveryConfirmed,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return Deal{}, err
	}
	return d, nil
}
