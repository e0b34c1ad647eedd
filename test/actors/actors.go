package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"escrowflow/deal"
	"escrowflow/dispute"
	"escrowflow/notify"
	"escrowflow/rating"
)

// Creator opens deals between the two seeded parties at a steady rate.
func Creator(ctx context.Context, deals *deal.Service, initiatorID, counterpartyHandle string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		amount := decimal.NewFromInt(int64(10 + rand.Intn(990)))
		_, err := deals.Create(ctx, deal.CreateParams{
			InitiatorID:        initiatorID,
			CounterpartyHandle: counterpartyHandle,
			Amount:             amount,
			Description:        fmt.Sprintf("stress goods batch %d, untracked shipping", rand.Int63()),
		})
		if err != nil && !expected(err) {
			return fmt.Errorf("creator: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// PaymentConfirmer races arbitrator confirmations over the same
// payment_pending deals. Concurrent attempts on one deal must collapse to a
// single applied transition plus idempotent replays.
func PaymentConfirmer(ctx context.Context, pool *pgxpool.Pool, deals *deal.Service, arbiterID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, ok, err := pickDeal(ctx, pool, deal.StatusPaymentPending)
		if err != nil {
			return fmt.Errorf("payment confirmer pick: %w", err)
		}
		if ok {
			if _, err := deals.ConfirmPayment(ctx, id, arbiterID); err != nil && !expected(err) {
				return fmt.Errorf("payment confirmer: %w", err)
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Deliverer confirms delivery on payment_confirmed deals as one of the deal
// parties.
func Deliverer(ctx context.Context, pool *pgxpool.Pool, deals *deal.Service, partyID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, ok, err := pickDeal(ctx, pool, deal.StatusPaymentConfirmed)
		if err != nil {
			return fmt.Errorf("deliverer pick: %w", err)
		}
		if ok {
			if _, err := deals.ConfirmDelivery(ctx, id, partyID); err != nil && !expected(err) {
				return fmt.Errorf("deliverer: %w", err)
			}
		}
		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

// Rater submits ratings on delivered deals, completing them.
func Rater(ctx context.Context, pool *pgxpool.Pool, ratings *rating.Service, partyID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id, ok, err := pickDeal(ctx, pool, deal.StatusDelivered)
		if err != nil {
			return fmt.Errorf("rater pick: %w", err)
		}
		if ok {
			_, err := ratings.Submit(ctx, rating.SubmitParams{
				DealID:  id,
				RaterID: partyID,
				Score:   1 + rand.Intn(5),
			})
			if err != nil && !expected(err) {
				return fmt.Errorf("rater: %w", err)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Disputer raises disputes on in-flight deals and occasionally resolves one
// as the arbitrator. Duplicate opens on the same deal are expected.
func Disputer(ctx context.Context, pool *pgxpool.Pool, disputes *dispute.Service, partyID, arbiterID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		status := deal.StatusPaymentConfirmed
		if rand.Intn(2) == 0 {
			status = deal.StatusPaymentPending
		}
		id, ok, err := pickDeal(ctx, pool, status)
		if err != nil {
			return fmt.Errorf("disputer pick: %w", err)
		}
		if ok {
			_, err := disputes.Open(ctx, id, partyID, fmt.Sprintf("stress dispute on deal %d, goods contested", id))
			if err != nil && !expected(err) {
				return fmt.Errorf("disputer open: %w", err)
			}
		}

		var disputeID int64
		err = pool.QueryRow(ctx, `SELECT id FROM disputes WHERE status = 'open' ORDER BY random() LIMIT 1`).Scan(&disputeID)
		if err == nil {
			outcome := deal.ResolutionOutcomes[rand.Intn(len(deal.ResolutionOutcomes))]
			_, err := disputes.Resolve(ctx, disputeID, arbiterID, "stress resolution", outcome)
			if err != nil && !expected(err) {
				return fmt.Errorf("disputer resolve: %w", err)
			}
		} else if !errors.Is(err, pgx.ErrNoRows) && ctx.Err() == nil {
			return fmt.Errorf("disputer pick dispute: %w", err)
		}

		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// OutboxWorker drains the outbox alongside the actors.
func OutboxWorker(ctx context.Context, dispatcher *notify.Dispatcher, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := dispatcher.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("outbox worker: %w", err)
		}
		time.Sleep(time.Duration(25+rand.Intn(50)) * time.Millisecond)
	}
}

func pickDeal(ctx context.Context, pool *pgxpool.Pool, status deal.Status) (int64, bool, error) {
	var id int64
	err := pool.QueryRow(ctx, `SELECT id FROM deals WHERE status = $1 ORDER BY random() LIMIT 1`, status).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}
		return 0, false, err
	}
	return id, true, nil
}

// expected filters the domain errors contention legitimately produces.
func expected(err error) bool {
	switch {
	case errors.Is(err, deal.ErrStaleState),
		errors.Is(err, deal.ErrNotFound),
		errors.Is(err, deal.ErrUnauthorized),
		errors.Is(err, dispute.ErrAlreadyOpen),
		errors.Is(err, dispute.ErrAlreadyResolved),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, rating.ErrDuplicate),
		errors.Is(err, rating.ErrDealNotDeliverable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}
