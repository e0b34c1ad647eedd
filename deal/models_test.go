package deal

import (
	"errors"
	"fmt"
	"testing"
)

func TestStaleStateError_MatchesSentinel(t *testing.T) {
	err := &StaleStateError{DealID: 7, Current: StatusCompleted, Next: StatusDisputed}

	if !errors.Is(err, ErrStaleState) {
		t.Fatal("expected StaleStateError to match ErrStaleState")
	}

	wrapped := fmt.Errorf("apply transition: %w", err)
	if !errors.Is(wrapped, ErrStaleState) {
		t.Fatal("expected wrapped StaleStateError to match ErrStaleState")
	}

	var stale *StaleStateError
	if !errors.As(wrapped, &stale) {
		t.Fatal("expected errors.As to recover StaleStateError")
	}
	if stale.DealID != 7 || stale.Current != StatusCompleted || stale.Next != StatusDisputed {
		t.Fatalf("unexpected fields: %+v", stale)
	}

	if errors.Is(err, ErrNotFound) {
		t.Fatal("StaleStateError must not match unrelated sentinels")
	}
}

func TestDealHasParty(t *testing.T) {
	counterparty := "p2"
	d := Deal{InitiatorID: "p1", CounterpartyID: &counterparty}

	if !d.HasParty("p1") || !d.HasParty("p2") {
		t.Fatal("expected both resolved parties to match")
	}
	if d.HasParty("p3") {
		t.Fatal("expected stranger to be rejected")
	}
	if d.HasParty("") {
		t.Fatal("expected empty party id to be rejected")
	}

	unresolved := Deal{InitiatorID: "p1"}
	if unresolved.HasParty("p2") {
		t.Fatal("unresolved counterparty must not match by guess")
	}
}

func TestDealOtherParty(t *testing.T) {
	counterparty := "p2"
	d := Deal{InitiatorID: "p1", CounterpartyID: &counterparty}

	other, ok := d.OtherParty("p1")
	if !ok || other != "p2" {
		t.Fatalf("expected p2, got %q ok=%v", other, ok)
	}
	other, ok = d.OtherParty("p2")
	if !ok || other != "p1" {
		t.Fatalf("expected p1, got %q ok=%v", other, ok)
	}

	unresolved := Deal{InitiatorID: "p1"}
	if _, ok := unresolved.OtherParty("p1"); ok {
		t.Fatal("expected no other party while counterparty is unresolved")
	}
}

func TestDealRecipients(t *testing.T) {
	counterparty := "p2"
	d := Deal{InitiatorID: "p1", CounterpartyID: &counterparty}
	got := d.Recipients()
	if len(got) != 2 || got[0] != "p1" || got[1] != "p2" {
		t.Fatalf("unexpected recipients: %v", got)
	}

	unresolved := Deal{InitiatorID: "p1"}
	got = unresolved.Recipients()
	if len(got) != 1 || got[0] != "p1" {
		t.Fatalf("unexpected recipients before binding: %v", got)
	}
}
