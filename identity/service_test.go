package identity

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeRepo struct {
	upserted UpsertParams
	party    Party
	err      error
}

func (f *fakeRepo) Upsert(_ context.Context, params UpsertParams) (Party, error) {
	f.upserted = params
	if f.err != nil {
		return Party{}, f.err
	}
	return Party{ID: params.ID, Handle: params.Handle, DisplayName: params.DisplayName}, nil
}

func (f *fakeRepo) GetByID(_ context.Context, _ string) (Party, error) {
	return f.party, f.err
}

func (f *fakeRepo) GetByHandle(_ context.Context, _ string) (Party, error) {
	return f.party, f.err
}

func TestNormalizeHandle(t *testing.T) {
	cases := map[string]string{
		"@Seller_99":   "seller_99",
		"seller_99":    "seller_99",
		" @BUYER_ONE ": "buyer_one",
		"@":            "",
		"":             "",
	}
	for in, want := range cases {
		if got := NormalizeHandle(in); got != want {
			t.Errorf("NormalizeHandle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidHandle(t *testing.T) {
	valid := []string{"abcde", "seller_99", "A1_b2", strings.Repeat("x", 32)}
	for _, h := range valid {
		if !ValidHandle(h) {
			t.Errorf("expected %q to be valid", h)
		}
	}

	invalid := []string{"", "abcd", strings.Repeat("x", 33), "has space", "dash-ed", "dot.ted", "emoji😀x"}
	for _, h := range invalid {
		if ValidHandle(h) {
			t.Errorf("expected %q to be invalid", h)
		}
	}
}

func TestUpsert_NormalizesHandle(t *testing.T) {
	repo := &fakeRepo{}
	svc := NewService(repo)

	p, err := svc.Upsert(context.Background(), UpsertParams{ID: "p1", Handle: "@Seller_99", DisplayName: "Sam"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.upserted.Handle != "seller_99" {
		t.Fatalf("expected normalized handle, repo saw %q", repo.upserted.Handle)
	}
	if p.Handle != "seller_99" {
		t.Fatalf("expected normalized handle in result, got %q", p.Handle)
	}
}

func TestUpsert_Validation(t *testing.T) {
	svc := NewService(&fakeRepo{})

	if _, err := svc.Upsert(context.Background(), UpsertParams{Handle: "seller_99"}); !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}
	if _, err := svc.Upsert(context.Background(), UpsertParams{ID: "p1", Handle: "ab"}); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}

	// An empty handle is accepted: the party exists before choosing one.
	if _, err := svc.Upsert(context.Background(), UpsertParams{ID: "p1"}); err != nil {
		t.Fatalf("expected empty handle to pass, got %v", err)
	}
}

func TestResolveByHandle_RejectsInvalid(t *testing.T) {
	svc := NewService(&fakeRepo{party: Party{ID: "p2", Handle: "seller_99"}})

	if _, err := svc.ResolveByHandle(context.Background(), "@x"); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}

	p, err := svc.ResolveByHandle(context.Background(), "@Seller_99")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != "p2" {
		t.Fatalf("unexpected party: %+v", p)
	}
}
