package identity

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrInvalidHandle signals a malformed party handle.
	ErrInvalidHandle = errors.New("identity: invalid handle")
	// ErrMissingID signals an empty party identifier.
	ErrMissingID = errors.New("identity: party id required")
)

// Service handles identity registry business logic.
type Service struct {
	repo Repository
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Upsert registers a party or refreshes its display fields. The operation is
// idempotent; the identifier never changes once seen.
func (s *Service) Upsert(ctx context.Context, params UpsertParams) (Party, error) {
	if params.ID == "" {
		return Party{}, ErrMissingID
	}
	handle := NormalizeHandle(params.Handle)
	if handle != "" && !ValidHandle(handle) {
		return Party{}, ErrInvalidHandle
	}
	params.Handle = handle
	return s.repo.Upsert(ctx, params)
}

// Get returns the party for the given identifier.
func (s *Service) Get(ctx context.Context, partyID string) (Party, error) {
	return s.repo.GetByID(ctx, partyID)
}

// ResolveByHandle looks up a party by handle. It is used to bind an
// unresolved counterparty reference to a real identity the first time that
// counterparty interacts with the system.
func (s *Service) ResolveByHandle(ctx context.Context, handle string) (Party, error) {
	handle = NormalizeHandle(handle)
	if !ValidHandle(handle) {
		return Party{}, ErrInvalidHandle
	}
	return s.repo.GetByHandle(ctx, handle)
}

// NormalizeHandle strips the optional @ prefix and lowercases the handle.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// ValidHandle reports whether the handle is 5-32 characters of letters,
// digits, and underscores.
func ValidHandle(handle string) bool {
	if len(handle) < 5 || len(handle) > 32 {
		return false
	}
	for _, r := range handle {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
