package auth

import "time"

// Role distinguishes the two caller classes on the HTTP surface.
type Role string

const (
	// RoleParty is a deal participant authenticated by the chat gateway.
	RoleParty Role = "party"
	// RoleArbitrator is a dashboard operator allowed to confirm or reject
	// payments and resolve disputes.
	RoleArbitrator Role = "arbitrator"
)

// Operator is a dashboard account. It mirrors the operators table.
type Operator struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	PartyID      string
	Role         Role
	CreatedAt    time.Time
}

// RegisterRequest contains operator registration data.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	PartyID  string `json:"party_id"`
}

// LoginRequest contains operator login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
