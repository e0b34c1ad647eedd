package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
)

const tokenTTL = 24 * time.Hour

// Service handles authentication for the HTTP surface. Operators log in
// with credentials; parties receive tokens minted by the trusted chat
// gateway through TokenForParty.
type Service struct {
	repo      Repository
	jwtSecret []byte
}

// LoginResult bundles the token and operator returned after a successful login.
type LoginResult struct {
	Token    string
	Operator Operator
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
	}
}

// Register creates a dashboard operator account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Operator, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if req.Email == "" || req.FullName == "" || req.PartyID == "" {
		return nil, fmt.Errorf("auth: email, full_name, and party_id are required")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	op, err := s.repo.CreateOperator(ctx, CreateOperatorParams{
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: string(passwordHash),
		PartyID:      req.PartyID,
	})
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// Login authenticates an operator and returns a JWT token carrying their
// arbitrator party identity.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	op, err := s.repo.GetOperatorByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrOperatorNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(op.PartyID, op.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{Token: token, Operator: op}, nil
}

// TokenForParty mints a token binding a party identity established by the
// chat gateway.
func (s *Service) TokenForParty(partyID string) (string, error) {
	if partyID == "" {
		return "", fmt.Errorf("auth: empty party id")
	}
	return s.generateToken(partyID, RoleParty)
}

// VerifyToken validates a JWT token and returns the subject party id and role.
func (s *Service) VerifyToken(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", fmt.Errorf("auth: invalid token")
	}

	partyID, ok := claims["party_id"].(string)
	if !ok || partyID == "" {
		return "", "", fmt.Errorf("auth: invalid party_id in token")
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return "", "", fmt.Errorf("auth: invalid role in token")
	}
	role := Role(roleStr)
	if role != RoleParty && role != RoleArbitrator {
		return "", "", fmt.Errorf("auth: invalid role %q in token", roleStr)
	}
	return partyID, role, nil
}

func (s *Service) generateToken(partyID string, role Role) (string, error) {
	claims := jwt.MapClaims{
		"party_id": partyID,
		"role":     role,
		"exp":      time.Now().Add(tokenTTL).Unix(),
		"iat":      time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
