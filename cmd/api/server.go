package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"escrowflow/auth"
	"escrowflow/deal"
	"escrowflow/dispute"
	"escrowflow/draft"
	"escrowflow/identity"
	"escrowflow/rating"
)

type ctxKey int

const (
	ctxKeyPartyID ctxKey = iota
	ctxKeyRole
)

// DealCommands is the mutation surface consumed by the HTTP layer.
type DealCommands interface {
	Create(ctx context.Context, params deal.CreateParams) (deal.Deal, error)
	MarkPaymentDone(ctx context.Context, dealID int64, actorID string) (deal.Result, error)
	ConfirmPayment(ctx context.Context, dealID int64, actorID string) (deal.Result, error)
	RejectPayment(ctx context.Context, dealID int64, actorID string) (deal.Result, error)
	ConfirmDelivery(ctx context.Context, dealID int64, actorID string) (deal.Result, error)
	Cancel(ctx context.Context, dealID int64, actorID string) (deal.Result, error)
}

// DealQueries is the read surface consumed by the HTTP layer.
type DealQueries interface {
	Get(ctx context.Context, dealID int64) (deal.Deal, error)
	ListForParty(ctx context.Context, partyID string) ([]deal.Deal, error)
	ListPendingConfirmation(ctx context.Context) ([]deal.Deal, error)
}

// DisputeService covers dispute commands and the arbitrator queue.
type DisputeService interface {
	Open(ctx context.Context, dealID int64, raisedBy, reason string) (dispute.Record, error)
	Resolve(ctx context.Context, disputeID int64, actorID, resolution string, outcome deal.Status) (dispute.Record, error)
}

// DisputeQueries is the dispute read surface.
type DisputeQueries interface {
	ListOpen(ctx context.Context) ([]dispute.Summary, error)
}

// RatingService records post-delivery ratings.
type RatingService interface {
	Submit(ctx context.Context, params rating.SubmitParams) (rating.Record, error)
}

// IdentityService registers parties on first interaction.
type IdentityService interface {
	Upsert(ctx context.Context, params identity.UpsertParams) (identity.Party, error)
	Get(ctx context.Context, partyID string) (identity.Party, error)
}

// Authenticator verifies bearer tokens, serves operator login, and mints
// credentials for the provisioning endpoints.
type Authenticator interface {
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.Operator, error)
	TokenForParty(partyID string) (string, error)
	VerifyToken(token string) (string, auth.Role, error)
}

// Server wires the HTTP surface over the domain services.
type Server struct {
	dealService     DealCommands
	dealQueries     DealQueries
	disputeService  DisputeService
	disputeQueries  DisputeQueries
	ratingService   RatingService
	identityService IdentityService
	authService     Authenticator
	drafts          *draft.Store
	provisionToken  string
	log             zerolog.Logger
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/party-token", s.handlePartyToken)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/api/parties", s.handleUpsertParty)
		r.Get("/api/parties/{id}", s.handleParty)

		r.Post("/api/drafts", s.handleBeginDraft)
		r.Get("/api/drafts", s.handleDraft)
		r.Delete("/api/drafts", s.handleClearDraft)
		r.Post("/api/drafts/amount", s.handleDraftAmount)
		r.Post("/api/drafts/counterparty", s.handleDraftCounterparty)
		r.Post("/api/drafts/description", s.handleDraftDescription)
		r.Post("/api/drafts/complete", s.handleCompleteDraft)

		r.Post("/api/deals", s.handleCreateDeal)
		r.Get("/api/deals", s.handleListDeals)
		r.Get("/api/deals/{id}", s.handleDeal)
		r.Post("/api/deals/{id}/payment-done", s.dealAction(func(svc DealCommands) dealActionFunc { return svc.MarkPaymentDone }))
		r.Post("/api/deals/{id}/confirm-delivery", s.dealAction(func(svc DealCommands) dealActionFunc { return svc.ConfirmDelivery }))
		r.Post("/api/deals/{id}/cancel", s.dealAction(func(svc DealCommands) dealActionFunc { return svc.Cancel }))
		r.Post("/api/deals/{id}/disputes", s.handleOpenDispute)
		r.Post("/api/deals/{id}/ratings", s.handleSubmitRating)

		r.Group(func(r chi.Router) {
			r.Use(s.requireArbitrator)
			r.Get("/api/admin/pending", s.handlePendingConfirmations)
			r.Post("/api/admin/deals/{id}/confirm-payment", s.dealAction(func(svc DealCommands) dealActionFunc { return svc.ConfirmPayment }))
			r.Post("/api/admin/deals/{id}/reject-payment", s.dealAction(func(svc DealCommands) dealActionFunc { return svc.RejectPayment }))
			r.Get("/api/admin/disputes", s.handleOpenDisputes)
			r.Post("/api/admin/disputes/{id}/resolve", s.handleResolveDispute)
		})
	})

	return r
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		partyID, role, err := s.authService.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyPartyID, partyID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireArbitrator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if role, _ := r.Context().Value(ctxKeyRole).(auth.Role); role != auth.RoleArbitrator {
			writeError(w, http.StatusForbidden, "arbitrator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": res.Token})
}

// provisioned guards the endpoints used by deployment tooling and the chat
// gateway. They are disabled entirely until PROVISION_TOKEN is configured.
func (s *Server) provisioned(w http.ResponseWriter, r *http.Request) bool {
	if s.provisionToken == "" || r.Header.Get("X-Provision-Token") != s.provisionToken {
		writeError(w, http.StatusForbidden, "provisioning disabled")
		return false
	}
	return true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.provisioned(w, r) {
		return
	}
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	op, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOperatorResponse(*op))
}

// handlePartyToken registers the party on first contact and mints its bearer
// token. The chat gateway calls this once per conversation.
func (s *Server) handlePartyToken(w http.ResponseWriter, r *http.Request) {
	if !s.provisioned(w, r) {
		return
	}
	var req struct {
		PartyID     string `json:"party_id"`
		Handle      string `json:"handle"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := s.identityService.Upsert(r.Context(), identity.UpsertParams{
		ID:          req.PartyID,
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	token, err := s.authService.TokenForParty(p.ID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "party_id": p.ID})
}

func (s *Server) handleUpsertParty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle      string `json:"handle"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := s.identityService.Upsert(r.Context(), identity.UpsertParams{
		ID:          callerID(r),
		Handle:      req.Handle,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPartyResponse(p))
}

func (s *Server) handleParty(w http.ResponseWriter, r *http.Request) {
	p, err := s.identityService.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPartyResponse(p))
}

func (s *Server) handleBeginDraft(w http.ResponseWriter, r *http.Request) {
	d := s.drafts.Begin(callerID(r))
	writeJSON(w, http.StatusCreated, toDraftResponse(d))
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	d, err := s.drafts.Get(callerID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(d))
}

func (s *Server) handleClearDraft(w http.ResponseWriter, r *http.Request) {
	s.drafts.Clear(callerID(r))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDraftAmount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	d, err := s.drafts.SetAmount(callerID(r), amount)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(d))
}

func (s *Server) handleDraftCounterparty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CounterpartyHandle string `json:"counterparty_handle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := s.drafts.SetCounterparty(callerID(r), req.CounterpartyHandle)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(d))
}

func (s *Server) handleDraftDescription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := s.drafts.SetDescription(callerID(r), req.Description)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDraftResponse(d))
}

// handleCompleteDraft turns a finished wizard draft into a real deal. The
// draft is consumed either way; a validation failure means starting over.
func (s *Server) handleCompleteDraft(w http.ResponseWriter, r *http.Request) {
	params, err := s.drafts.Complete(callerID(r))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	d, err := s.dealService.Create(r.Context(), params)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDealResponse(d))
}

func (s *Server) handleCreateDeal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CounterpartyHandle string `json:"counterparty_handle"`
		Amount             string `json:"amount"`
		Description        string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	d, err := s.dealService.Create(r.Context(), deal.CreateParams{
		InitiatorID:        callerID(r),
		CounterpartyHandle: req.CounterpartyHandle,
		Amount:             amount,
		Description:        req.Description,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDealResponse(d))
}

func (s *Server) handleListDeals(w http.ResponseWriter, r *http.Request) {
	deals, err := s.dealQueries.ListForParty(r.Context(), callerID(r))
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dealListResponse(deals))
}

func (s *Server) handleDeal(w http.ResponseWriter, r *http.Request) {
	dealID, ok := dealIDParam(w, r)
	if !ok {
		return
	}
	d, err := s.dealQueries.Get(r.Context(), dealID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	if role != auth.RoleArbitrator && !d.HasParty(callerID(r)) {
		writeError(w, http.StatusForbidden, "not a party of this deal")
		return
	}
	writeJSON(w, http.StatusOK, toDealResponse(d))
}

type dealActionFunc func(ctx context.Context, dealID int64, actorID string) (deal.Result, error)

func (s *Server) dealAction(pick func(DealCommands) dealActionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dealID, ok := dealIDParam(w, r)
		if !ok {
			return
		}
		res, err := pick(s.dealService)(r.Context(), dealID, callerID(r))
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toResultResponse(res))
	}
}

func (s *Server) handleOpenDispute(w http.ResponseWriter, r *http.Request) {
	dealID, ok := dealIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.disputeService.Open(r.Context(), dealID, callerID(r), req.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(rec))
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	dealID, ok := dealIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Score   int    `json:"score"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.ratingService.Submit(r.Context(), rating.SubmitParams{
		DealID:  dealID,
		RaterID: callerID(r),
		Score:   req.Score,
		Comment: req.Comment,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRatingResponse(rec))
}

func (s *Server) handlePendingConfirmations(w http.ResponseWriter, r *http.Request) {
	deals, err := s.dealQueries.ListPendingConfirmation(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dealListResponse(deals))
}

func (s *Server) handleOpenDisputes(w http.ResponseWriter, r *http.Request) {
	items, err := s.disputeQueries.ListOpen(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	out := make([]disputeSummaryResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toDisputeSummaryResponse(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	disputeID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dispute id")
		return
	}
	var req struct {
		Resolution string `json:"resolution"`
		Outcome    string `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rec, err := s.disputeService.Resolve(r.Context(), disputeID, callerID(r), req.Resolution, deal.Status(req.Outcome))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(rec))
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, deal.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, identity.ErrNotFound),
		errors.Is(err, draft.ErrNoDraft):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, deal.ErrUnauthorized),
		errors.Is(err, dispute.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, deal.ErrStaleState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, dispute.ErrAlreadyOpen),
		errors.Is(err, dispute.ErrAlreadyResolved),
		errors.Is(err, rating.ErrDuplicate),
		errors.Is(err, auth.ErrDuplicateEmail),
		errors.Is(err, draft.ErrWrongStage),
		errors.Is(err, draft.ErrIncomplete):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, deal.ErrInvalidAmount),
		errors.Is(err, deal.ErrInvalidDescription),
		errors.Is(err, deal.ErrSelfDeal),
		errors.Is(err, identity.ErrInvalidHandle),
		errors.Is(err, identity.ErrMissingID),
		errors.Is(err, dispute.ErrInvalidReason),
		errors.Is(err, dispute.ErrInvalidOutcome),
		errors.Is(err, rating.ErrInvalidScore),
		errors.Is(err, rating.ErrDealNotDeliverable),
		errors.Is(err, rating.ErrCounterpartyUnresolved),
		errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.serverError(w, err)
	}
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.log.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyPartyID).(string)
	return id
}

func dealIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deal id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
