package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"escrowflow/auth"
	"escrowflow/deal"
	"escrowflow/dispute"
	"escrowflow/draft"
	"escrowflow/identity"
	"escrowflow/rating"
)

type stubDealCommands struct {
	createDeal   deal.Deal
	createErr    error
	createParams deal.CreateParams
	result       deal.Result
	resultErr    error
	lastAction   string
}

func (s *stubDealCommands) Create(_ context.Context, params deal.CreateParams) (deal.Deal, error) {
	s.lastAction = "create"
	s.createParams = params
	return s.createDeal, s.createErr
}

func (s *stubDealCommands) MarkPaymentDone(_ context.Context, _ int64, _ string) (deal.Result, error) {
	s.lastAction = "mark-payment"
	return s.result, s.resultErr
}

func (s *stubDealCommands) ConfirmPayment(_ context.Context, _ int64, _ string) (deal.Result, error) {
	s.lastAction = "confirm-payment"
	return s.result, s.resultErr
}

func (s *stubDealCommands) RejectPayment(_ context.Context, _ int64, _ string) (deal.Result, error) {
	s.lastAction = "reject-payment"
	return s.result, s.resultErr
}

func (s *stubDealCommands) ConfirmDelivery(_ context.Context, _ int64, _ string) (deal.Result, error) {
	s.lastAction = "confirm-delivery"
	return s.result, s.resultErr
}

func (s *stubDealCommands) Cancel(_ context.Context, _ int64, _ string) (deal.Result, error) {
	s.lastAction = "cancel"
	return s.result, s.resultErr
}

type stubDealQueries struct {
	deal    deal.Deal
	deals   []deal.Deal
	pending []deal.Deal
	err     error
}

func (s *stubDealQueries) Get(_ context.Context, _ int64) (deal.Deal, error) {
	return s.deal, s.err
}

func (s *stubDealQueries) ListForParty(_ context.Context, _ string) ([]deal.Deal, error) {
	return s.deals, s.err
}

func (s *stubDealQueries) ListPendingConfirmation(_ context.Context) ([]deal.Deal, error) {
	return s.pending, s.err
}

type stubDisputes struct {
	record     dispute.Record
	openErr    error
	resolveErr error
}

func (s *stubDisputes) Open(_ context.Context, _ int64, _, _ string) (dispute.Record, error) {
	return s.record, s.openErr
}

func (s *stubDisputes) Resolve(_ context.Context, _ int64, _, _ string, _ deal.Status) (dispute.Record, error) {
	return s.record, s.resolveErr
}

type stubDisputeQueries struct {
	items []dispute.Summary
	err   error
}

func (s *stubDisputeQueries) ListOpen(_ context.Context) ([]dispute.Summary, error) {
	return s.items, s.err
}

type stubRatings struct {
	record rating.Record
	err    error
}

func (s *stubRatings) Submit(_ context.Context, _ rating.SubmitParams) (rating.Record, error) {
	return s.record, s.err
}

type stubIdentity struct {
	party identity.Party
	err   error
}

func (s *stubIdentity) Upsert(_ context.Context, _ identity.UpsertParams) (identity.Party, error) {
	return s.party, s.err
}

func (s *stubIdentity) Get(_ context.Context, _ string) (identity.Party, error) {
	return s.party, s.err
}

// stubAuth maps bearer tokens directly to identities.
type stubAuth struct {
	tokens     map[string]auth.Role
	loginRes   auth.LoginResult
	loginErr   error
	registered *auth.RegisterRequest
}

func (s *stubAuth) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	return s.loginRes, s.loginErr
}

func (s *stubAuth) Register(_ context.Context, req auth.RegisterRequest) (*auth.Operator, error) {
	s.registered = &req
	return &auth.Operator{
		ID:       "op-1",
		Email:    req.Email,
		FullName: req.FullName,
		PartyID:  req.PartyID,
		Role:     auth.RoleArbitrator,
	}, nil
}

func (s *stubAuth) TokenForParty(partyID string) (string, error) {
	return "minted-" + partyID, nil
}

func (s *stubAuth) VerifyToken(token string) (string, auth.Role, error) {
	role, ok := s.tokens[token]
	if !ok {
		return "", "", errors.New("unknown token")
	}
	return token, role, nil
}

func newTestServer(t *testing.T) (*Server, *stubDealCommands) {
	t.Helper()
	cmds := &stubDealCommands{}
	srv := &Server{
		dealService:     cmds,
		dealQueries:     &stubDealQueries{},
		disputeService:  &stubDisputes{},
		disputeQueries:  &stubDisputeQueries{},
		ratingService:   &stubRatings{},
		identityService: &stubIdentity{},
		authService: &stubAuth{tokens: map[string]auth.Role{
			"p1":    auth.RoleParty,
			"p2":    auth.RoleParty,
			"arb-1": auth.RoleArbitrator,
		}},
		drafts:         draft.NewStore(8, time.Minute),
		provisionToken: "prov-secret",
	}
	return srv, cmds
}

func doRequest(t *testing.T, srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleCreateDeal_Success(t *testing.T) {
	srv, cmds := newTestServer(t)
	cmds.createDeal = deal.Deal{
		ID:                 1,
		InitiatorID:        "p1",
		CounterpartyHandle: "seller_99",
		Amount:             decimal.RequireFromString("125.50"),
		Description:        "one vintage camera, working",
		Status:             deal.StatusPaymentPending,
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/deals", "p1",
		`{"counterparty_handle":"@seller_99","amount":"125.50","description":"one vintage camera, working"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp dealResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 1 || resp.Amount != "125.50" || resp.Status != string(deal.StatusPaymentPending) {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleCreateDeal_BadAmount(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/deals", "p1",
		`{"counterparty_handle":"@seller_99","amount":"abc","description":"one vintage camera, working"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCreateDeal_DomainValidation(t *testing.T) {
	srv, cmds := newTestServer(t)
	cmds.createErr = deal.ErrSelfDeal

	rec := doRequest(t, srv, http.MethodPost, "/api/deals", "p1",
		`{"counterparty_handle":"@p_one_1","amount":"10.00","description":"long enough description"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAuthentication_Required(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/deals", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/deals", "forged", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", rec.Code)
	}
}

func TestAdminRoutes_RequireArbitratorRole(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/admin/pending", "p1", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for party role, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/admin/pending", "arb-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for arbitrator, got %d", rec.Code)
	}
}

func TestDealAction_StaleStateConflict(t *testing.T) {
	srv, cmds := newTestServer(t)
	cmds.resultErr = &deal.StaleStateError{DealID: 1, Current: deal.StatusCompleted, Next: deal.StatusDelivered}

	rec := doRequest(t, srv, http.MethodPost, "/api/deals/1/confirm-delivery", "p1", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestDealAction_IdempotentReplay(t *testing.T) {
	srv, cmds := newTestServer(t)
	cmds.result = deal.Result{
		Deal:    deal.Deal{ID: 1, InitiatorID: "p1", Status: deal.StatusDelivered, DeliveryConfirmed: true},
		Applied: false,
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/deals/1/confirm-delivery", "p1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp resultResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Applied {
		t.Fatal("expected replay to report applied=false")
	}
}

func TestDealAction_BadID(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/deals/abc/cancel", "p1", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleDeal_HidesForeignDeals(t *testing.T) {
	srv, _ := newTestServer(t)
	counterparty := "p2"
	srv.dealQueries = &stubDealQueries{deal: deal.Deal{
		ID:             1,
		InitiatorID:    "p1",
		CounterpartyID: &counterparty,
		Status:         deal.StatusPaymentPending,
	}}

	rec := doRequest(t, srv, http.MethodGet, "/api/deals/1", "arb-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected arbitrator access, got %d", rec.Code)
	}

	srv2, _ := newTestServer(t)
	srv2.dealQueries = srv.dealQueries
	srv2.authService = &stubAuth{tokens: map[string]auth.Role{"p3": auth.RoleParty}}
	rec = doRequest(t, srv2, http.MethodGet, "/api/deals/1", "p3", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger, got %d", rec.Code)
	}
}

func TestHandleOpenDispute_Conflict(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.disputeService = &stubDisputes{openErr: dispute.ErrAlreadyOpen}

	rec := doRequest(t, srv, http.MethodPost, "/api/deals/1/disputes", "p1",
		`{"reason":"item never arrived at my address"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleSubmitRating_Duplicate(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.ratingService = &stubRatings{err: rating.ErrDuplicate}

	rec := doRequest(t, srv, http.MethodPost, "/api/deals/1/ratings", "p1", `{"score":5}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleResolveDispute_Success(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.disputeService = &stubDisputes{record: dispute.Record{
		ID:     3,
		DealID: 1,
		Status: dispute.StatusResolved,
	}}

	rec := doRequest(t, srv, http.MethodPost, "/api/admin/disputes/3/resolve", "arb-1",
		`{"resolution":"refund issued to the buyer","outcome":"cancelled"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp disputeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 3 || resp.Status != string(dispute.StatusResolved) {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleLogin(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.authService = &stubAuth{
		tokens:   map[string]auth.Role{},
		loginRes: auth.LoginResult{Token: "issued-token"},
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/auth/login", "",
		`{"email":"ops@example.com","password":"supersafe"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	srv.authService = &stubAuth{tokens: map[string]auth.Role{}, loginErr: auth.ErrInvalidCredentials}
	rec = doRequest(t, srv, http.MethodPost, "/api/auth/login", "",
		`{"email":"ops@example.com","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func doProvisionRequest(t *testing.T, srv *Server, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("X-Provision-Token", token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestDraftWizard_HappyPath(t *testing.T) {
	srv, cmds := newTestServer(t)
	cmds.createDeal = deal.Deal{
		ID:     7,
		Status: deal.StatusPaymentPending,
		Amount: decimal.RequireFromString("75.00"),
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/drafts", "p1", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("begin draft: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/drafts/amount", "p1", `{"amount":"75.00"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set amount: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/drafts/counterparty", "p1", `{"counterparty_handle":"@seller_99"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set counterparty: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/drafts/description", "p1", `{"description":"one vintage camera, working"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set description: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var dr draftResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &dr); err != nil {
		t.Fatalf("decode draft: %v", err)
	}
	if dr.Stage != "complete" || dr.Amount != "75.00" || dr.CounterpartyHandle != "@seller_99" {
		t.Fatalf("unexpected draft payload: %+v", dr)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/drafts/complete", "p1", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("complete: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if cmds.lastAction != "create" {
		t.Fatalf("expected deal creation, got action %q", cmds.lastAction)
	}
	if cmds.createParams.InitiatorID != "p1" ||
		cmds.createParams.CounterpartyHandle != "@seller_99" ||
		!cmds.createParams.Amount.Equal(decimal.RequireFromString("75.00")) {
		t.Fatalf("unexpected creation params: %+v", cmds.createParams)
	}

	// The draft is consumed; completing again starts from nothing.
	rec = doRequest(t, srv, http.MethodPost, "/api/drafts/complete", "p1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after draft consumed, got %d", rec.Code)
	}
}

func TestDraftWizard_StageOrder(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/drafts/amount", "p1", `{"amount":"10.00"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a draft, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/drafts", "p1", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("begin draft: expected 201, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/drafts/description", "p1", `{"description":"skipping ahead is not allowed"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for out-of-order input, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/drafts/complete", "p1", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for incomplete draft, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDraftWizard_Clear(t *testing.T) {
	srv, _ := newTestServer(t)

	doRequest(t, srv, http.MethodPost, "/api/drafts", "p1", "")
	rec := doRequest(t, srv, http.MethodDelete, "/api/drafts", "p1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/drafts", "p1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after clear, got %d", rec.Code)
	}
}

func TestProvisioning_Register(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"email":"ops@example.com","password":"supersafe","full_name":"Ops Person","party_id":"arb-1"}`

	rec := doProvisionRequest(t, srv, "/api/auth/register", "", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without provision token, got %d", rec.Code)
	}

	rec = doProvisionRequest(t, srv, "/api/auth/register", "wrong-secret", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong provision token, got %d", rec.Code)
	}

	rec = doProvisionRequest(t, srv, "/api/auth/register", "prov-secret", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp operatorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode operator: %v", err)
	}
	if resp.Email != "ops@example.com" || resp.Role != string(auth.RoleArbitrator) {
		t.Fatalf("unexpected operator payload: %+v", resp)
	}
}

func TestProvisioning_DisabledWithoutToken(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.provisionToken = ""

	rec := doProvisionRequest(t, srv, "/api/auth/register", "", `{"email":"ops@example.com","password":"supersafe","full_name":"Ops","party_id":"arb-1"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 when provisioning disabled, got %d", rec.Code)
	}
}

func TestProvisioning_PartyToken(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.identityService = &stubIdentity{party: identity.Party{ID: "p9", Handle: "fresh_party"}}

	rec := doProvisionRequest(t, srv, "/api/auth/party-token", "prov-secret",
		`{"party_id":"p9","handle":"@fresh_party","display_name":"Fresh"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	if resp["token"] != "minted-p9" || resp["party_id"] != "p9" {
		t.Fatalf("unexpected token response: %+v", resp)
	}
}
