package main

import (
	"time"

	"escrowflow/auth"
	"escrowflow/deal"
	"escrowflow/dispute"
	"escrowflow/draft"
	"escrowflow/identity"
	"escrowflow/rating"
)

type partyResponse struct {
	ID             string `json:"id"`
	Handle         string `json:"handle"`
	DisplayName    string `json:"display_name"`
	TrustScore     string `json:"trust_score"`
	CompletedDeals int    `json:"completed_deals"`
	TotalDeals     int    `json:"total_deals"`
}

func toPartyResponse(p identity.Party) partyResponse {
	return partyResponse{
		ID:             p.ID,
		Handle:         p.Handle,
		DisplayName:    p.DisplayName,
		TrustScore:     p.TrustScore.StringFixed(2),
		CompletedDeals: p.CompletedDeals,
		TotalDeals:     p.TotalDeals,
	}
}

type dealResponse struct {
	ID                 int64     `json:"id"`
	InitiatorID        string    `json:"initiator_id"`
	CounterpartyHandle string    `json:"counterparty_handle"`
	CounterpartyID     *string   `json:"counterparty_id,omitempty"`
	Amount             string    `json:"amount"`
	Description        string    `json:"description"`
	Status             string    `json:"status"`
	PaymentConfirmed   bool      `json:"payment_confirmed"`
	DeliveryConfirmed  bool      `json:"delivery_confirmed"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func toDealResponse(d deal.Deal) dealResponse {
	return dealResponse{
		ID:                 d.ID,
		InitiatorID:        d.InitiatorID,
		CounterpartyHandle: d.CounterpartyHandle,
		CounterpartyID:     d.CounterpartyID,
		Amount:             d.Amount.StringFixed(2),
		Description:        d.Description,
		Status:             string(d.Status),
		PaymentConfirmed:   d.PaymentConfirmed,
		DeliveryConfirmed:  d.DeliveryConfirmed,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

func dealListResponse(deals []deal.Deal) map[string]any {
	items := make([]dealResponse, 0, len(deals))
	for _, d := range deals {
		items = append(items, toDealResponse(d))
	}
	return map[string]any{"items": items}
}

type resultResponse struct {
	Deal    dealResponse `json:"deal"`
	Applied bool         `json:"applied"`
}

func toResultResponse(res deal.Result) resultResponse {
	return resultResponse{Deal: toDealResponse(res.Deal), Applied: res.Applied}
}

type disputeResponse struct {
	ID         int64      `json:"id"`
	DealID     int64      `json:"deal_id"`
	RaisedBy   string     `json:"raised_by"`
	Reason     string     `json:"reason"`
	Status     string     `json:"status"`
	ResolvedBy *string    `json:"resolved_by,omitempty"`
	Resolution *string    `json:"resolution,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func toDisputeResponse(rec dispute.Record) disputeResponse {
	return disputeResponse{
		ID:         rec.ID,
		DealID:     rec.DealID,
		RaisedBy:   rec.RaisedBy,
		Reason:     rec.Reason,
		Status:     string(rec.Status),
		ResolvedBy: rec.ResolvedBy,
		Resolution: rec.Resolution,
		CreatedAt:  rec.CreatedAt,
		ResolvedAt: rec.ResolvedAt,
	}
}

type disputeSummaryResponse struct {
	disputeResponse
	DealAmount      string `json:"deal_amount"`
	DealDescription string `json:"deal_description"`
	RaisedByHandle  string `json:"raised_by_handle"`
}

func toDisputeSummaryResponse(s dispute.Summary) disputeSummaryResponse {
	return disputeSummaryResponse{
		disputeResponse: toDisputeResponse(s.Record),
		DealAmount:      s.DealAmount.StringFixed(2),
		DealDescription: s.DealDescription,
		RaisedByHandle:  s.RaisedByHandle,
	}
}

type ratingResponse struct {
	ID        int64     `json:"id"`
	DealID    int64     `json:"deal_id"`
	RaterID   string    `json:"rater_id"`
	RatedID   string    `json:"rated_id"`
	Score     int       `json:"score"`
	Comment   *string   `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toRatingResponse(rec rating.Record) ratingResponse {
	return ratingResponse{
		ID:        rec.ID,
		DealID:    rec.DealID,
		RaterID:   rec.RaterID,
		RatedID:   rec.RatedID,
		Score:     rec.Score,
		Comment:   rec.Comment,
		CreatedAt: rec.CreatedAt,
	}
}

type draftResponse struct {
	Stage              string `json:"stage"`
	Amount             string `json:"amount,omitempty"`
	CounterpartyHandle string `json:"counterparty_handle,omitempty"`
	Description        string `json:"description,omitempty"`
}

func toDraftResponse(d draft.Draft) draftResponse {
	resp := draftResponse{
		Stage:              string(d.Stage),
		CounterpartyHandle: d.CounterpartyHandle,
		Description:        d.Description,
	}
	if d.Stage != draft.StageAmount {
		resp.Amount = d.Amount.StringFixed(2)
	}
	return resp
}

type operatorResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	PartyID  string `json:"party_id"`
	Role     string `json:"role"`
}

func toOperatorResponse(op auth.Operator) operatorResponse {
	return operatorResponse{
		ID:       op.ID,
		Email:    op.Email,
		FullName: op.FullName,
		PartyID:  op.PartyID,
		Role:     string(op.Role),
	}
}
