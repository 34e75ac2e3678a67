package claim

import (
	"context"
	"net/http"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/transport"
)

type ServiceAPI interface {
	Generate(ctx context.Context, actor internal.Actor, dto GenerateClaimDTO) (*Claim, error)
	Get(ctx context.Context, actor internal.Actor, id int64) (*ClaimView, error)
	RecordOutcome(ctx context.Context, actor internal.Actor, id int64, dto OutcomeDTO) (*Claim, error)
	RecordPayment(ctx context.Context, actor internal.Actor, id int64, dto PaymentDTO) (*Claim, error)
	Resubmit(ctx context.Context, actor internal.Actor, deniedClaimID int64) (*Claim, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, service ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     service,
	}
}

// CreateClaim handles POST /create_claim
func (h *Handler) CreateClaim(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	var dto GenerateClaimDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	c, err := h.Service.Generate(r.Context(), actor, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusCreated, "claim "+c.ClaimNumber+" generated", c)
}

// GetClaim handles GET /claims/{id}
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	view, err := h.Service.Get(r.Context(), actor, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, "claim retrieved", view)
}

// RecordOutcome handles POST /claims/{id}/outcome
func (h *Handler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	var dto OutcomeDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	c, err := h.Service.RecordOutcome(r.Context(), actor, id, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, "claim marked "+string(c.Status), c)
}

// RecordPayment handles POST /claims/{id}/payment
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	var dto PaymentDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	c, err := h.Service.RecordPayment(r.Context(), actor, id, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	msg := "payment recorded"
	if c.Variance() != 0 {
		msg = "payment recorded with variance"
	}
	h.WriteSuccess(w, http.StatusOK, msg, c)
}

// ResubmitClaim handles POST /claims/{id}/resubmit
func (h *Handler) ResubmitClaim(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	c, err := h.Service.Resubmit(r.Context(), actor, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusCreated, "claim resubmitted as "+c.ClaimNumber, c)
}
