package authorization

import (
	"context"
	"net/http"
	"time"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/transport"
)

type ServiceAPI interface {
	GetStatus(ctx context.Context, actor internal.Actor, clientID, serviceTypeID int64) (*UnitStatus, error)
	ListStatus(ctx context.Context, actor internal.Actor, clientID int64) (*UnitStatusList, error)
	ResetIfDue(ctx context.Context, actor internal.Actor, id int64, now time.Time) (*UnitStatus, bool, error)
	Create(ctx context.Context, actor internal.Actor, dto CreateAuthorizationDTO) (*Authorization, error)
	Suspend(ctx context.Context, actor internal.Actor, id int64, reason string) (*Authorization, error)
	Reactivate(ctx context.Context, actor internal.Actor, id int64, reason string) (*Authorization, error)
	Terminate(ctx context.Context, actor internal.Actor, id int64, reason string) (*Authorization, error)
	Renew(ctx context.Context, actor internal.Actor, id int64) (*Authorization, error)
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

// UnitStatus handles GET /unit_status?client_id=&service_type_id=
func (h *Handler) UnitStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	clientID, err := h.QueryInt64(r, "client_id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if clientID == 0 {
		h.HandleServiceError(w, internal.NewValidationFieldError("client_id", "client_id is required", internal.ErrCodeValidationFailed))
		return
	}
	serviceTypeID, err := h.QueryInt64(r, "service_type_id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	if serviceTypeID == 0 {
		list, err := h.Service.ListStatus(r.Context(), actor, clientID)
		if err != nil {
			h.HandleServiceError(w, err)
			return
		}
		h.WriteSuccess(w, http.StatusOK, "unit status retrieved", list)
		return
	}

	status, err := h.Service.GetStatus(r.Context(), actor, clientID, serviceTypeID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, "unit status retrieved", status)
}

// CreateAuthorization handles POST /authorizations
func (h *Handler) CreateAuthorization(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	var dto CreateAuthorizationDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	a, err := h.Service.Create(r.Context(), actor, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusCreated, "authorization created", a)
}

// ResetAuthorization handles POST /authorizations/{id}/reset
func (h *Handler) ResetAuthorization(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	var dto ResetDTO
	if r.ContentLength > 0 {
		if err := h.DecodeJSON(r, &dto); err != nil {
			h.HandleServiceError(w, err)
			return
		}
	}
	now := time.Now()
	if !dto.AsOf.IsZero() {
		now = dto.AsOf.Time
	}

	status, changed, err := h.Service.ResetIfDue(r.Context(), actor, id, now)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	msg := "reset not due"
	if changed {
		msg = "weekly counter reset"
	}
	h.WriteSuccess(w, http.StatusOK, msg, status)
}

// SuspendAuthorization handles POST /authorizations/{id}/suspend
func (h *Handler) SuspendAuthorization(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.Service.Suspend, "authorization suspended")
}

// ReactivateAuthorization handles POST /authorizations/{id}/reactivate
func (h *Handler) ReactivateAuthorization(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.Service.Reactivate, "authorization reactivated")
}

// TerminateAuthorization handles POST /authorizations/{id}/terminate
func (h *Handler) TerminateAuthorization(w http.ResponseWriter, r *http.Request) {
	h.statusChange(w, r, h.Service.Terminate, "authorization terminated")
}

type statusFunc func(ctx context.Context, actor internal.Actor, id int64, reason string) (*Authorization, error)

func (h *Handler) statusChange(w http.ResponseWriter, r *http.Request, fn statusFunc, msg string) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	var dto StatusChangeDTO
	if r.ContentLength > 0 {
		if err := h.DecodeJSON(r, &dto); err != nil {
			h.HandleServiceError(w, err)
			return
		}
	}

	a, err := fn(r.Context(), actor, id, dto.Reason)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, msg, a)
}

// RenewAuthorization handles POST /authorizations/{id}/renew
func (h *Handler) RenewAuthorization(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	a, err := h.Service.Renew(r.Context(), actor, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusCreated, "authorization renewed", a)
}
