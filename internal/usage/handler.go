package usage

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/transport"
)

type ServiceAPI interface {
	Record(ctx context.Context, actor internal.Actor, dto RecordUsageDTO) (*RecordResult, error)
	ListUnbilled(ctx context.Context, actor internal.Actor, clientID int64, from, to time.Time) (*UnbilledUsageResponse, error)
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

// RecordUsage handles POST /record_usage
func (h *Handler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	var dto RecordUsageDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	result, err := h.Service.Record(r.Context(), actor, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	if result.Duplicate {
		h.WriteSuccess(w, http.StatusOK, "usage already recorded", result)
		return
	}

	msg := "usage recorded"
	if result.AlertLevel.Raised() {
		msg = "usage recorded; authorization is at " + string(result.AlertLevel) + " level"
	}
	h.WriteSuccess(w, http.StatusCreated, msg, result)
}

// UnbilledUsage handles GET /usage/unbilled?client_id=&from=&to=
func (h *Handler) UnbilledUsage(w http.ResponseWriter, r *http.Request) {
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
	from, err := queryDate(r, "from")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	to, err := queryDate(r, "to")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}

	resp, err := h.Service.ListUnbilled(r.Context(), actor, clientID, from, to)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, "unbilled usage retrieved", resp)
}

func queryDate(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(transport.DateLayout, raw)
	if err != nil {
		return time.Time{}, internal.NewValidationFieldError(name, name+" must be YYYY-MM-DD", internal.ErrCodeInvalidDate)
	}
	return t, nil
}
