package edi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/transport"
)

type ServiceAPI interface {
	GenerateBatch(ctx context.Context, actor internal.Actor, dto GenerateBatchDTO) (*Batch, error)
	GetBatch(ctx context.Context, actor internal.Actor, id int64) (*Batch, error)
	File(ctx context.Context, actor internal.Actor, id int64) (*Batch, error)
	Organization(ctx context.Context, actor internal.Actor) (*OrganizationInfo, error)
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

// GenerateEDI handles POST /generate_edi
func (h *Handler) GenerateEDI(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	var dto GenerateBatchDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	batch, err := h.Service.GenerateBatch(r.Context(), actor, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusCreated, "EDI batch generated", batch)
}

// GetBatch handles GET /edi_batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	batch, err := h.Service.GetBatch(r.Context(), actor, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, "EDI batch retrieved", batch)
}

// DownloadFile handles GET /edi_batches/{id}/file
func (h *Handler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	batch, err := h.Service.File(r.Context(), actor, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+batch.FileName+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(batch.Content)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(batch.Content)); err != nil {
		h.Logger.Error("failed to write EDI file", "batch_id", id, "error", err)
	}
}

// Organization handles GET /billing/organization
func (h *Handler) Organization(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	info, err := h.Service.Organization(r.Context(), actor)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, "organization billing identifiers retrieved", info)
}
