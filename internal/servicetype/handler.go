package servicetype

import (
	"context"
	"net/http"

	"github.com/dydact/scrive-aci-sub002/internal/transport"
)

type ServiceAPI interface {
	GetAllServiceTypes(ctx context.Context) ([]ServiceTypeResponse, error)
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

func (h *Handler) GetServiceTypes(w http.ResponseWriter, r *http.Request) {
	serviceTypes, err := h.Service.GetAllServiceTypes(r.Context())
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteSuccess(w, http.StatusOK, "service types retrieved", ServiceTypesResponse{
		ServiceTypes: serviceTypes,
	})
}
