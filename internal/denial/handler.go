package denial

import (
	"context"
	"net/http"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/transport"
)

type ServiceAPI interface {
	Get(ctx context.Context, actor internal.Actor, id int64) (*DenialDetail, error)
	FileAppeal(ctx context.Context, actor internal.Actor, dto FileAppealDTO) (*Appeal, error)
	Resolve(ctx context.Context, actor internal.Actor, dto ResolveDTO) (*Denial, error)
	AddTask(ctx context.Context, actor internal.Actor, denialID int64, dto AddTaskDTO) (*Task, error)
	CompleteTask(ctx context.Context, actor internal.Actor, denialID, taskID int64) (*Task, error)
	ListTasks(ctx context.Context, actor internal.Actor, denialID int64) ([]*Task, error)
	ListOverdue(ctx context.Context, actor internal.Actor) (*OverdueList, error)
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

// GetDenial handles GET /denials/{id}
func (h *Handler) GetDenial(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	detail, err := h.Service.Get(r.Context(), actor, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, "denial retrieved", detail)
}

// FileAppeal handles POST /denial/appeal
func (h *Handler) FileAppeal(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	var dto FileAppealDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	appeal, err := h.Service.FileAppeal(r.Context(), actor, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusCreated, "appeal filed", appeal)
}

// ResolveDenial handles POST /denial/resolve
func (h *Handler) ResolveDenial(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	var dto ResolveDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	d, err := h.Service.Resolve(r.Context(), actor, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, "denial resolved", d)
}

// AddTask handles POST /denials/{id}/tasks
func (h *Handler) AddTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	var dto AddTaskDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	task, err := h.Service.AddTask(r.Context(), actor, id, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusCreated, "task added", task)
}

// ListTasks handles GET /denials/{id}/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	tasks, err := h.Service.ListTasks(r.Context(), actor, id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, "tasks retrieved", tasks)
}

// CompleteTask handles POST /denials/{id}/tasks/{taskId}/complete
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}
	id, err := h.PathInt64(r, "id")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	taskID, err := h.PathInt64(r, "taskId")
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	task, err := h.Service.CompleteTask(r.Context(), actor, id, taskID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, "task completed", task)
}

// ListOverdue handles GET /denials/overdue
func (h *Handler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	list, err := h.Service.ListOverdue(r.Context(), actor)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteSuccess(w, http.StatusOK, "overdue denials retrieved", list)
}
