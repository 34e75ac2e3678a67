package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/transport"
	"github.com/dydact/scrive-aci-sub002/pkg/logger"
)

type GateAPI interface {
	AssignRole(ctx context.Context, actor internal.Actor, dto AssignRoleDTO) (*RoleAssignment, error)
	Capabilities(ctx context.Context, userID int64) (*CapabilityView, error)
}

type Verifier interface {
	Verify(tokenString string) (*Claims, error)
}

type Handler struct {
	*transport.BaseHandler
	Gate     GateAPI
	Verifier Verifier
}

func NewHandler(gate GateAPI, verifier Verifier) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Gate:        gate,
		Verifier:    verifier,
	}
}

// AuthMiddleware verifies the bearer token and binds the caller to the
// request context as an explicit Actor.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.ExtractTokenFromHeader(r)
		if token == "" {
			h.WriteError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := h.Verifier.Verify(token)
		if err != nil {
			h.HandleServiceError(w, err)
			return
		}
		userID, _ := claims.UserID()

		actor := internal.Actor{
			UserID:    userID,
			Email:     claims.Email,
			RequestID: middleware.GetReqID(r.Context()),
		}
		ctx := internal.ContextWithActor(r.Context(), actor)
		ctx = logger.With(ctx, "user_id", userID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AssignRole handles POST /role_assignments
func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	var dto AssignRoleDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	assignment, err := h.Gate.AssignRole(r.Context(), actor, dto)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteSuccess(w, http.StatusCreated, "role assigned", assignment)
}

// MyCapabilities handles GET /me/capabilities
func (h *Handler) MyCapabilities(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.Actor(w, r)
	if !ok {
		return
	}

	view, err := h.Gate.Capabilities(r.Context(), actor.UserID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteSuccess(w, http.StatusOK, "capabilities retrieved", view)
}
