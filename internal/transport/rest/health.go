package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/dydact/scrive-aci-sub002/internal/transport"
)

type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status     HealthStatus          `json:"status"`
	CheckedAt  time.Time             `json:"checked_at"`
	Components map[string]CheckEntry `json:"components"`
}

type CheckEntry struct {
	Status     HealthStatus `json:"status"`
	Message    string       `json:"message,omitempty"`
	CheckedAt  time.Time    `json:"checked_at"`
	DurationMs int64        `json:"duration_ms"`
}

// Pinger is satisfied by *sql.DB and *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	*transport.BaseHandler
	checks map[string]Pinger
}

func NewHealthHandler(base *transport.BaseHandler, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{BaseHandler: base, checks: checks}
}

// Ping only says the process is up.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	h.WriteSuccess(w, http.StatusOK, "pong", map[string]string{"status": "OK"})
}

// Health pings every dependency and answers 503 when any is down.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     HealthHealthy,
		Components: make(map[string]CheckEntry, len(h.checks)),
	}

	for name, p := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		start := time.Now()
		err := p.PingContext(ctx)
		cancel()

		entry := CheckEntry{
			Status:     HealthHealthy,
			CheckedAt:  time.Now().UTC(),
			DurationMs: time.Since(start).Milliseconds(),
		}
		if err != nil {
			h.Logger.Error("health check failed", "component", name, "error", err)
			entry.Status = HealthUnhealthy
			entry.Message = "unreachable"
			resp.Status = HealthUnhealthy
		}
		resp.Components[name] = entry
	}
	resp.CheckedAt = time.Now().UTC()

	if resp.Status == HealthUnhealthy {
		h.WriteJSON(w, http.StatusServiceUnavailable, transport.Envelope{
			Success: false,
			Message: "service unhealthy",
			Data:    resp,
		})
		return
	}
	h.WriteSuccess(w, http.StatusOK, "service healthy", resp)
}
