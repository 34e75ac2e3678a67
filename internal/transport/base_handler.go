package transport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/pkg/logger"
)

const DateLayout = "2006-01-02"

// Envelope is the body of every API response.
type Envelope struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Data    interface{}        `json:"data,omitempty"`
	Error   *internal.AppError `json:"error,omitempty"`
}

// BaseHandler provides common functionality for HTTP handlers
type BaseHandler struct {
	Logger *slog.Logger
}

// NewBaseHandler creates a base handler with logger
func NewBaseHandler(lg *slog.Logger) *BaseHandler {
	if lg == nil {
		lg = logger.LoggerWrapper()
		if lg == nil {
			lg = slog.Default()
		}
	}
	return &BaseHandler{Logger: lg}
}

// WriteJSON writes a JSON response
func (h *BaseHandler) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Error("failed to encode JSON response", "error", err)
	}
}

func (h *BaseHandler) WriteSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	h.WriteJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// WriteError writes an error response
func (h *BaseHandler) WriteError(w http.ResponseWriter, status int, message string) {
	h.Logger.Warn("http error", "status", status, "message", message)
	h.WriteJSON(w, status, Envelope{Success: false, Message: message})
}

// HandleServiceError maps service errors to the response envelope. Internal
// failures are logged with their cause and answered with a generic message.
func (h *BaseHandler) HandleServiceError(w http.ResponseWriter, err error) {
	appErr, ok := internal.IsAppError(err)
	if !ok || appErr.Type == internal.ErrorTypeInternal || appErr.StatusCode == 0 {
		h.Logger.Error("unexpected service error", "error", err)
		h.WriteJSON(w, http.StatusInternalServerError, Envelope{
			Success: false,
			Message: "internal server error",
		})
		return
	}

	h.Logger.Warn("request rejected", "code", appErr.Code, "status", appErr.StatusCode, "error", err)
	h.WriteJSON(w, appErr.StatusCode, Envelope{
		Success: false,
		Message: appErr.GetDetailedMessage(),
		Error:   appErr,
	})
}

// DecodeJSON decodes the request body into dst and rejects unknown fields.
func (h *BaseHandler) DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return internal.NewValidationError("request body is required", internal.ErrCodeValidationFailed)
		}
		return internal.NewValidationError("invalid request body: "+err.Error(), internal.ErrCodeValidationFailed)
	}
	return nil
}

// Actor returns the authenticated caller or writes a 401.
func (h *BaseHandler) Actor(w http.ResponseWriter, r *http.Request) (internal.Actor, bool) {
	actor, ok := internal.ActorFromContext(r.Context())
	if !ok {
		h.WriteError(w, http.StatusUnauthorized, "unauthorized")
		return internal.Actor{}, false
	}
	return actor, true
}

// PathInt64 parses a positive integer URL parameter.
func (h *BaseHandler) PathInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, internal.NewValidationFieldError(name, "invalid "+name, internal.ErrCodeValidationFailed)
	}
	return id, nil
}

// QueryInt64 parses an integer query parameter; missing returns 0.
func (h *BaseHandler) QueryInt64(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, internal.NewValidationFieldError(name, "invalid "+name, internal.ErrCodeValidationFailed)
	}
	return v, nil
}

// ExtractTokenFromHeader extracts Bearer token from Authorization header
func (h *BaseHandler) ExtractTokenFromHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) < 7 || !strings.EqualFold(authHeader[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(authHeader[7:])
}

// Date is a calendar date that marshals as YYYY-MM-DD.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		d.Time = time.Time{}
		return nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
	}
	d.Time = t.UTC()
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.Format(DateLayout) + `"`), nil
}
