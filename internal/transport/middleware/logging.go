package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dydact/scrive-aci-sub002/pkg/logger"
)

const maxLoggedBody = 4 << 10

// secretFields are matched as substrings of lower-cased keys.
var secretFields = []string{
	"password",
	"token",
	"secret",
	"api_key",
	"session",
	"credential",
}

// phiFields are matched exactly. They identify a client or the organisation
// for billing and never reach the log.
var phiFields = map[string]struct{}{
	"medicaid_id":   {},
	"billing_id":    {},
	"client_name":   {},
	"name":          {},
	"npi":           {},
	"tax_id":        {},
	"documentation": {},
	"notes":         {},
	"reason":        {},
}

// LoggingMiddleware logs each request and response with secrets and PHI
// masked. Non-JSON response bodies (EDI files) are summarised by size only.
func LoggingMiddleware(base *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lg := logger.From(r.Context())
			if lg == nil {
				lg = base
			}

			logRequest(lg, r)

			ww := &responseWriter{
				ResponseWriter: w,
				body:           &bytes.Buffer{},
			}

			next.ServeHTTP(ww, r)

			logResponse(lg, r, ww, time.Since(start))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the response body.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
	body       *bytes.Buffer
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.size += len(b)
	if room := maxLoggedBody - rw.body.Len(); room > 0 {
		if len(b) > room {
			rw.body.Write(b[:room])
		} else {
			rw.body.Write(b)
		}
	}
	return rw.ResponseWriter.Write(b)
}

func logRequest(lg *slog.Logger, r *http.Request) {
	var bodyBytes []byte
	if r.Body != nil {
		bodyBytes, _ = io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	}

	lg.Info("incoming request",
		"method", r.Method,
		"path", r.URL.Path,
		"query", r.URL.RawQuery,
		"remote_addr", r.RemoteAddr,
		"user_agent", r.UserAgent(),
		"headers", filterHeaders(r.Header),
		"body", filterBody(bodyBytes),
	)
}

func logResponse(lg *slog.Logger, r *http.Request, rw *responseWriter, duration time.Duration) {
	statusCode := rw.statusCode
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	level := slog.LevelInfo
	if statusCode >= 400 && statusCode < 500 {
		level = slog.LevelWarn
	} else if statusCode >= 500 {
		level = slog.LevelError
	}

	body := "[omitted]"
	if strings.HasPrefix(rw.Header().Get("Content-Type"), "application/json") {
		body = filterBody(rw.body.Bytes())
	}

	lg.Log(r.Context(), level, "response",
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
		"response_size", rw.size,
		"body", body,
	)
}

func isSensitive(key string) bool {
	key = strings.ToLower(key)
	if _, ok := phiFields[key]; ok {
		return true
	}
	for _, f := range secretFields {
		if strings.Contains(key, f) {
			return true
		}
	}
	return false
}

func filterHeaders(headers http.Header) map[string]string {
	filtered := make(map[string]string, len(headers))
	for name, values := range headers {
		if isSensitive(name) || strings.EqualFold(name, "Authorization") || strings.EqualFold(name, "Cookie") {
			filtered[name] = "[FILTERED]"
			continue
		}
		filtered[name] = strings.Join(values, ", ")
	}
	return filtered
}

func filterBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return "[FILTERED - non-JSON body]"
	}

	out, err := json.Marshal(filterJSON(data))
	if err != nil {
		return "[ERROR - failed to marshal filtered JSON]"
	}
	return string(out)
}

func filterJSON(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		filtered := make(map[string]interface{}, len(v))
		for key, value := range v {
			if isSensitive(key) {
				filtered[key] = "[FILTERED]"
				continue
			}
			filtered[key] = filterJSON(value)
		}
		return filtered
	case []interface{}:
		filtered := make([]interface{}, len(v))
		for i, item := range v {
			filtered[i] = filterJSON(item)
		}
		return filtered
	default:
		return v
	}
}
