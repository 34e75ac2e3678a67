package middleware

import (
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"

	"github.com/dydact/scrive-aci-sub002/pkg/logger"
)

const TraceHeader = "X-Trace-ID"

// RequestID binds the chi request id and a trace id to the request logger.
// A caller supplied trace id is propagated, otherwise one is generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := logger.With(r.Context(),
			"trace_id", traceID,
			"request_id", middleware.GetReqID(r.Context()),
		)

		w.Header().Set(TraceHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
