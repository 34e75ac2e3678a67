package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/transport"
)

// OpenAPIValidator rejects requests that do not match the API document.
// Paths in the document are relative to prefix. Requests for routes the
// document does not describe pass through untouched.
type OpenAPIValidator struct {
	router routers.Router
	prefix string
	logger *slog.Logger
}

func NewOpenAPIValidator(spec []byte, prefix string, logger *slog.Logger) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	doc.Servers = nil

	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}
	return &OpenAPIValidator{router: router, prefix: strings.TrimSuffix(prefix, "/"), logger: logger}, nil
}

func (v *OpenAPIValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		routed := r.Clone(r.Context())
		routed.URL.Path = strings.TrimPrefix(r.URL.Path, v.prefix)
		routed.URL.RawPath = ""

		route, pathParams, err := v.router.FindRoute(routed)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    routed,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				MultiError:         true,
			},
		}
		err = openapi3filter.ValidateRequest(r.Context(), input)
		// the filter drains and replaces the body on the clone
		r.Body = routed.Body
		if err != nil {
			v.reject(w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (v *OpenAPIValidator) reject(w http.ResponseWriter, err error) {
	var details []internal.ValidationError
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		for _, e := range multi {
			details = append(details, describe(e))
		}
	} else {
		details = append(details, describe(err))
	}

	v.logger.Warn("request does not match api document", "error", err)

	appErr := internal.NewValidationError("Validation failed", internal.ErrCodeValidationFailed).
		WithDetails(internal.ValidationErrors{Errors: details})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(transport.Envelope{
		Success: false,
		Message: appErr.Message,
		Error:   appErr,
	})
}

func describe(err error) internal.ValidationError {
	out := internal.ValidationError{Message: err.Error(), Code: string(internal.ErrCodeValidationFailed)}

	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			out.Field = reqErr.Parameter.Name
		} else if reqErr.RequestBody != nil {
			out.Field = "body"
		}
		var schemaErr *openapi3.SchemaError
		if errors.As(reqErr.Err, &schemaErr) {
			if ptr := schemaErr.JSONPointer(); len(ptr) > 0 {
				out.Field = strings.Join(ptr, ".")
			}
			out.Message = schemaErr.Reason
		} else if reqErr.Reason != "" {
			out.Message = reqErr.Reason
		}
	}
	return out
}
