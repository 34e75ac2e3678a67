package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/dydact/scrive-aci-sub002/api"
	"github.com/dydact/scrive-aci-sub002/internal/auth"
	"github.com/dydact/scrive-aci-sub002/internal/authorization"
	"github.com/dydact/scrive-aci-sub002/internal/claim"
	"github.com/dydact/scrive-aci-sub002/internal/denial"
	"github.com/dydact/scrive-aci-sub002/internal/edi"
	"github.com/dydact/scrive-aci-sub002/internal/metrics"
	"github.com/dydact/scrive-aci-sub002/internal/servicetype"
	"github.com/dydact/scrive-aci-sub002/internal/transport/middleware"
	"github.com/dydact/scrive-aci-sub002/internal/transport/swagger"
	"github.com/dydact/scrive-aci-sub002/internal/usage"
)

const (
	APIPrefix   = "/api/v1"
	OpenAPIPath = "/openapi.yml"
)

type Handlers struct {
	Health        *HealthHandler
	Auth          *auth.Handler
	ServiceType   *servicetype.Handler
	Authorization *authorization.Handler
	Usage         *usage.Handler
	Claim         *claim.Handler
	Denial        *denial.Handler
	EDI           *edi.Handler
}

type Options struct {
	AllowedOrigins string
	MetricsPath    string
	RateLimiter    *middleware.RateLimiter
	Validator      *middleware.OpenAPIValidator
}

func RegisterAllRoutes(router *chi.Mux, h Handlers, opts Options, logger *slog.Logger) {
	router.Use(middleware.CORS(opts.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(metrics.Instrument)

	router.Get(OpenAPIPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(api.OpenAPI)
	})
	router.Handle("/swagger/*", swagger.Handler(OpenAPIPath))
	if opts.MetricsPath != "" {
		router.Handle(opts.MetricsPath, metrics.Handler())
	}

	router.Route(APIPrefix, func(r chi.Router) {
		r.Get("/health", h.Health.Health)
		r.Get("/ping", h.Health.Ping)

		r.Group(func(pr chi.Router) {
			pr.Use(middleware.LoggingMiddleware(logger))
			pr.Use(h.Auth.AuthMiddleware)
			if opts.RateLimiter != nil {
				pr.Use(opts.RateLimiter.Middleware)
			}
			if opts.Validator != nil {
				pr.Use(opts.Validator.Middleware)
			}

			pr.Get("/me/capabilities", h.Auth.MyCapabilities)
			pr.Post("/role_assignments", h.Auth.AssignRole)
			pr.Get("/service_types", h.ServiceType.GetServiceTypes)
			pr.Get("/billing/organization", h.EDI.Organization)

			pr.Get("/unit_status", h.Authorization.UnitStatus)
			pr.Route("/authorizations", func(ar chi.Router) {
				ar.Post("/", h.Authorization.CreateAuthorization)
				ar.Post("/{id}/reset", h.Authorization.ResetAuthorization)
				ar.Post("/{id}/suspend", h.Authorization.SuspendAuthorization)
				ar.Post("/{id}/reactivate", h.Authorization.ReactivateAuthorization)
				ar.Post("/{id}/terminate", h.Authorization.TerminateAuthorization)
				ar.Post("/{id}/renew", h.Authorization.RenewAuthorization)
			})

			pr.Post("/record_usage", h.Usage.RecordUsage)
			pr.Get("/usage/unbilled", h.Usage.UnbilledUsage)

			pr.Post("/create_claim", h.Claim.CreateClaim)
			pr.Route("/claims/{id}", func(cr chi.Router) {
				cr.Get("/", h.Claim.GetClaim)
				cr.Post("/outcome", h.Claim.RecordOutcome)
				cr.Post("/payment", h.Claim.RecordPayment)
				cr.Post("/resubmit", h.Claim.ResubmitClaim)
			})

			pr.Post("/generate_edi", h.EDI.GenerateEDI)
			pr.Get("/edi_batches/{id}", h.EDI.GetBatch)
			pr.Get("/edi_batches/{id}/file", h.EDI.DownloadFile)

			pr.Post("/denial/appeal", h.Denial.FileAppeal)
			pr.Post("/denial/resolve", h.Denial.ResolveDenial)
			pr.Get("/denials/overdue", h.Denial.ListOverdue)
			pr.Route("/denials/{id}", func(dr chi.Router) {
				dr.Get("/", h.Denial.GetDenial)
				dr.Get("/tasks", h.Denial.ListTasks)
				dr.Post("/tasks", h.Denial.AddTask)
				dr.Post("/tasks/{taskId}/complete", h.Denial.CompleteTask)
			})
		})
	})
}
