package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/dydact/scrive-aci-sub002/api"
	"github.com/dydact/scrive-aci-sub002/internal"
	"github.com/dydact/scrive-aci-sub002/internal/audit"
	auditPostgres "github.com/dydact/scrive-aci-sub002/internal/audit/postgres"
	"github.com/dydact/scrive-aci-sub002/internal/auth"
	authPostgres "github.com/dydact/scrive-aci-sub002/internal/auth/postgres"
	"github.com/dydact/scrive-aci-sub002/internal/authorization"
	authorizationPostgres "github.com/dydact/scrive-aci-sub002/internal/authorization/postgres"
	"github.com/dydact/scrive-aci-sub002/internal/claim"
	claimPostgres "github.com/dydact/scrive-aci-sub002/internal/claim/postgres"
	"github.com/dydact/scrive-aci-sub002/internal/core/events"
	"github.com/dydact/scrive-aci-sub002/internal/denial"
	denialPostgres "github.com/dydact/scrive-aci-sub002/internal/denial/postgres"
	"github.com/dydact/scrive-aci-sub002/internal/edi"
	ediPostgres "github.com/dydact/scrive-aci-sub002/internal/edi/postgres"
	"github.com/dydact/scrive-aci-sub002/internal/metrics"
	"github.com/dydact/scrive-aci-sub002/internal/servicetype"
	serviceTypePostgres "github.com/dydact/scrive-aci-sub002/internal/servicetype/postgres"
	"github.com/dydact/scrive-aci-sub002/internal/store"
	"github.com/dydact/scrive-aci-sub002/internal/transport"
	"github.com/dydact/scrive-aci-sub002/internal/transport/middleware"
	"github.com/dydact/scrive-aci-sub002/internal/transport/rest"
	"github.com/dydact/scrive-aci-sub002/internal/usage"
	usagePostgres "github.com/dydact/scrive-aci-sub002/internal/usage/postgres"
	"github.com/dydact/scrive-aci-sub002/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Services struct {
	Gate          *auth.Gate
	ServiceTypes  *servicetype.Service
	Authorization *authorization.Service
	Usage         *usage.Service
	Claims        *claim.Service
	Denials       *denial.Service
	EDI           *edi.Service
}

type Dependencies struct {
	Config   *internal.Config
	DB       *sqlx.DB
	Gorm     *gorm.DB
	Router   *chi.Mux
	Bus      *events.EventBus
	Services Services
	Logger   *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	limiter, err := setupRoutes(deps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up routes: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		if err := deps.Bus.Drain(ctx); err != nil {
			deps.Logger.Warn("event handlers still running at shutdown", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	if limiter != nil {
		limiter.Stop()
	}
	if err := deps.DB.Close(); err != nil {
		deps.Logger.Error("Database close error", "error", err)
	}
	deps.Logger.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) (*middleware.RateLimiter, error) {
	cfg := deps.Config
	base := transport.NewBaseHandler(deps.Logger)
	svc := deps.Services

	verifier, err := auth.NewTokenVerifier(cfg.Security)
	if err != nil {
		return nil, fmt.Errorf("token verifier: %w", err)
	}

	handlers := rest.Handlers{
		Health:        rest.NewHealthHandler(base, map[string]rest.Pinger{"postgres": deps.DB}),
		Auth:          auth.NewHandler(svc.Gate, verifier),
		ServiceType:   servicetype.NewHandler(base, svc.ServiceTypes),
		Authorization: authorization.NewHandler(base, svc.Authorization),
		Usage:         usage.NewHandler(base, svc.Usage),
		Claim:         claim.NewHandler(base, svc.Claims),
		Denial:        denial.NewHandler(base, svc.Denials),
		EDI:           edi.NewHandler(base, svc.EDI),
	}

	opts := rest.Options{AllowedOrigins: cfg.Server.AllowedOrigins}
	if cfg.Observability.Metrics.Enabled {
		metrics.Init()
		opts.MetricsPath = cfg.Observability.Metrics.Path
	}
	if cfg.RateLimit.Enabled {
		opts.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	if cfg.Server.OpenAPIValidation {
		validator, err := middleware.NewOpenAPIValidator(api.OpenAPI, rest.APIPrefix, deps.Logger)
		if err != nil {
			return nil, err
		}
		opts.Validator = validator
	}

	rest.RegisterAllRoutes(deps.Router, handlers, opts, deps.Logger)
	return opts.RateLimiter, nil
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	bus := events.NewEventBus(lg)
	subscribeEventLoggers(bus, lg)

	return &Dependencies{
		Config:   config,
		DB:       db,
		Gorm:     gormDB,
		Router:   chi.NewRouter(),
		Bus:      bus,
		Services: buildServices(config, db, gormDB, bus, lg),
		Logger:   lg,
	}, nil
}

func buildServices(cfg *internal.Config, db *sqlx.DB, gormDB *gorm.DB, bus *events.EventBus, lg *slog.Logger) Services {
	tx := store.NewTransactor(gormDB, lg)
	recorder := audit.NewLog(auditPostgres.NewAuditRepository(db), lg)

	gate := auth.NewGate(authPostgres.NewRoleRepository(gormDB), tx, recorder, lg)
	serviceTypes := servicetype.NewService(serviceTypePostgres.NewServiceTypeRepository(gormDB), lg)

	ledger := authorization.NewService(
		authorizationPostgres.NewAuthorizationRepository(gormDB), tx, gate, serviceTypes, recorder, cfg.Billing, lg)
	usageSvc := usage.NewService(usagePostgres.NewUsageRepository(gormDB), tx, ledger, gate, recorder, bus, lg)

	claims := claim.NewService(claimPostgres.NewClaimRepository(gormDB), tx, usageSvc, gate, recorder, bus, lg)
	denials := denial.NewService(denialPostgres.NewDenialRepository(gormDB), tx, claims, gate, recorder, bus, cfg.Billing, lg)
	claims.SetDenialOpener(denials)

	exporter := edi.NewService(ediPostgres.NewBatchRepository(gormDB), tx, claims, usageSvc, serviceTypes, gate, recorder, bus, cfg.Billing, lg)

	return Services{
		Gate:          gate,
		ServiceTypes:  serviceTypes,
		Authorization: ledger,
		Usage:         usageSvc,
		Claims:        claims,
		Denials:       denials,
		EDI:           exporter,
	}
}

// subscribeEventLoggers surfaces domain events in the log so operators can
// alert on them without a broker.
func subscribeEventLoggers(bus *events.EventBus, lg *slog.Logger) {
	bus.Subscribe(events.EventTypeAlertRaised, func(ctx context.Context, event events.Event) error {
		logger.FromOr(ctx, lg).Warn("authorization alert raised", "event_id", event.EventID(), "payload", event.Payload())
		return nil
	})
	bus.Subscribe(events.EventTypeDenialOpened, func(ctx context.Context, event events.Event) error {
		logger.FromOr(ctx, lg).Info("denial opened", "event_id", event.EventID(), "payload", event.Payload())
		return nil
	})
	bus.Subscribe(events.EventTypeDenialOverdue, func(ctx context.Context, event events.Event) error {
		logger.FromOr(ctx, lg).Warn("denial past appeal deadline", "event_id", event.EventID(), "payload", event.Payload())
		return nil
	})
	bus.Subscribe(events.EventTypeClaimTransitioned, func(ctx context.Context, event events.Event) error {
		logger.FromOr(ctx, lg).Debug("claim transitioned", "event_id", event.EventID(), "payload", event.Payload())
		return nil
	})
}

// initDB opens the pgx-backed pool shared by sqlx and gorm.
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		TranslateError: true,
	})
}
