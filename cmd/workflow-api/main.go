// Package main provides the workflow API service entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pharmetrix/go-rxops/internal/api/handlers"
	"github.com/pharmetrix/go-rxops/internal/api/middleware"
	"github.com/pharmetrix/go-rxops/internal/config"
	"github.com/pharmetrix/go-rxops/internal/guards"
	"github.com/pharmetrix/go-rxops/internal/infrastructure/postgres"
	"github.com/pharmetrix/go-rxops/internal/observability/metrics"
	"github.com/pharmetrix/go-rxops/internal/observability/tracing"
	"github.com/pharmetrix/go-rxops/pkg/circuitbreaker"
)

const serviceName = "workflow-api"

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()

	// Tracing
	shutdownTracing, err := tracing.Setup(ctx, serviceName, cfg.Tracing, logger)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing()

	// Metrics
	m := metrics.New()

	// Database
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	logger.Info("connected to database")

	// Repositories
	itemRepo := postgres.NewItemRepository(pool, logger)
	verificationRepo := postgres.NewVerificationRepository(pool, logger)
	pickupRepo := postgres.NewPickupRepository(pool, logger)
	binRepo := postgres.NewBinRepository(pool, logger)
	patientRepo := postgres.NewPatientRepository(pool, logger)

	// Guard clients behind circuit breakers
	breakers := circuitbreaker.NewManager(m.CircuitBreakerState, logger)
	durClient := guards.NewHTTPDURClient(cfg.Guards.DURServiceURL,
		breakers.GetOrCreate("dur-service", circuitbreaker.DefaultConfig("dur-service")))
	claimsClient := guards.NewHTTPClaimsClient(cfg.Guards.ClaimsURL,
		breakers.GetOrCreate("claims-gateway", circuitbreaker.DefaultConfig("claims-gateway")))
	staffClient := guards.NewHTTPStaffClient(cfg.Guards.StaffDirectoryURL,
		breakers.GetOrCreate("staff-directory", circuitbreaker.DefaultConfig("staff-directory")), logger)
	gatherer := guards.NewGatherer(durClient, claimsClient, staffClient, logger)

	// Handlers
	workflowHandler := handlers.NewWorkflowHandler(itemRepo, gatherer, m, logger, nil)
	verificationHandler := handlers.NewVerificationHandler(verificationRepo, m, logger, nil)
	pickupHandler := handlers.NewPickupHandler(pickupRepo, patientRepo, m, logger, nil)
	willCallHandler := handlers.NewWillCallHandler(binRepo, logger, nil)

	// Router
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"breakers": breakers.GetHealthStatus(),
		})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ActorAuth)
		r.Mount("/items", workflowHandler.Routes())
		r.Mount("/verifications", verificationHandler.Routes())
		r.Mount("/pickups", pickupHandler.Routes())
		r.Mount("/willcall", willCallHandler.Routes())
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting workflow API", zap.String("addr", server.Addr))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}
