package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clinassist/platform/internal/adapters/health/openemr"
	"github.com/clinassist/platform/internal/api"
	"github.com/clinassist/platform/internal/billing"
	"github.com/clinassist/platform/internal/claims"
	"github.com/clinassist/platform/internal/clinical"
	"github.com/clinassist/platform/internal/shared/auth"
	"github.com/clinassist/platform/internal/shared/config"
	"github.com/clinassist/platform/internal/shared/database"
	"github.com/clinassist/platform/internal/shared/logging"
	"github.com/clinassist/platform/internal/shared/metrics"
	secmiddleware "github.com/clinassist/platform/internal/shared/middleware"
	"github.com/clinassist/platform/internal/verification"
)

const maxRequestBody = 4 << 20

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return serve(cmd.Context(), cfg, logger)
		},
	}
}

// pinger is implemented by both billing store backends.
type pinger interface {
	Health(ctx context.Context) error
}

type sqlPinger struct{ db *sql.DB }

func (p sqlPinger) Health(ctx context.Context) error { return p.db.PingContext(ctx) }

// openBillingStore connects the configured billing backend. The service
// still starts without one; billing lookups then degrade.
func openBillingStore(ctx context.Context, cfg config.BillingConfig, logger *zap.Logger) (billing.Repository, pinger, func()) {
	switch cfg.Driver {
	case "sqlserver":
		db, err := database.OpenSQLServer(ctx, cfg)
		if err != nil {
			logger.Warn("billing database not available, running without billing store", zap.Error(err))
			return nil, nil, func() {}
		}
		return billing.NewSQLServerRepository(db), sqlPinger{db}, func() { db.Close() }
	default:
		db, err := database.New(ctx, cfg)
		if err != nil {
			logger.Warn("billing database not available, running without billing store", zap.Error(err))
			return nil, nil, func() {}
		}
		if cfg.Migrate {
			if n, err := database.Migrate(ctx, db.Pool, logger); err != nil {
				logger.Warn("billing migration failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("billing schema migrated", zap.Int("applied", n))
			}
		}
		return billing.NewPostgresRepository(db.Pool), db, db.Close
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	upstream := openemr.New(openemr.Config{
		BaseURL:              cfg.Upstream.BaseURL,
		TokenURL:             cfg.Upstream.TokenURL,
		ClientID:             cfg.Upstream.ClientID,
		ClientSecret:         cfg.Upstream.ClientSecret,
		Username:             cfg.Upstream.Username,
		Password:             cfg.Upstream.Password,
		Scopes:               cfg.Upstream.Scopes,
		Timeout:              cfg.Upstream.Timeout,
		RetryAttempts:        cfg.Upstream.RetryAttempts,
		RetryDelay:           cfg.Upstream.RetryDelay,
		MaxRequestsPerSecond: cfg.Upstream.MaxRequestsPerSecond,
	}, nil, logger.Named("openemr"))

	billingUpstream := openemr.New(openemr.Config{
		BaseURL:       cfg.Billing.BaseURL,
		Timeout:       cfg.Billing.Timeout,
		RetryAttempts: 1,
	}, nil, logger.Named("billing-client"))

	repo, db, closeDB := openBillingStore(ctx, cfg.Billing, logger)
	defer closeDB()

	claimRules, err := claims.LoadRules(cfg.Verification.ClaimRulesPath)
	if err != nil {
		return err
	}
	rulesCfg, err := verification.LoadConfig(cfg.Verification.RulesPath)
	if err != nil {
		return err
	}

	apiHandler := api.NewHandler(
		clinical.NewAggregator(upstream, logger),
		claims.NewValidator(upstream, billing.NewClient(billingUpstream), claimRules, logger),
		verification.NewEngine(rulesCfg, logger),
		logger,
	)

	r := chi.NewRouter()

	r.Use(secmiddleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logging.Middleware(logger))
	r.Use(chimw.Recoverer)
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.NewIPRateLimiter(50, 100).Middleware)
	r.Use(secmiddleware.BodyLimit(maxRequestBody))

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(db))
	r.Handle("/metrics", metrics.Handler())

	if repo != nil {
		r.Mount(billing.Path, billing.NewHandler(repo, logger).Routes())
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(auth.Middleware(cfg.Auth))
		} else {
			r.Use(auth.AllowAll)
		}
		r.Mount("/", apiHandler.Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*cfg.Upstream.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		close(done)
	}()

	logger.Info("server starting",
		zap.String("env", cfg.Server.Env),
		zap.Int("port", cfg.Server.Port),
		zap.String("openemr", cfg.Upstream.BaseURL),
		zap.String("billing_driver", cfg.Billing.Driver),
		zap.Bool("billing_store", repo != nil),
		zap.Bool("auth", cfg.Auth.Enabled),
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	logger.Info("server stopped")
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

func readyHandler(db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if db != nil {
			if err := db.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
