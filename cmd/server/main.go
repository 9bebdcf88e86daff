package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pathway-labs/pathway/internal/assessment"
	"github.com/pathway-labs/pathway/internal/authcode"
	"github.com/pathway-labs/pathway/internal/catalog"
	"github.com/pathway-labs/pathway/internal/enrollment"
	"github.com/pathway-labs/pathway/internal/httpapi"
	"github.com/pathway-labs/pathway/internal/live"
	"github.com/pathway-labs/pathway/internal/platform/cache"
	"github.com/pathway-labs/pathway/internal/platform/config"
	"github.com/pathway-labs/pathway/internal/platform/database"
	"github.com/pathway-labs/pathway/internal/progression"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	redisCache, err := cache.New(ctx, cfg.Cache.URL)
	if err != nil {
		slog.Error("failed to connect to cache", "error", err)
		os.Exit(1)
	}
	defer redisCache.Close()

	mux, err := buildMux(ctx, cfg, db, redisCache)
	if err != nil {
		slog.Error("failed to build application", "error", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

// buildMux assembles the stores and services and registers every route.
func buildMux(ctx context.Context, cfg *config.Config, db *database.DB, redisCache *cache.Cache) (*http.ServeMux, error) {
	catalogStore, err := catalog.NewPostgresStore(db.Pool)
	if err != nil {
		return nil, fmt.Errorf("catalog store: %w", err)
	}
	enrollStore, err := enrollment.NewPostgresStore(db.Pool)
	if err != nil {
		return nil, fmt.Errorf("enrollment store: %w", err)
	}
	progressStore, err := progression.NewPostgresStore(db.Pool)
	if err != nil {
		return nil, fmt.Errorf("progression store: %w", err)
	}
	attemptStore, err := assessment.NewPostgresStore(db.Pool)
	if err != nil {
		return nil, fmt.Errorf("assessment store: %w", err)
	}

	admin := catalog.NewAdmin(catalogStore, attemptStore)
	evaluator := progression.NewEvaluator(catalogStore, progressStore, catalogStore, attemptStore, enrollStore)
	graph := progression.NewGraph(progressStore, catalogStore, evaluator)
	tracker := progression.NewTracker(progressStore, catalogStore)
	engine := assessment.NewEngine(attemptStore, catalogStore, enrollStore)

	auth := authcode.NewService(
		authcode.NewRedisCodeStore(redisCache.Client),
		authcode.NewRedisCounter(redisCache.Client),
		logSender{},
		authcode.Options{
			CodeTTL:          time.Duration(cfg.Auth.CodeTTL) * time.Minute,
			MaxCodesPerHour:  cfg.Auth.MaxCodesPerHour,
			MaxVerifyPerHour: cfg.Auth.MaxVerifyPerHour,
		},
	)

	if cfg.SeedPath != "" {
		if err := catalog.LoadSeedDir(ctx, admin, graph, cfg.SeedPath); err != nil {
			return nil, fmt.Errorf("seed catalog: %w", err)
		}
	}

	api := httpapi.New(httpapi.Options{
		Store:       catalogStore,
		Admin:       admin,
		Graph:       graph,
		Evaluator:   evaluator,
		Tracker:     tracker,
		Engine:      engine,
		Enrollments: enrollStore,
		Attempts:    attemptStore,
		Auth:        auth,
		Live:        live.NewHandler(engine, catalogStore),
	})

	mux := http.NewServeMux()
	api.Register(mux)
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(db, redisCache))
	return mux, nil
}

// logSender logs issued codes instead of emailing them. Delivery belongs to
// an external mail service; this keeps development environments self-contained.
type logSender struct{}

func (logSender) SendCode(_ context.Context, email, code string) error {
	slog.Info("login code issued (no mail transport configured)", "email", email, "code", code)
	return nil
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func handleReadyz(db *database.DB, redisCache *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.HealthCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"database unavailable"}`))
			return
		}
		if err := redisCache.HealthCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"cache unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}
}
