package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/bizpilot/insight-gateway/internal/chat"
	"github.com/bizpilot/insight-gateway/internal/config"
	"github.com/bizpilot/insight-gateway/internal/guard"
	"github.com/bizpilot/insight-gateway/internal/history"
	"github.com/bizpilot/insight-gateway/internal/intent"
	"github.com/bizpilot/insight-gateway/internal/oracle"
	"github.com/bizpilot/insight-gateway/internal/ratelimit"
	"github.com/bizpilot/insight-gateway/internal/summary"
	"github.com/bizpilot/insight-gateway/internal/telemetry"
	"github.com/bizpilot/insight-gateway/internal/tenant"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	cfg := loader.Config()

	// Connect to PostgreSQL: one pool for our own tables, one read-only
	// pool for executing generated statements.
	dbPool, err := newPool(context.Background(), cfg.Database.DSN(), cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	roPool, err := newPool(context.Background(), cfg.Database.ReadOnlyDSN(), cfg.Database)
	if err != nil {
		logger.Error("failed to create read-only pool", "error", err)
		os.Exit(1)
	}
	defer roPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		logger.Warn("database not reachable (gateway will start but requests will fail)", "error", err)
	} else {
		logger.Info("database connected")
	}

	// Connect to Redis
	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis not reachable (caching disabled)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	metrics := telemetry.NewMetrics()

	oracleClient := oracle.NewClient(func() config.OracleConfig {
		return loader.Config().Oracle
	})

	policyGate := guard.NewPolicyGate(func() config.GuardConfig {
		return loader.Config().Guard
	})
	if cfg.Guard.PolicyEnabled {
		if err := policyGate.Load(); err != nil {
			logger.Error("failed to load guard policies", "error", err)
			os.Exit(1)
		}
		loader.OnReload(func() {
			if err := policyGate.Load(); err != nil {
				logger.Error("failed to reload guard policies", "error", err)
			}
		})
	}

	resolver := guard.NewResolver(oracleClient, guard.NewPGExecutor(roPool), policyGate, metrics, func() config.GuardConfig {
		return loader.Config().Guard
	})

	summaries := summary.NewManager(
		summary.NewPGStore(dbPool),
		summary.NewPGSource(dbPool),
		cfg.Summary.StaleWindow,
		metrics,
	)

	var limiter ratelimit.Limiter
	if cfg.RateLimit.Shared && rdb != nil {
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.Quota, cfg.RateLimit.Window)
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Quota, cfg.RateLimit.Window)
	}

	callerStore := tenant.NewCachedCallerStore(dbPool, rdb)
	router := intent.NewRouter(oracleClient, cfg.Oracle.ClassifierModel, metrics)
	recorder := history.NewPGRecorder(dbPool)
	handler := chat.NewHandler(router, resolver, summaries, oracleClient, recorder, metrics)

	// Router setup
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	// Unauthenticated routes
	r.Get("/v1/health", healthHandler)

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(tenant.Middleware(callerStore))
		r.Use(ratelimit.Middleware(limiter, cfg.RateLimit.Quota, metrics))
		r.Post("/v1/chat", handler.Chat)
	})

	// Metrics endpoint on its own port
	go func() {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

func newPool(ctx context.Context, dsn string, dc config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if dc.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(dc.MaxOpenConns)
	}
	if dc.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = dc.ConnMaxLifetime
	}
	return pgxpool.NewWithConfig(ctx, poolCfg)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": version,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func generateRequestID() string {
	now := time.Now()
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", now.UnixMilli(), hex.EncodeToString(b))
}
