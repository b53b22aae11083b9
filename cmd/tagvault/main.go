package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tagvault/tagvault/internal/config"
	dbRedis "github.com/tagvault/tagvault/internal/db/redis"
	logpkg "github.com/tagvault/tagvault/internal/logger"
	"github.com/tagvault/tagvault/internal/metrics"
	"github.com/tagvault/tagvault/internal/repository/docstore"
	"github.com/tagvault/tagvault/internal/repository/logstore"
	"github.com/tagvault/tagvault/internal/repository/sqlstore"
	chiTransport "github.com/tagvault/tagvault/internal/transport/chi"
	secretuc "github.com/tagvault/tagvault/internal/usecase/secret"
	"github.com/tagvault/tagvault/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting tagvault API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("backend", cfg.Store.Backend),
		zap.String("namespace", cfg.Store.Namespace),
	)

	ctx := context.Background()

	backend, pinger, cleanup, err := buildBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create storage backend", zap.Error(err))
	}
	defer cleanup()

	svc := secretuc.New(secretuc.NewInstrumentedBackend(backend, cfg.Store.Backend))
	server := chiTransport.NewServer(svc, pinger, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildBackend is the composition root for the storage engines. The returned
// pinger is nil for file-based backends and the cleanup func is always safe
// to call.
func buildBackend(
	ctx context.Context, cfg config.Config, logger *zap.Logger,
) (secretuc.Backend, chiTransport.Pinger, func(), error) {
	noop := func() {}

	switch cfg.Store.Backend {
	case config.BackendLog:
		store, err := logstore.Open(cfg.LogPath(), logger)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("open log store: %w", err)
		}
		logger.Info("Using append-only log backend", zap.String("path", cfg.LogPath()))
		return store, nil, noop, nil

	case config.BackendSQLite:
		store, err := sqlstore.Open(cfg.SQLitePath(), logger)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Info("Using sqlite backend", zap.String("path", cfg.SQLitePath()))
		return store, nil, func() { _ = store.Close() }, nil

	case config.BackendRedis:
		store, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Store.Redis.Addrs,
			Password: cfg.Store.Redis.Password,
		})
		if err != nil {
			return nil, nil, noop, fmt.Errorf("create redis store: %w", err)
		}

		timeout := time.Duration(cfg.Store.Redis.ReadinessTimeout) * time.Second
		if err := store.WaitForReady(ctx, timeout); err != nil {
			store.Close()
			return nil, nil, noop, fmt.Errorf("redis not ready: %w", err)
		}

		repo := docstore.New(store, cfg.RedisPrefix(), logger)
		if err := repo.EnsureIndex(ctx); err != nil {
			store.Close()
			return nil, nil, noop, fmt.Errorf("ensure search index: %w", err)
		}

		logger.Info("Using redis backend",
			zap.Strings("addrs", cfg.Store.Redis.Addrs),
			zap.String("prefix", cfg.RedisPrefix()),
		)
		return repo, store, store.Close, nil

	default:
		return nil, nil, noop, fmt.Errorf("unknown backend %q", cfg.Store.Backend)
	}
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
