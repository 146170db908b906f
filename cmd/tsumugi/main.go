package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ashita-ai/tsumugi/internal/auth"
	"github.com/ashita-ai/tsumugi/internal/config"
	"github.com/ashita-ai/tsumugi/internal/mcp"
	"github.com/ashita-ai/tsumugi/internal/ratelimit"
	"github.com/ashita-ai/tsumugi/internal/reconcile"
	"github.com/ashita-ai/tsumugi/internal/runlog"
	"github.com/ashita-ai/tsumugi/internal/server"
	"github.com/ashita-ai/tsumugi/internal/storage"
	"github.com/ashita-ai/tsumugi/internal/stream"
	"github.com/ashita-ai/tsumugi/internal/telemetry"
	"github.com/ashita-ai/tsumugi/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("TSUMUGI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("tsumugi starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to the message ledger and apply pending migrations.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Run-log client, wrapped in the read-through TTL cache.
	runlogClient, err := runlog.NewClient(runlog.Config{
		BaseURL: cfg.RunLogBaseURL,
		APIKey:  cfg.RunLogAPIKey,
		Timeout: cfg.RunLogTimeout,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("runlog: %w", err)
	}

	markers := stream.NewMemoryStore(cfg.StreamMarkerTTL, nil)
	defer func() { _ = markers.Close() }()

	runlogCache := runlog.NewCache(runlogClient, markers, cfg.RunLogCacheTTL, nil)

	reconciler := reconcile.NewService(reconcile.Deps{
		RunLog:      runlogCache,
		Ledger:      db,
		Agents:      db,
		Attachments: db,
		Feedback:    db,
		Markers:     markers,
		Logger:      logger,
	})

	mcpSrv := mcp.New(db, reconciler, func(ctx context.Context) (uuid.UUID, bool) {
		claims := server.ClaimsFromContext(ctx)
		if claims == nil {
			return uuid.Nil, false
		}
		return claims.UserID(), true
	}, logger)

	var limiter ratelimit.Limiter
	if cfg.RateLimitPerSecond > 0 {
		memLimiter := ratelimit.NewMemoryLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
		defer func() { _ = memLimiter.Close() }()
		limiter = memLimiter
		logger.Info("rate limiting: memory (in-process token bucket)",
			"per_second", cfg.RateLimitPerSecond, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	handlers := server.NewHandlers(server.HandlersDeps{
		Store:               db,
		Reconciler:          reconciler,
		Submitter:           runlogClient,
		Cache:               runlogCache,
		Markers:             markers,
		Logger:              logger,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		ShareTTL:            cfg.ShareTTL,
	})

	srv := server.New(server.ServerConfig{
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Handlers:     handlers,
		JWTManager:   jwtMgr,
		Limiter:      limiter,
		MCP:          mcpSrv,
		Logger:       logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
