// Command discogs-broker pairs devices with Discogs accounts and proxies
// their release lookups
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/wrale/discogs-device-broker/cmd/discogs-broker/handlers/health"
	"github.com/wrale/discogs-device-broker/internal/deviceflow"
	"github.com/wrale/discogs-device-broker/internal/discogs"
	"github.com/wrale/discogs-device-broker/internal/ratelimit"
	"github.com/wrale/discogs-device-broker/internal/search"
	"github.com/wrale/discogs-device-broker/internal/store"
)

// Version is set by the build process
var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("broker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	if err := loadEnvFile(); err != nil {
		return err
	}

	// Load configuration from environment
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	db, err := store.Open(startCtx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer closeDB(db, logger)

	if err := store.Migrate(startCtx, db); err != nil {
		return err
	}
	pg := store.New(db)

	checks := map[string]health.Checker{"database": pg}

	cursors, closeCursors, err := newCursorStore(startCtx, cfg, pg, checks)
	if err != nil {
		return err
	}
	defer closeCursors()

	limiter := ratelimit.New(cursors,
		ratelimit.WithMinInterval(cfg.MinInterval),
		ratelimit.WithDefaultRetryAfter(cfg.RetryAfter),
		ratelimit.WithLogger(logger),
	)

	client, err := discogs.NewClient(discogs.Config{
		ConsumerKey:    cfg.ConsumerKey,
		ConsumerSecret: cfg.ConsumerSecret,
		UserAgent:      cfg.UserAgent,
		Pacer:          limiter,
	})
	if err != nil {
		return fmt.Errorf("creating discogs client: %w", err)
	}

	flow := deviceflow.NewFlow(pg, client, cfg.PublicBaseURL,
		deviceflow.WithSessionTTL(cfg.SessionTTL),
		deviceflow.WithSessionTokenTTL(cfg.SessionTokenTTL),
		deviceflow.WithPollInterval(cfg.PollInterval),
		deviceflow.WithLogger(logger),
	)

	searchProxy := search.NewProxy(flow, client, pg,
		search.WithCacheTTL(cfg.SearchCacheTTL),
		search.WithLogger(logger),
	)

	srv, err := newServer(cfg, flow, searchProxy, checks, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Create HTTP server with proper timeout configurations
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	sweeper := store.NewSweeper(pg, cfg.SweepInterval, cfg.SweepGrace, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening", slog.Int("port", cfg.Port), slog.String("version", Version))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("starting shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutting down server", slog.Any("error", err))
			if err := httpServer.Close(); err != nil {
				logger.Error("closing server", slog.Any("error", err))
			}
		}
		return nil
	})

	return g.Wait()
}

// loadEnvFile loads ENV_FILE (default .env) if it exists
func loadEnvFile() error {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func newLogger(cfg Config) (*slog.Logger, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
}

// newCursorStore selects the rate limiter backend and registers its health
// check
func newCursorStore(ctx context.Context, cfg Config, pg *store.Postgres, checks map[string]health.Checker) (ratelimit.CursorStore, func(), error) {
	if !strings.EqualFold(cfg.RateLimitBackend, backendRedis) {
		return pg, func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	cursors := ratelimit.NewRedisCursorStore(client)
	if err := cursors.CheckHealth(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connecting to Redis: %w", err)
	}
	checks["redis"] = cursors

	return cursors, func() {
		if err := client.Close(); err != nil {
			slog.Error("closing Redis connection", slog.Any("error", err))
		}
	}, nil
}

func closeDB(db *sql.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Error("closing database", slog.Any("error", err))
	}
}
