package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/webmatic/backend/internal/config"
	"github.com/webmatic/backend/internal/handler"
	"github.com/webmatic/backend/internal/logging"
	"github.com/webmatic/backend/internal/notify"
	"github.com/webmatic/backend/internal/ratelimit"
	"github.com/webmatic/backend/internal/repository"
	"github.com/webmatic/backend/internal/service"
	"github.com/webmatic/backend/internal/validation"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("INFO", os.Stdout)
		logging.Fatal("invalid configuration", "error", err)
	}
	logging.Setup(cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Fatal("server stopped", "error", err)
	}
}

// backend is the store and submission limiter for one STORE_BACKEND, plus the
// background loops that keep the limiter's state bounded.
type backend struct {
	store   repository.SubmissionStore
	limiter ratelimit.Store
	sweep   func(ctx context.Context) error
	close   func()
}

func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		if cfg.AutoMigrate {
			if err := repository.MigrateUp(cfg.DatabaseURL); err != nil {
				return nil, err
			}
		}
		pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		limiter, err := repository.NewPgRateLimitStore(pool, cfg.RateLimitMax, cfg.RateLimitWindow)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return &backend{
			store:   repository.NewPgSubmissionRepository(pool),
			limiter: limiter,
			sweep: func(ctx context.Context) error {
				return sweepEvery(ctx, sweepInterval, func(now time.Time) {
					n, err := limiter.Sweep(ctx, now)
					if err != nil {
						slog.Warn("rate limit sweep failed", "error", err)
						return
					}
					slog.Debug("rate limit sweep", "deleted", n)
				})
			},
			close: pool.Close,
		}, nil

	case config.BackendSQLite:
		store, err := repository.OpenSQLiteSubmissionRepository(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return memoryLimited(store, cfg)

	default:
		store, err := repository.OpenJSONLSubmissionRepository(cfg.SubmissionsFile)
		if err != nil {
			return nil, err
		}
		return memoryLimited(store, cfg)
	}
}

func memoryLimited(store repository.SubmissionStore, cfg config.Config) (*backend, error) {
	limiter, err := ratelimit.NewMemoryStore(cfg.RateLimitMax, cfg.RateLimitWindow)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	return &backend{
		store:   store,
		limiter: limiter,
		sweep:   func(ctx context.Context) error { return limiter.Run(ctx, sweepInterval) },
		close:   func() { closeStore(store) },
	}, nil
}

// closeStore logs a failed close; for the file store that can mean the last
// writes never reached disk.
func closeStore(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Warn("store close failed", "error", err)
	}
}

func sweepEvery(ctx context.Context, interval time.Duration, fn func(now time.Time)) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			fn(now)
		}
	}
}

func run(ctx context.Context, cfg config.Config) error {
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	apiLimiter, err := ratelimit.NewMemoryStore(cfg.APIRateLimitPerMinute, time.Minute)
	if err != nil {
		return err
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.Enabled {
		notifier = notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.Notify.SMTPHost,
			Port:     cfg.Notify.SMTPPort,
			Username: cfg.Notify.Username,
			Password: cfg.Notify.Password,
			From:     cfg.Notify.From,
			To:       cfg.Notify.To,
		})
	}

	contactService := service.NewContactService(service.ContactServiceConfig{
		Store:     b.store,
		Limiter:   b.limiter,
		Validator: validation.New(cfg.SpamKeywords),
		Notifier:  notifier,
		Timeout:   cfg.StoreTimeout,
	})

	server := &http.Server{
		Addr: cfg.Addr(),
		Handler: handler.NewRouter(handler.RouterConfig{
			DB:                b.store,
			ContactService:    contactService,
			APILimiter:        apiLimiter,
			FrontendURL:       cfg.FrontendURL,
			TrustedProxyCount: cfg.TrustedProxyCount,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", server.Addr, "store_backend", cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return b.sweep(gctx) })
	g.Go(func() error { return apiLimiter.Run(gctx, sweepInterval) })
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	err = g.Wait()

	// Pending notifications finish before the deferred store close.
	contactService.Wait()
	return err
}
