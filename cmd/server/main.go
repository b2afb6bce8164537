package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	emailPkg "inbox/internal/adapters/email"
	web "inbox/internal/adapters/http"
	"inbox/internal/adapters/http/middleware"
	"inbox/internal/adapters/http/perf"
	"inbox/internal/adapters/push"
	"inbox/internal/adapters/storage"
	messageStore "inbox/internal/adapters/storage/message"
	outboxStore "inbox/internal/adapters/storage/outbox"
	userStore "inbox/internal/adapters/storage/user"
	"inbox/internal/application/orchestrators"
	"inbox/internal/config"
	domainOutbox "inbox/internal/domain/outbox"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

const (
	shutdownTimeout = 15 * time.Second
	limiterIdle     = 10 * time.Minute
)

func main() {
	if err := run(); err != nil {
		slog.Error("server_event", "event", "fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.MigrateDB(db, cfg.DBPath); err != nil {
		return err
	}

	// Performance instrumentation: wrap DB with timing, create collector
	collector := perf.NewCollector(cfg.PerfRingSize)
	timedDB := storage.NewTimedDB(db, collector, cfg.SlowQueryMs)

	users := userStore.NewSQLiteStore(timedDB)
	stores := web.Stores{
		MessageStore: messageStore.NewSQLiteStore(timedDB),
		UserStore:    users,
	}

	if cfg.ShouldSeedDemo() {
		if err := orchestrators.ExecuteSeedDemoProfiles(context.Background(), orchestrators.SeedDemoDeps{ProfileStore: users}); err != nil {
			return err
		}
	}

	var sender emailPkg.Sender
	if cfg.ResendKey != "" {
		sender = emailPkg.NewResendSender(cfg.ResendKey, cfg.EmailFrom)
		slog.Info("server_event", "event", "email_configured", "provider", "resend")
	} else {
		sender = emailPkg.NewNoopSender()
		if cfg.IsProduction() {
			slog.Warn("server_event", "event", "email_disabled", "detail", "INBOX_RESEND_KEY is not set")
		}
	}

	outbox := outboxStore.NewSQLiteStore(timedDB)
	processor := orchestrators.NewOutboxProcessor(outbox, map[string]orchestrators.ActionExecutor{
		domainOutbox.KindMessageEmail: &orchestrators.MessageEmailExecutor{
			Messages: stores.MessageStore,
			Notifier: &orchestrators.EmailNotifier{
				Profiles:  users,
				Sender:    sender,
				From:      cfg.EmailFrom,
				PublicURL: cfg.PublicURL,
			},
		},
	}, nil)

	srv := web.NewServer(stores, web.Options{
		Auth:          middleware.NewAuthenticator(cfg.Secret(), cfg.JWTIssuer),
		Hub:           push.NewHub(cfg.PushBuffer, collector),
		Notifier:      &orchestrators.OutboxNotifier{Store: outbox},
		Collector:     collector,
		DB:            timedDB,
		RateLimit:     cfg.RateLimit,
		SlowRequestMs: cfg.SlowRequestMs,
		ExposePerf:    !cfg.IsProduction(),
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerDone := orchestrators.StartBackgroundWorker(ctx, processor, cfg.OutboxInterval, cfg.OutboxRetention)
	defer func() {
		stop()
		<-workerDone
	}()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := srv.SweepIdleClients(limiterIdle); n > 0 {
					slog.Debug("server_event", "event", "rate_limiter_swept", "removed", n)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_event", "event", "listening",
			"addr", cfg.Addr, "version", version, "env", cfg.Env, "schema", storage.LatestSchemaVersion())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("server_event", "event", "shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Shutdown does not track hijacked websocket connections; they end with the process.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
