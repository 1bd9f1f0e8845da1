package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/calafate/loom/internal/api"
	"github.com/calafate/loom/internal/bus"
	"github.com/calafate/loom/internal/cache"
	"github.com/calafate/loom/internal/config"
	"github.com/calafate/loom/internal/engine"
	"github.com/calafate/loom/internal/log"
	"github.com/calafate/loom/internal/mail"
	"github.com/calafate/loom/internal/realtime"
	"github.com/calafate/loom/internal/scheduler"
	"github.com/calafate/loom/internal/store/sqlite"
	"github.com/calafate/loom/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine, scheduler, and HTTP API",
	Long: `Run the loom server: the workflow engine, the job scheduler dispatch
loop, the e-mail observer, and the HTTP/websocket API, all in one process.
Configuration comes from the environment (DATABASE_URL, REDIS_URL, PORT, ...).`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traces, err := tracing.NewProvider(tracing.Config{
		Enabled:  cfg.TraceExporter != "" && cfg.TraceExporter != "none",
		Exporter: cfg.TraceExporter,
		FilePath: cfg.TraceFile,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := traces.Shutdown(shutdownCtx); err != nil {
			log.ErrorErr(log.CatConfig, "tracing shutdown", err)
		}
	}()

	db, err := sqlite.NewDB(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// Redis backs both the cache and the realtime bridge when configured;
	// without it the process runs self-contained on in-memory fallbacks.
	var cacheMgr cache.Manager
	bridge := realtime.NewNoopPublisher()
	if cfg.RedisURL != "" {
		client, err := cache.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		cacheMgr = cache.NewRedisManager(client)
		if cfg.RealtimeKey != "" {
			bridge = realtime.NewRedisPublisher(client)
		}
	} else {
		cacheMgr = cache.NewMemoryManager()
	}
	defer cacheMgr.Close()

	b := bus.New(bridge)
	defer b.Close()

	mailer := mail.NewService(mail.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.FromEmail,
	}, cacheMgr)

	registry := engine.NewRegistry()
	if err := engine.RegisterBuiltins(registry, engine.BuiltinDeps{Mailer: mailer}); err != nil {
		return fmt.Errorf("failed to register actions: %w", err)
	}
	registry.Freeze()

	executor := engine.NewExecutor(db.Executions(), registry, b, cacheMgr, traces.Tracer())
	svc := engine.NewService(db.Workflows(), db.Executions(), executor, cacheMgr)

	sched := scheduler.New(scheduler.Config{
		Bus:    b,
		Runner: svc,
		Mailer: mailer,
		Tracer: traces.Tracer(),
	})

	server := api.New(api.Config{
		Workflows:  db.Workflows(),
		Executions: db.Executions(),
		Engine:     svc,
		Scheduler:  sched,
		Bus:        b,
		Tokens: realtime.NewTokenIssuer(cfg.JWTSecretKey, cfg.JWTAlgorithm,
			time.Duration(cfg.AccessTokenExpireMinutes)*time.Minute),
		Cache:   cacheMgr,
		Origins: cfg.Origins(),
		Tracer:  traces.Tracer(),
	})

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	observer := mail.NewObserver(cacheMgr, db.Executions())
	go observer.Run(ctx)

	log.Info(log.CatConfig, "loom serving", "addr", cfg.Addr(), "database", cfg.DatabaseURL, "redis", cfg.RedisURL != "")
	err = server.ListenAndServe(ctx, cfg.Addr())

	// Cancel the run context (a bind failure would otherwise leave it live)
	// and let in-flight jobs drain before the deferred teardown runs.
	stop()
	<-schedDone

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
