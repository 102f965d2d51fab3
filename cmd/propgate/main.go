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

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/riandyrn/otelchi"

	amqpadapter "github.com/neomorfeo/propgate/internal/adapter/amqp"
	"github.com/neomorfeo/propgate/internal/adapter/fsm"
	handler "github.com/neomorfeo/propgate/internal/adapter/http"
	oteladapter "github.com/neomorfeo/propgate/internal/adapter/otel"
	riveradapter "github.com/neomorfeo/propgate/internal/adapter/river"
	"github.com/neomorfeo/propgate/internal/adapter/safety"
	"github.com/neomorfeo/propgate/internal/adapter/sqlite"
	"github.com/neomorfeo/propgate/internal/app"
	"github.com/neomorfeo/propgate/internal/event"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	port := envOrDefault("PORT", "8080")
	dbPath := envOrDefault("DATABASE_PATH", "propgate.db")
	safetyURL := envOrDefault("SAFETY_URL", "http://localhost:9090")
	amqpURL := os.Getenv("AMQP_URL")
	interval := durationOrDefault("DISPATCH_INTERVAL", time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---
	providers, err := oteladapter.Setup(ctx, oteladapter.ConfigFromEnv())
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()

	// --- Storage ---
	db, err := oteladapter.OpenDB(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := sqlite.NewContractStatusStore(db)
	if err != nil {
		return err
	}
	repo, err := sqlite.NewApprovalRepository(db)
	if err != nil {
		return err
	}
	letters, err := sqlite.NewDeadLetterStore(db)
	if err != nil {
		return err
	}

	// --- Application ---
	insertClient, err := riveradapter.NewInsertOnly(ctx, db)
	if err != nil {
		return err
	}
	outbox := oteladapter.NewTracingOutbox(riveradapter.NewOutbox(db, insertClient, repo))
	orch := app.NewOrchestrator(
		oteladapter.NewTracingRepository(repo),
		store,
		safety.New(safetyURL),
		outbox,
		fsm.New(),
		app.DefaultRetryPolicy(),
	)

	// --- Event bus ---
	var deliverer riveradapter.Deliverer = logDeliverer{}
	var bus *amqpadapter.Bus
	if amqpURL != "" {
		bus, err = amqpadapter.Connect(amqpURL)
		if err != nil {
			return err
		}
		defer bus.Close()
		deliverer = amqpadapter.NewPublisher(bus)
	}

	// --- Workers ---
	workerClient, err := riveradapter.Setup(ctx, db, orch, store, letters, deliverer)
	if err != nil {
		return err
	}
	if err := workerClient.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := workerClient.Stop(stopCtx); err != nil {
			slog.Error("river stop", "error", err)
		}
	}()

	consumerErr := make(chan error, 1)
	if bus != nil {
		consumer := amqpadapter.NewConsumer(bus, workerClient, letters)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				consumerErr <- err
			}
		}()
	}

	dispatcher := app.NewDispatcher(store, store, orch, interval)
	go dispatcher.Run(ctx)

	// --- HTTP ---
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(otelchi.Middleware("propgate", otelchi.WithChiRoutes(router)))

	api := humachi.New(router, huma.DefaultConfig("propgate", "0.1.0"))
	handler.Register(api, orch, store, insertClient)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("propgate listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server", "error", err)
			stop()
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-consumerErr:
		slog.Error("bus consumer failed", "error", runErr)
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}
	return runErr
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOrDefault(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration, using default", "key", key, "value", v)
		return fallback
	}
	return d
}

// logDeliverer stands in for the event bus when AMQP_URL is not set.
// Completed events are logged instead of published, which is enough for
// local development.
type logDeliverer struct{}

func (logDeliverer) Deliver(ctx context.Context, env event.Envelope) error {
	slog.InfoContext(ctx, "evaluation completed (no bus configured)",
		"detail_type", env.DetailType,
		"detail", string(env.Detail),
	)
	return nil
}
