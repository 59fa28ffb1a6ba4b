// Herald API — HTTP API приёма событий.
//
// API:
//   - Принимает trigger событий и строит цепочки jobs по шаблону
//   - Планирует головы цепочек через Dispatcher (Redis очередь)
//   - Отменяет ожидающие delay/digest jobs транзакции
//   - Защищает POST запросы idempotency guard'ом
//
// Флаги:
//
//	--migrate  применить миграции перед стартом
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/shaiso/Herald/internal/api"
	"github.com/shaiso/Herald/internal/config"
	"github.com/shaiso/Herald/internal/events"
	"github.com/shaiso/Herald/internal/idempotency"
	"github.com/shaiso/Herald/internal/queue"
	"github.com/shaiso/Herald/internal/repo"
	"github.com/shaiso/Herald/internal/scheduler"
	"github.com/shaiso/Herald/internal/store"
	"github.com/shaiso/Herald/internal/telemetry"
)

func main() {
	migrate := flag.Bool("migrate", false, "apply database migrations before start")
	flag.Parse()

	// .env опционален: в контейнере переменные приходят из окружения
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("HERALD_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log)
	logger.Info("starting herald-api", "app_env", cfg.AppEnv)

	if err := cfg.ValidateAPI(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 1. Миграции
	if *migrate || cfg.API.MigrateOnStart {
		if err := repo.Migrate(cfg.Database.URL, cfg.API.MigrationsDir); err != nil {
			logger.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied", "dir", cfg.API.MigrationsDir)
	}

	// 2. PostgreSQL
	pool, err := repo.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	// 3. Распределённое хранилище
	kv, err := store.Open(&cfg.Store, logger)
	if err != nil {
		logger.Error("failed to select store provider", "error", err)
		os.Exit(1)
	}
	if err := kv.AwaitReadiness(ctx, cfg.Store.ReadinessTimeout); err != nil {
		logger.Error("store is not ready", "error", err)
		os.Exit(1)
	}

	jobRepo := repo.NewJobRepo(pool)
	templateRepo := repo.NewTemplateRepo(pool)

	// 4. Планирование
	dispatcher := scheduler.NewDispatcher(scheduler.DispatcherConfig{
		Jobs:   jobRepo,
		Queue:  queue.New(kv.Redis(), cfg.Store.KeyPrefix, logger),
		Logger: logger,
	})

	eventService := events.New(events.Config{
		Templates: templateRepo,
		Jobs:      jobRepo,
		Scheduler: dispatcher,
		Logger:    logger,
	})

	// 5. HTTP
	handler := api.NewHandler(api.Config{
		Events: eventService,
		Jobs:   jobRepo,
		Store:  kv,
		Logger: logger,
	})

	guard := idempotency.New(&cfg.Idempotency, cfg.AppEnv, kv, logger)

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.API.Port),
		Handler: handler.Router(api.RouterConfig{
			JWTSecret:   cfg.Auth.JWTSecret,
			Idempotency: guard.Middleware,
		}),
	}

	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()

	err = multierr.Combine(
		server.Shutdown(shutdownCtx),
		kv.Shutdown(),
	)
	if err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
