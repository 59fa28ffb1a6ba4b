// Herald Worker — выполняет jobs из Redis очереди.
//
// Worker:
//   - Резервирует jobs и продлевает их блокировки
//   - Доставляет сообщения через каналы (chat webhooks, in-app)
//   - Продолжает цепочку: планирует следующий job через Dispatcher
//   - По cron переносит созревшие отложенные jobs и возвращает брошенные
//   - Публикует события выполнения в RabbitMQ
//
// Workers масштабируются горизонтально, maintenance выполняется в каждом.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Herald/internal/channel"
	"github.com/shaiso/Herald/internal/config"
	"github.com/shaiso/Herald/internal/mq"
	"github.com/shaiso/Herald/internal/queue"
	"github.com/shaiso/Herald/internal/repo"
	"github.com/shaiso/Herald/internal/scheduler"
	"github.com/shaiso/Herald/internal/store"
	"github.com/shaiso/Herald/internal/telemetry"
	"github.com/shaiso/Herald/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("HERALD_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log)
	logger.Info("starting herald-worker", "concurrency", cfg.Worker.Concurrency)

	if err := cfg.ValidateWorker(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Хранилище очереди
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
	jobQueue := queue.New(kv.Redis(), cfg.Store.KeyPrefix, logger)

	// RabbitMQ: события выполнения и in-app сообщения
	var (
		mqConn *mq.Connection
		events worker.EventPublisher
		inApp  channel.InAppPublisher
	)
	if cfg.RabbitMQ.Enabled {
		mqConn, err = mq.NewConnection(mq.ConnectionConfig{URL: cfg.RabbitMQ.URL, Logger: logger})
		if err != nil {
			logger.Warn("RabbitMQ not available, events are not published", "error", err)
		} else {
			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			logger.Debug("rabbitmq topology", "topology", mq.TopologyInfo())
			publisher := mq.NewPublisher(mqConn, logger)
			events, inApp = publisher, publisher
			logger.Info("RabbitMQ connected")
		}
	}

	channels := channel.NewRegistry(
		channel.NewChatHandler(channel.ProviderMSTeams, nil),
		channel.NewChatHandler(channel.ProviderSlack, nil),
		channel.NewChatHandler(channel.ProviderDiscord, nil),
		channel.NewInAppHandler(inApp),
	)

	dispatcher := scheduler.NewDispatcher(scheduler.DispatcherConfig{
		Jobs:   jobRepo,
		Queue:  jobQueue,
		Logger: logger,
	})

	w := worker.New(worker.Config{
		Jobs:         jobRepo,
		Queue:        jobQueue,
		Scheduler:    dispatcher,
		Steps:        worker.NewRegistry(channels),
		Events:       events,
		Concurrency:  cfg.Worker.Concurrency,
		LockDuration: cfg.Worker.LockDuration,
		BlockTimeout: cfg.Worker.BlockTimeout,
		Logger:       logger,
	})

	// Maintenance по cron
	maintenance := scheduler.NewMaintenance(scheduler.MaintenanceConfig{Queue: jobQueue, Logger: logger})
	c := cron.New()
	if err := maintenance.Register(ctx, c, cfg.Worker.PromoteInterval, cfg.Worker.StalledInterval); err != nil {
		logger.Error("failed to register maintenance", "error", err)
		os.Exit(1)
	}
	c.Start()

	// HTTP: /healthz (состояние очереди) + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		stats, err := jobQueue.Stats(r.Context())
		status := http.StatusOK
		if err != nil || !kv.IsReady(r.Context()) {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"queue":    stats,
			"rabbitmq": mqConn != nil && mqConn.IsConnected(),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Worker.Port), Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return server.Shutdown(context.Background())
	})

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("worker stopped with error", "error", runErr)
	}

	<-c.Stop().Done()

	var closeErr error
	if mqConn != nil {
		closeErr = multierr.Append(closeErr, mqConn.Close())
	}
	closeErr = multierr.Append(closeErr, kv.Shutdown())
	if closeErr != nil {
		logger.Error("shutdown error", "error", closeErr)
	}

	logger.Info("herald-worker stopped")
}
