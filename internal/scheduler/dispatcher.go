package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/queue"
	"github.com/shaiso/Herald/internal/repo"
	"github.com/shaiso/Herald/internal/telemetry"
)

// Enqueuer — очередь, принимающая jobs.
type Enqueuer interface {
	Add(ctx context.Context, env *queue.Envelope) (bool, error)
}

// Dispatcher — точка входа планирования: AddJob.
type Dispatcher struct {
	aggregator *Aggregator
	jobs       JobStore
	queue      Enqueuer
	logger     *slog.Logger

	removeOnComplete bool
	removeOnFail     bool
}

// DispatcherConfig — конфигурация Dispatcher.
type DispatcherConfig struct {
	Jobs   JobStore
	Queue  Enqueuer
	Logger *slog.Logger

	// KeepCompleted / KeepFailed — не удалять envelope из очереди
	// после завершения (по умолчанию удаляется).
	KeepCompleted bool
	KeepFailed    bool
}

// NewDispatcher создаёт Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		aggregator:       NewAggregator(cfg.Jobs, logger),
		jobs:             cfg.Jobs,
		queue:            cfg.Queue,
		logger:           logger.With("component", "dispatcher"),
		removeOnComplete: !cfg.KeepCompleted,
		removeOnFail:     !cfg.KeepFailed,
	}
}

// AddJob планирует job.
//
// 1. Aggregator решает маршрут
// 2. Слитый digest trigger не ставится в очередь; при update mode
// pending in-app jobs отправляются с presend
// 3. Job для немедленного выполнения помечается QUEUED
// 4. Envelope ставится в очередь с задержкой маршрута
//
// Повторный AddJob того же job, пока он в очереди, ничего не делает.
// Отменённый или завершённый job пропускается без ошибки.
func (d *Dispatcher) AddJob(ctx context.Context, job *domain.Job, presend bool) error {
	if job == nil {
		return ErrNilJob
	}

	logger := telemetry.WithTransactionID(telemetry.WithJobID(d.logger, job.ID), job.TransactionID)

	if job.IsFinished() {
		logger.Debug("job already finished, not scheduled", "status", job.Status)
		return nil
	}

	// 1. Маршрут
	decision, err := d.aggregator.Route(ctx, job)
	if errors.Is(err, repo.ErrInvalidTransition) {
		logger.Debug("job finished concurrently, not scheduled", "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("route job %s: %w", job.ID, err)
	}
	telemetry.JobsScheduled.WithLabelValues(string(decision.Route)).Inc()

	// 2. Слит в окно
	if decision.Route == RouteDigestMerged {
		for _, inApp := range decision.Presend {
			if err := d.AddJob(ctx, inApp, true); err != nil {
				logger.Error("failed to presend in-app job",
					"in_app_job_id", inApp.ID,
					"error", err,
				)
			}
		}
		return nil
	}

	// 3. Немедленное выполнение
	if decision.Route == RouteImmediate {
		err := d.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusQueued)
		if errors.Is(err, repo.ErrInvalidTransition) {
			logger.Debug("job finished concurrently, not scheduled", "error", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("mark queued: %w", err)
		}
		job.Status = domain.JobStatusQueued
	}

	// 4. В очередь
	added, err := d.queue.Add(ctx, &queue.Envelope{
		JobID:            job.ID,
		TransactionID:    job.TransactionID,
		EnvironmentID:    job.EnvironmentID,
		OrganizationID:   job.OrganizationID,
		UserID:           job.UserID,
		Presend:          presend,
		RemoveOnComplete: d.removeOnComplete,
		RemoveOnFail:     d.removeOnFail,
		Delay:            decision.Delay,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEnqueueFailed, err)
	}

	logger.Debug("job scheduled",
		"route", decision.Route,
		"delay", decision.Delay,
		"presend", presend,
		"duplicate", !added,
	)
	return nil
}
