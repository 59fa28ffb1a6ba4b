package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/repo"
)

// Route — решение агрегатора о job.
type Route string

const (
	// RouteImmediate — выполнить сразу (delay = 0).
	RouteImmediate Route = "immediate"

	// RouteDelay — delay шаг, отложен на эффективный delay.
	RouteDelay Route = "delay"

	// RouteDigestWindow — открыто новое digest окно, job отложен на длину окна.
	RouteDigestWindow Route = "digest_window"

	// RouteDigestMerged — trigger слит в открытое окно, job не выполняется.
	RouteDigestMerged Route = "digest_merged"
)

// Decision — результат маршрутизации job.
type Decision struct {
	Route Route

	// Delay — задержка постановки в очередь.
	Delay time.Duration

	// Window — открытое окно, в которое слит job (для RouteDigestMerged).
	Window *domain.Job

	// Presend — pending in-app jobs, которые нужно отправить сразу (update mode).
	Presend []*domain.Job
}

// JobStore — операции хранилища jobs, нужные планировщику.
type JobStore interface {
	FindOne(ctx context.Context, filter repo.JobFilter) (*domain.Job, error)
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus) error
	AppendDigestEvent(ctx context.Context, id string, event map[string]any) ([]map[string]any, error)
	SetDigestEvents(ctx context.Context, id string, events []map[string]any) error
	FindInAppsForDigest(ctx context.Context, transactionID, subscriberID string) ([]*domain.Job, error)
}

// Aggregator решает, выполнить job сразу, отложить или слить в digest окно.
type Aggregator struct {
	jobs   JobStore
	logger *slog.Logger
}

// NewAggregator создаёт Aggregator.
func NewAggregator(jobs JobStore, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		jobs:   jobs,
		logger: logger.With("component", "aggregator"),
	}
}

// Route маршрутизирует job.
//
// Digest: ищется открытое окно по ключу (subscriber, template, environment,
// type=digest, status=DELAYED). Найдено — payload добавляется в окно,
// job помечается COMPLETED. Не найдено (или окно закрылось между поиском
// и добавлением) — job открывает окно: DELAYED с задержкой, равной длине окна.
//
// Поиск и создание окна не атомарны: два одновременных trigger могут
// открыть два окна.
func (a *Aggregator) Route(ctx context.Context, job *domain.Job) (Decision, error) {
	switch {
	case job.IsDigestStep():
		return a.routeDigest(ctx, job)
	case job.IsDelayStep():
		return a.routeDelay(ctx, job)
	default:
		return Decision{Route: RouteImmediate}, nil
	}
}

func (a *Aggregator) routeDigest(ctx context.Context, job *domain.Job) (Decision, error) {
	// 1. Ищем открытое окно
	window, err := a.jobs.FindOne(ctx, repo.JobFilter{
		SubscriberID:  job.SubscriberID,
		TemplateID:    job.TemplateID,
		EnvironmentID: job.EnvironmentID,
		Type:          domain.StepTypeDigest,
		Status:        domain.JobStatusDelayed,
	})
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return Decision{}, fmt.Errorf("find digest window: %w", err)
	}

	delay := time.Duration(ToMilliseconds(job.Digest.Amount, job.Digest.Unit)) * time.Millisecond

	// повторный AddJob уже открытого окна
	if window != nil && window.ID == job.ID {
		return Decision{Route: RouteDigestWindow, Delay: delay}, nil
	}

	// 2. Окно есть — сливаем trigger
	if window != nil {
		events, err := a.jobs.AppendDigestEvent(ctx, window.ID, job.Payload)
		if err == nil {
			return a.merge(ctx, job, window, events)
		}
		if !errors.Is(err, repo.ErrWindowClosed) {
			return Decision{}, fmt.Errorf("merge into digest window: %w", err)
		}
		a.logger.Debug("digest window closed before merge",
			"job_id", job.ID,
			"window_id", window.ID,
		)
	}

	// 3. Окна нет — открываем
	if err := a.jobs.SetDigestEvents(ctx, job.ID, []map[string]any{job.Payload}); err != nil {
		return Decision{}, fmt.Errorf("open digest window: %w", err)
	}
	if err := a.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusDelayed); err != nil {
		return Decision{}, fmt.Errorf("mark delayed: %w", err)
	}
	job.Status = domain.JobStatusDelayed
	job.Digest.Events = []map[string]any{job.Payload}

	a.logger.Debug("digest window opened", "job_id", job.ID, "delay", delay)
	return Decision{Route: RouteDigestWindow, Delay: delay}, nil
}

// merge завершает слитый trigger. events — события окна после добавления.
func (a *Aggregator) merge(ctx context.Context, job, window *domain.Job, events []map[string]any) (Decision, error) {
	if err := a.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusCompleted); err != nil {
		return Decision{}, fmt.Errorf("mark merged: %w", err)
	}
	job.Status = domain.JobStatusCompleted

	a.logger.Debug("trigger merged into digest window",
		"job_id", job.ID,
		"window_id", window.ID,
		"events", len(events),
	)

	decision := Decision{Route: RouteDigestMerged, Window: window}
	if !job.Digest.UpdateMode {
		return decision, nil
	}

	// Update mode — in-app jobs транзакции отправляются сразу
	// с текущим содержимым окна
	inApps, err := a.jobs.FindInAppsForDigest(ctx, job.TransactionID, job.SubscriberID)
	if err != nil {
		return Decision{}, fmt.Errorf("find in-app jobs: %w", err)
	}
	for _, inApp := range inApps {
		if err := a.jobs.SetDigestEvents(ctx, inApp.ID, events); err != nil {
			return Decision{}, fmt.Errorf("set in-app digest events: %w", err)
		}
		if inApp.Digest == nil {
			inApp.Digest = &domain.Digest{}
		}
		inApp.Digest.Events = events
	}
	decision.Presend = inApps

	return decision, nil
}

func (a *Aggregator) routeDelay(ctx context.Context, job *domain.Job) (Decision, error) {
	delay := time.Duration(EffectiveDelayMs(job)) * time.Millisecond

	if err := a.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusDelayed); err != nil {
		return Decision{}, fmt.Errorf("mark delayed: %w", err)
	}
	job.Status = domain.JobStatusDelayed

	return Decision{Route: RouteDelay, Delay: delay}, nil
}
