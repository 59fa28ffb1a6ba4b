package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/mq"
	"github.com/shaiso/Herald/internal/queue"
	"github.com/shaiso/Herald/internal/repo"
	"github.com/shaiso/Herald/internal/telemetry"
)

type outcome string

const (
	outcomeCompleted outcome = "completed"
	outcomeFailed    outcome = "failed"
	outcomeCanceled  outcome = "canceled"

	// outcomeSkipped — job уже отменён или завершён другой доставкой,
	// статус не меняется.
	outcomeSkipped outcome = "skipped"
)

// result — итог обработки job, передаётся в handleResults.
type result struct {
	env      *queue.Envelope
	job      *domain.Job // nil, если job не загружен
	outcome  outcome
	err      error
	duration time.Duration

	// release останавливает продление блокировки.
	release func()
}

// process выполняет зарезервированный job.
//
// Выполнение не прерывается отменой ctx: уже выданный job доводится до конца.
func (w *Worker) process(ctx context.Context, env *queue.Envelope) *result {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	res := &result{env: env, release: w.heartbeat(env.JobID)}

	logger := telemetry.WithTransactionID(telemetry.WithJobID(w.logger, env.JobID), env.TransactionID)

	// 1. Загружаем job
	job, err := w.jobs.GetByID(ctx, env.JobID)
	if err != nil {
		res.outcome, res.err = outcomeFailed, fmt.Errorf("load job: %w", err)
		return res
	}
	res.job = job

	// 2. Отложенный шаг отменён, пока ждал
	if job.Type.IsDeferred() {
		canceled, err := w.isCanceled(ctx, job.ID)
		if err != nil {
			res.outcome, res.err = outcomeFailed, err
			return res
		}
		if canceled {
			logger.Info("deferred job canceled, skipping", "type", job.Type)
			res.outcome = outcomeCanceled
			return res
		}
	}

	// 3. RUNNING
	err = w.jobs.UpdateStatus(ctx, job.ID, domain.JobStatusRunning)
	if errors.Is(err, repo.ErrInvalidTransition) {
		logger.Info("job already finished, skipping", "type", job.Type, "status", job.Status)
		res.outcome = outcomeSkipped
		return res
	}
	if err != nil {
		res.outcome, res.err = outcomeFailed, fmt.Errorf("mark running: %w", err)
		return res
	}
	job.Status = domain.JobStatusRunning

	// Окно digest в RUNNING больше не принимает события:
	// перечитываем итоговый набор
	if job.Type == domain.StepTypeDigest {
		fresh, err := w.jobs.GetByID(ctx, job.ID)
		if err != nil {
			res.outcome, res.err = outcomeFailed, fmt.Errorf("reload digest window: %w", err)
			return res
		}
		job.Digest = fresh.Digest
	}

	logger.Debug("job started", "type", job.Type, "presend", env.Presend)

	// 4. Шаг
	executor, err := w.steps.Get(job.Type)
	if err == nil {
		err = executor.Execute(ctx, &Task{Job: job, Presend: env.Presend})
	}
	if err != nil {
		res.outcome, res.err = outcomeFailed, err
		res.duration = time.Since(start)
		return res
	}

	// 5. Продолжение цепочки
	if !env.Presend {
		if err := w.continueChain(ctx, job); err != nil {
			res.outcome, res.err = outcomeFailed, err
			res.duration = time.Since(start)
			return res
		}
	}

	res.outcome = outcomeCompleted
	res.duration = time.Since(start)
	return res
}

func (w *Worker) isCanceled(ctx context.Context, jobID string) (bool, error) {
	n, err := w.jobs.Count(ctx, repo.JobFilter{ID: jobID, Status: domain.JobStatusCanceled})
	if err != nil {
		return false, fmt.Errorf("check canceled: %w", err)
	}
	return n > 0, nil
}

// continueChain передаёт в scheduler следующий job цепочки.
//
// Jobs, уже отправленные через presend (COMPLETED), пропускаются:
// планируется следующий за ними. Отменённый job обрывает цепочку.
// События digest окна переходят к следующему шагу.
func (w *Worker) continueChain(ctx context.Context, job *domain.Job) error {
	events := job.DigestEvents()
	current := job

	for {
		next, err := w.jobs.FindByParentID(ctx, current.ID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find next job: %w", err)
		}

		switch next.Status {
		case domain.JobStatusCanceled:
			w.logger.Debug("next job canceled, chain stopped", "job_id", next.ID)
			return nil
		case domain.JobStatusCompleted:
			current = next
			continue
		}

		if len(events) > 0 && next.Type != domain.StepTypeDigest {
			if err := w.jobs.SetDigestEvents(ctx, next.ID, events); err != nil {
				return fmt.Errorf("pass digest events: %w", err)
			}
			if next.Digest == nil {
				next.Digest = &domain.Digest{}
			}
			next.Digest.Events = events
		}

		if err := w.scheduler.AddJob(ctx, next, false); err != nil {
			return fmt.Errorf("schedule next job %s: %w", next.ID, err)
		}
		return nil
	}
}

// handleResults — единственное место, где jobs переходят в COMPLETED и FAILED.
func (w *Worker) handleResults(results <-chan *result) {
	for res := range results {
		w.handleResult(context.Background(), res)
	}
}

func (w *Worker) handleResult(ctx context.Context, res *result) {
	defer res.release()

	stepType := "unknown"
	if res.job != nil {
		stepType = string(res.job.Type)
	}
	telemetry.JobsProcessed.WithLabelValues(stepType, string(res.outcome)).Inc()
	if res.duration > 0 {
		telemetry.JobDuration.WithLabelValues(stepType).Observe(res.duration.Seconds())
	}

	switch res.outcome {
	case outcomeCompleted:
		w.onCompleted(ctx, res)
	case outcomeFailed:
		w.onFailed(ctx, res)
	case outcomeCanceled, outcomeSkipped:
		// статус остаётся прежним
		if err := w.queue.Complete(ctx, res.env); err != nil {
			w.logger.Error("failed to release job", "job_id", res.env.JobID, "outcome", res.outcome, "error", err)
		}
	}
}

func (w *Worker) onCompleted(ctx context.Context, res *result) {
	logger := telemetry.WithJobID(w.logger, res.env.JobID)

	if err := w.jobs.UpdateStatus(ctx, res.job.ID, domain.JobStatusCompleted); err != nil {
		logger.Error("failed to mark job completed", "error", err)
	} else {
		res.job.Status = domain.JobStatusCompleted
	}

	if err := w.queue.Complete(ctx, res.env); err != nil {
		logger.Error("failed to release completed job", "error", err)
	}

	logger.Info("job completed", "type", res.job.Type, "duration", res.duration)
	w.publish(ctx, res, "")
}

func (w *Worker) onFailed(ctx context.Context, res *result) {
	logger := telemetry.WithJobID(w.logger, res.env.JobID)
	message := res.err.Error()

	if res.job != nil {
		err := w.jobs.UpdateStatus(ctx, res.job.ID, domain.JobStatusFailed)
		if errors.Is(err, repo.ErrInvalidTransition) {
			// job завершён другой доставкой, его статус и ошибку не трогаем
			logger.Warn("job already finished, failure not recorded", "error", res.err)
			if err := w.queue.Fail(ctx, res.env); err != nil {
				logger.Error("failed to release failed job", "error", err)
			}
			return
		}
		if err != nil {
			logger.Error("failed to mark job failed", "error", err)
		}
		if err := w.jobs.SetError(ctx, res.job.ID, message); err != nil {
			logger.Error("failed to save job error", "error", err)
		}
		res.job.Status = domain.JobStatusFailed
		res.job.Error = message
	}

	if err := w.queue.Fail(ctx, res.env); err != nil {
		logger.Error("failed to release failed job", "error", err)
	}

	logger.Warn("job failed", "error", res.err)
	w.publish(ctx, res, message)
}

// publish отправляет событие выполнения. Ошибка публикации не меняет статус job.
func (w *Worker) publish(ctx context.Context, res *result, errMsg string) {
	if w.events == nil {
		w.logger.Debug("events publisher not configured, skipping", "job_id", res.env.JobID)
		return
	}

	payload := mq.JobEventPayload{
		JobID:          res.env.JobID,
		TransactionID:  res.env.TransactionID,
		EnvironmentID:  res.env.EnvironmentID,
		OrganizationID: res.env.OrganizationID,
		Presend:        res.env.Presend,
		Error:          errMsg,
	}
	if res.job != nil {
		payload.Type = string(res.job.Type)
		payload.Status = string(res.job.Status)
		payload.SubscriberID = res.job.SubscriberID
	}

	var err error
	if res.outcome == outcomeCompleted {
		err = w.events.PublishJobCompleted(ctx, payload)
	} else {
		err = w.events.PublishJobFailed(ctx, payload)
	}
	if err != nil {
		w.logger.Warn("failed to publish job event", "job_id", res.env.JobID, "error", err)
	}
}
