package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/mq"
	"github.com/shaiso/Herald/internal/queue"
	"github.com/shaiso/Herald/internal/repo"
)

const (
	defaultConcurrency  = 100
	defaultLockDuration = 90 * time.Second
	defaultBlockTimeout = 5 * time.Second
	reserveErrorBackoff = time.Second
)

// JobStore — хранилище jobs, нужное воркеру.
type JobStore interface {
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	Count(ctx context.Context, filter repo.JobFilter) (int, error)
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus) error
	SetError(ctx context.Context, id string, message string) error
	FindByParentID(ctx context.Context, parentID string) (*domain.Job, error)
	SetDigestEvents(ctx context.Context, id string, events []map[string]any) error
}

// JobQueue — очередь, из которой воркер резервирует jobs.
type JobQueue interface {
	Reserve(ctx context.Context, timeout, lockDuration time.Duration) (*queue.Envelope, error)
	ExtendLock(ctx context.Context, jobID string, lockDuration time.Duration) error
	Complete(ctx context.Context, env *queue.Envelope) error
	Fail(ctx context.Context, env *queue.Envelope) error
}

// Scheduler планирует следующий job цепочки.
type Scheduler interface {
	AddJob(ctx context.Context, job *domain.Job, presend bool) error
}

// EventPublisher публикует события выполнения.
type EventPublisher interface {
	PublishJobCompleted(ctx context.Context, payload mq.JobEventPayload) error
	PublishJobFailed(ctx context.Context, payload mq.JobEventPayload) error
}

// Worker — пул воркеров очереди jobs.
type Worker struct {
	jobs      JobStore
	queue     JobQueue
	scheduler Scheduler
	steps     *Registry
	events    EventPublisher

	concurrency  int
	lockDuration time.Duration
	blockTimeout time.Duration

	logger *slog.Logger
}

// Config — конфигурация Worker.
type Config struct {
	Jobs      JobStore
	Queue     JobQueue
	Scheduler Scheduler

	// Steps — executor'ы шагов (обязательно).
	Steps *Registry

	// Events — публикация событий выполнения (опционально).
	Events EventPublisher

	Concurrency  int           // default: 100
	LockDuration time.Duration // default: 90s
	BlockTimeout time.Duration // default: 5s

	Logger *slog.Logger
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	lockDuration := cfg.LockDuration
	if lockDuration <= 0 {
		lockDuration = defaultLockDuration
	}

	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = defaultBlockTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		jobs:         cfg.Jobs,
		queue:        cfg.Queue,
		scheduler:    cfg.Scheduler,
		steps:        cfg.Steps,
		events:       cfg.Events,
		concurrency:  concurrency,
		lockDuration: lockDuration,
		blockTimeout: blockTimeout,
		logger:       logger.With("component", "worker"),
	}
}

// Run запускает пул и блокирует до отмены ctx.
//
// После отмены новые jobs не резервируются, уже выданные
// выполняются до конца, их результаты обрабатываются.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("starting worker",
		"concurrency", w.concurrency,
		"lock_duration", w.lockDuration,
	)

	results := make(chan *result, w.concurrency)

	var handlers errgroup.Group
	handlers.Go(func() error {
		w.handleResults(results)
		return nil
	})

	pool, poolCtx := errgroup.WithContext(ctx)
	for i := range w.concurrency {
		pool.Go(func() error {
			w.loop(poolCtx, i, results)
			return nil
		})
	}

	err := pool.Wait()
	close(results)
	_ = handlers.Wait()

	w.logger.Info("worker stopped")
	return err
}

// loop резервирует и выполняет jobs, пока ctx не отменён.
func (w *Worker) loop(ctx context.Context, slot int, results chan<- *result) {
	logger := w.logger.With("slot", slot)

	for ctx.Err() == nil {
		env, err := w.queue.Reserve(ctx, w.blockTimeout, w.lockDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to reserve job", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reserveErrorBackoff):
			}
			continue
		}
		if env == nil {
			continue
		}

		results <- w.process(ctx, env)
	}
}

// heartbeat продлевает блокировку job до вызова stop.
func (w *Worker) heartbeat(jobID string) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(w.lockDuration / 2)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := w.queue.ExtendLock(ctx, jobID, w.lockDuration)
				if err == nil || ctx.Err() != nil {
					continue
				}
				if errors.Is(err, queue.ErrLockLost) {
					w.logger.Warn("job lock lost, job may be redelivered", "job_id", jobID)
					return
				}
				w.logger.Warn("failed to extend job lock", "job_id", jobID, "error", err)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
