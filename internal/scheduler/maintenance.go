package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Herald/internal/telemetry"
)

// MaintainedQueue — операции обслуживания очереди.
type MaintainedQueue interface {
	PromoteDue(ctx context.Context, batch int64) (int, error)
	RequeueStalled(ctx context.Context) (int, error)
}

// Maintenance — периодическое обслуживание очереди:
//   - перенос созревших отложенных jobs (delay/digest окна) в очередь ожидания
//   - возврат брошенных jobs (истёкшая блокировка)
//
// Каждый тик идемпотентен, поэтому Maintenance может работать
// во всех воркерах одновременно без leader election.
type Maintenance struct {
	queue     MaintainedQueue
	batchSize int64
	logger    *slog.Logger
}

// MaintenanceConfig — конфигурация Maintenance.
type MaintenanceConfig struct {
	Queue     MaintainedQueue
	Logger    *slog.Logger
	BatchSize int64 // jobs за один тик переноса (default: 500)
}

// NewMaintenance создаёт Maintenance.
func NewMaintenance(cfg MaintenanceConfig) *Maintenance {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Maintenance{
		queue:     cfg.Queue,
		batchSize: batchSize,
		logger:    logger.With("component", "maintenance"),
	}
}

// PromoteTick переносит созревшие jobs, пока они есть (пачками по batchSize).
func (m *Maintenance) PromoteTick(ctx context.Context) error {
	var total int
	for {
		n, err := m.queue.PromoteDue(ctx, m.batchSize)
		if err != nil {
			return fmt.Errorf("promote due: %w", err)
		}
		total += n
		if int64(n) < m.batchSize {
			break
		}
	}

	if total > 0 {
		telemetry.JobsPromoted.Add(float64(total))
		m.logger.Debug("delayed jobs promoted", "count", total)
	}
	return nil
}

// StalledTick возвращает брошенные jobs в очередь.
func (m *Maintenance) StalledTick(ctx context.Context) error {
	n, err := m.queue.RequeueStalled(ctx)
	if err != nil {
		return fmt.Errorf("requeue stalled: %w", err)
	}
	if n > 0 {
		telemetry.JobsStalled.Add(float64(n))
	}
	return nil
}

// Register добавляет тики в cron планировщик (@every интервалы).
// Тик не запускается, пока предыдущий такой же тик не завершён.
func (m *Maintenance) Register(ctx context.Context, c *cron.Cron, promoteEvery, stalledEvery time.Duration) error {
	jobs := []struct {
		name  string
		every time.Duration
		tick  func(context.Context) error
	}{
		{"promote", promoteEvery, m.PromoteTick},
		{"stalled", stalledEvery, m.StalledTick},
	}

	for _, j := range jobs {
		tick := j.tick
		name := j.name
		wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
			if err := tick(ctx); err != nil {
				m.logger.Error("maintenance tick failed", "tick", name, "error", err)
			}
		}))

		if _, err := c.AddJob(fmt.Sprintf("@every %s", j.every), wrapped); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
	}
	return nil
}
