// Package scheduler решает, когда и как job попадает в очередь.
//
// Структура:
//   - aggregator.go  — маршрут job: немедленно, с задержкой, digest окно или слияние
//   - delay.go       — вычисление задержек delay и digest шагов
//   - dispatcher.go  — AddJob, единственная точка постановки в очередь
//   - maintenance.go — перенос созревших jobs и возврат брошенных по cron
//
// Использование:
//
//	d := scheduler.NewDispatcher(scheduler.DispatcherConfig{
//	    Jobs:   jobRepo,
//	    Queue:  jobQueue,
//	    Logger: logger,
//	})
//	if err := d.AddJob(ctx, job, false); err != nil {
//	    logger.Error("failed to schedule job", "error", err)
//	}
//
// Maintenance не требует leader election: перенос и возврат jobs
// атомарны в Redis, поэтому тики безопасно выполнять во всех воркерах.
package scheduler
