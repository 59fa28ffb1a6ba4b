// Package worker выполняет step jobs из очереди.
//
// # Обзор
//
// Пул из Concurrency горутин резервирует jobs в Redis очереди
// (Reserve с блокировкой LockDuration) и выполняет их. Пока job
// обрабатывается, блокировка продлевается каждые LockDuration/2.
// Job, чья блокировка истекла, считается брошенным и выдаётся повторно
// (scheduler.Maintenance.StalledTick).
//
//	w := worker.New(worker.Config{
//	    Jobs:      jobRepo,
//	    Queue:     q,
//	    Scheduler: dispatcher,
//	    Steps:     worker.NewRegistry(channels),
//	    Events:    publisher,
//	    Logger:    logger,
//	})
//	err := w.Run(ctx) // блокирует до отмены ctx
//
// # Обработка job
//
//  1. Загрузка job из хранилища
//  2. DIGEST/DELAY: отменённый job тихо снимается с очереди
//  3. Перевод в RUNNING
//  4. Выполнение шага через Executor
//  5. Кроме presend: следующий job цепочки передаётся в scheduler
//
// Результаты уходят в канал, который читает одна горутина. Только она
// переводит jobs в COMPLETED и FAILED, снимает их с очереди и публикует
// события выполнения. Автоматического retry нет.
package worker
