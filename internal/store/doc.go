// Package store — распределённое key-value хранилище Herald (Redis).
//
// Состоит из двух частей:
//   - Selector — выбирает провайдера и топологию (single / cluster) по конфигурации
//   - Client — операции get / set / setIfAbsent / scan поверх go-redis
//
// Один Client создаётся на процесс при старте (Open + AwaitReadiness)
// и закрывается при завершении (Shutdown). Тот же клиент используется
// очередью jobs и idempotency guard.
package store
