// Package api содержит HTTP API сервер Herald.
//
// Структура:
//   - handler.go       — Handler с зависимостями (events, jobs, store)
//   - routes.go        — chi router и маршруты
//   - middleware.go    — logging, recovery, JWT аутентификация
//   - response.go      — унифицированные JSON ответы и обработка ошибок
//   - dto.go           — запросы и ответы
//   - event_handler.go — trigger и отмена событий
//   - job_handler.go   — просмотр jobs
//
// POST /v1/events/trigger идемпотентен при заголовке Idempotency-Key.
package api
