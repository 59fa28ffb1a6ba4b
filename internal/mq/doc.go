// Package mq публикует события выполнения jobs и in-app сообщения в RabbitMQ.
//
// Структура:
//   - connection.go — соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация событий
//   - consumer.go   — потребление (herald watch, внешние сервисы)
//
// Типы сообщений:
//   - job.completed  — job выполнен
//   - job.failed     — job завершился ошибкой
//   - message.in_app — in-app сообщение для доставки подписчику
//
// Exchanges:
//   - herald.jobs     — события выполнения (topic: completed, failed)
//   - herald.messages — in-app сообщения (direct: in_app)
//   - herald.dlq      — dead letter queue
package mq
