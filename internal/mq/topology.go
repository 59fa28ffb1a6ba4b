package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeJobs     Exchange = "herald.jobs"
	ExchangeMessages Exchange = "herald.messages"
	ExchangeDLQ      Exchange = "herald.dlq"
)

const (
	QueueJobsCompleted Queue = "jobs.completed"
	QueueJobsFailed    Queue = "jobs.failed"
	QueueMessagesInApp Queue = "messages.in_app"
	QueueDLQMessages   Queue = "dlq.messages"
)

const (
	RoutingKeyCompleted   RoutingKey = "completed"
	RoutingKeyFailed      RoutingKey = "failed"
	RoutingKeyInApp       RoutingKey = "in_app"
	RoutingKeyDLQMessages RoutingKey = "messages"

	// RoutingKeyAllJobs — все события выполнения (topic wildcard).
	RoutingKeyAllJobs RoutingKey = "#"
)

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type binding struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

// topology — полное описание объектов брокера, которые объявляет Herald.
func topology() ([]exchangeDecl, []queueDecl, []binding) {
	exchanges := []exchangeDecl{
		{ExchangeJobs, amqp.ExchangeTopic},
		{ExchangeMessages, amqp.ExchangeDirect},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	// in-app сообщения, отклонённые потребителем, уходят в DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQMessages),
	}

	queues := []queueDecl{
		{QueueJobsCompleted, nil},
		{QueueJobsFailed, nil},
		{QueueMessagesInApp, dlqArgs},
		{QueueDLQMessages, nil},
	}

	bindings := []binding{
		{QueueJobsCompleted, RoutingKeyCompleted, ExchangeJobs},
		{QueueJobsFailed, RoutingKeyFailed, ExchangeJobs},
		{QueueMessagesInApp, RoutingKeyInApp, ExchangeMessages},
		{QueueDLQMessages, RoutingKeyDLQMessages, ExchangeDLQ},
	}

	return exchanges, queues, bindings
}

// SetupTopology объявляет exchanges, queues и bindings. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	exchanges, queues, bindings := topology()

	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Exchanges
		for _, ex := range exchanges {
			if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		// 2. Queues
		for _, q := range queues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		// 3. Bindings
		for _, b := range bindings {
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}

		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Herald RabbitMQ Topology:

    herald.jobs (topic)
    ├── jobs.completed [routing: completed]
    └── jobs.failed    [routing: failed]
            Consumer: execution details, herald watch

    herald.messages (direct)
    └── messages.in_app [routing: in_app]
            Consumer: websocket service
            DLQ: dlq.messages

    herald.dlq (direct)
    └── dlq.messages [routing: messages]
            Manual processing
  `
}
