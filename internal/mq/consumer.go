package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler обрабатывает сообщение. Ошибка → nack с requeue.
type Handler func(ctx context.Context, msg *Message) error

// Subscription — временная очередь, привязанная к exchange.
// Брокер назначает имя и удаляет очередь при отключении consumer.
type Subscription struct {
	Exchange    Exchange
	RoutingKeys []RoutingKey
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя постоянной очереди. Игнорируется, если задан Subscription.
	Queue Queue

	// Subscription — подписка через временную очередь.
	Subscription *Subscription

	Handler Handler

	// Prefetch — количество неподтверждённых сообщений (default: 1).
	Prefetch int
}

// Consumer потребляет сообщения из очереди RabbitMQ.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	cfg      ConsumerConfig
	prefetch int
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		logger:   logger,
		cfg:      cfg,
		prefetch: prefetch,
	}
}

// Run потребляет сообщения до отмены ctx, переживая переподключения.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		deliveries, queue, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
				continue
			}
		}

		c.logger.Info("consumer started", "queue", queue)

		if err := c.processDeliveries(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("consumer interrupted, waiting for reconnect", "queue", queue, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.conn.ReconnectNotify():
			}
		}
	}
}

// setupConsume объявляет временную очередь (если нужно) и начинает потребление.
func (c *Consumer) setupConsume() (<-chan amqp.Delivery, string, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, "", ErrNoChannel
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, "", fmt.Errorf("set qos: %w", err)
	}

	queue := string(c.cfg.Queue)
	if sub := c.cfg.Subscription; sub != nil {
		q, err := ch.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			return nil, "", fmt.Errorf("declare subscription queue: %w", err)
		}
		for _, key := range sub.RoutingKeys {
			if err := ch.QueueBind(q.Name, string(key), string(sub.Exchange), false, nil); err != nil {
				return nil, "", fmt.Errorf("bind subscription queue to %s: %w", sub.Exchange, err)
			}
		}
		queue = q.Name
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, "", fmt.Errorf("consume %s: %w", queue, err)
	}

	return deliveries, queue, nil
}

func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			c.handleDelivery(ctx, raw)
		}
	}
}

// handleDelivery: некорректное сообщение → DLQ, ошибка обработчика → requeue.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	msg, err := DecodeMessage(raw.Body)
	if err != nil {
		c.logger.Error("failed to decode message", "error", err, "body", string(raw.Body))
		raw.Nack(false, false)
		return
	}

	if err := c.cfg.Handler(ctx, msg); err != nil {
		c.logger.Error("handler failed", "message_id", msg.ID, "type", msg.Type, "error", err)
		raw.Nack(false, true)
		return
	}

	raw.Ack(false)
}

// DecodeMessage разбирает тело AMQP сообщения.
func DecodeMessage(body []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	if msg.ID == "" || msg.Type == "" {
		return nil, fmt.Errorf("unmarshal message: missing id or type")
	}
	return &msg, nil
}

// ParsePayload приводит payload сообщения к типу T.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}

	return result, nil
}
