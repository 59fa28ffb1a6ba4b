package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения.
type MessageType string

const (
	MessageTypeJobCompleted MessageType = "job.completed"
	MessageTypeJobFailed    MessageType = "job.failed"
	MessageTypeInApp        MessageType = "message.in_app"
)

// Message — конверт любого сообщения Herald.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

func newMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// JobEventPayload — событие выполнения job (execution detail).
type JobEventPayload struct {
	JobID          string `json:"job_id"`
	TransactionID  string `json:"transaction_id"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	SubscriberID   string `json:"subscriber_id"`
	EnvironmentID  string `json:"environment_id"`
	OrganizationID string `json:"organization_id"`
	Presend        bool   `json:"presend,omitempty"`
	Error          string `json:"error,omitempty"`
}

// InAppPayload — in-app сообщение подписчику.
type InAppPayload struct {
	JobID          string           `json:"job_id"`
	TransactionID  string           `json:"transaction_id"`
	SubscriberID   string           `json:"subscriber_id"`
	EnvironmentID  string           `json:"environment_id"`
	OrganizationID string           `json:"organization_id"`
	Content        map[string]any   `json:"content,omitempty"`
	Payload        map[string]any   `json:"payload,omitempty"`
	Events         []map[string]any `json:"events,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishJobCompleted публикует событие об успешном выполнении job.
func (p *Publisher) PublishJobCompleted(ctx context.Context, payload JobEventPayload) error {
	return p.Publish(ctx, ExchangeJobs, RoutingKeyCompleted, newMessage(MessageTypeJobCompleted, payload))
}

// PublishJobFailed публикует событие об ошибке выполнения job.
func (p *Publisher) PublishJobFailed(ctx context.Context, payload JobEventPayload) error {
	return p.Publish(ctx, ExchangeJobs, RoutingKeyFailed, newMessage(MessageTypeJobFailed, payload))
}

// PublishInApp публикует in-app сообщение.
// Потребитель: websocket сервис.
func (p *Publisher) PublishInApp(ctx context.Context, payload InAppPayload) error {
	return p.Publish(ctx, ExchangeMessages, RoutingKeyInApp, newMessage(MessageTypeInApp, payload))
}
