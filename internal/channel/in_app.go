package channel

import (
	"context"
	"fmt"

	"github.com/shaiso/Herald/internal/mq"
)

// InAppPublisher публикует in-app сообщения.
type InAppPublisher interface {
	PublishInApp(ctx context.Context, payload mq.InAppPayload) error
}

// InAppHandler — in-app канал: сообщение уходит в exchange herald.messages.
type InAppHandler struct {
	publisher InAppPublisher
}

// NewInAppHandler создаёт in-app обработчик.
func NewInAppHandler(publisher InAppPublisher) *InAppHandler {
	return &InAppHandler{publisher: publisher}
}

func (h *InAppHandler) ProviderID() ProviderID { return ProviderInApp }

// CheckIntegration требует подписчика и настроенный publisher.
func (h *InAppHandler) CheckIntegration(_ context.Context, msg *Message) error {
	if h.publisher == nil {
		return fmt.Errorf("%w: in_app publisher is not configured", ErrIntegration)
	}
	if msg.SubscriberID == "" {
		return fmt.Errorf("%w: in_app message has no subscriber", ErrIntegration)
	}
	return nil
}

func (h *InAppHandler) Send(ctx context.Context, msg *Message) error {
	err := h.publisher.PublishInApp(ctx, mq.InAppPayload{
		JobID:          msg.JobID,
		TransactionID:  msg.TransactionID,
		SubscriberID:   msg.SubscriberID,
		EnvironmentID:  msg.EnvironmentID,
		OrganizationID: msg.OrganizationID,
		Content:        msg.Content,
		Payload:        msg.Payload,
		Events:         msg.Events,
	})
	if err != nil {
		return fmt.Errorf("%w: in_app: %v", ErrDelivery, err)
	}
	return nil
}
