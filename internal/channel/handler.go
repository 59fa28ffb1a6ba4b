package channel

import (
	"context"
	"fmt"
	"sync"
)

// ProviderID — идентификатор провайдера канала.
type ProviderID string

const (
	ProviderMSTeams ProviderID = "msteams"
	ProviderSlack   ProviderID = "slack"
	ProviderDiscord ProviderID = "discord"
	ProviderInApp   ProviderID = "in_app"
)

// Message — сообщение для отправки, собранное воркером из job.
type Message struct {
	JobID          string
	TransactionID  string
	SubscriberID   string
	EnvironmentID  string
	OrganizationID string

	// Content — контент шага как есть. Рендеринг вне ядра.
	Content map[string]any

	// Payload — данные trigger.
	Payload map[string]any

	// Events — события digest окна, если перед шагом был digest.
	Events []map[string]any

	// Presend — внеочередная отправка при слиянии в digest окно.
	Presend bool
}

// Handler отправляет сообщения через конкретного провайдера.
type Handler interface {
	// ProviderID возвращает идентификатор провайдера.
	ProviderID() ProviderID

	// CheckIntegration проверяет, что сообщение можно отправить.
	CheckIntegration(ctx context.Context, msg *Message) error

	// Send отправляет сообщение.
	Send(ctx context.Context, msg *Message) error
}

// Registry — реестр обработчиков по провайдеру.
type Registry struct {
	mu       sync.RWMutex
	handlers map[ProviderID]Handler
}

// NewRegistry создаёт реестр с переданными обработчиками.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[ProviderID]Handler, len(handlers))}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

// Register регистрирует обработчик. Повторная регистрация заменяет предыдущий.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.ProviderID()] = h
}

// Get возвращает обработчик провайдера.
func (r *Registry) Get(id ProviderID) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return h, nil
}

// Deliver проверяет интеграцию и отправляет сообщение через провайдера id.
func (r *Registry) Deliver(ctx context.Context, id ProviderID, msg *Message) error {
	h, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := h.CheckIntegration(ctx, msg); err != nil {
		return err
	}
	return h.Send(ctx, msg)
}

// getString извлекает строку из map.
func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
