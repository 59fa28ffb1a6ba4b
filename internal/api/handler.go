package api

import (
	"context"
	"log/slog"

	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/events"
)

// EventService — trigger и отмена событий.
type EventService interface {
	Trigger(ctx context.Context, cmd events.TriggerCommand) (*events.TriggerResult, error)
	Cancel(ctx context.Context, environmentID, transactionID string) (int64, error)
}

// JobReader — чтение jobs.
type JobReader interface {
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	ListByTransaction(ctx context.Context, transactionID string) ([]*domain.Job, error)
}

// ReadinessChecker — готовность распределённого хранилища.
type ReadinessChecker interface {
	IsReady(ctx context.Context) bool
}

// Handler — обработчик API с зависимостями.
type Handler struct {
	events EventService
	jobs   JobReader
	store  ReadinessChecker
	logger *slog.Logger
}

// Config — конфигурация Handler.
type Config struct {
	Events EventService
	Jobs   JobReader
	Store  ReadinessChecker
	Logger *slog.Logger
}

// NewHandler создаёт Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		events: cfg.Events,
		jobs:   cfg.Jobs,
		store:  cfg.Store,
		logger: logger,
	}
}
