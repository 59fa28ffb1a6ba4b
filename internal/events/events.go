// Package events — вход в систему: trigger события по шаблону
// и отмена транзакции.
//
// Trigger разворачивает шаблон в цепочку step jobs для каждого подписчика:
// первый job типа trigger, далее по одному job на шаг шаблона, связанные
// через ParentID. В scheduler передаётся только первый job цепочки,
// остальные планирует воркер по мере выполнения.
package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Herald/internal/domain"
)

// TemplateStore — источник шаблонов.
type TemplateStore interface {
	GetByID(ctx context.Context, environmentID, id string) (*domain.Template, error)
}

// JobStore — хранилище jobs.
type JobStore interface {
	CreateMany(ctx context.Context, jobs []*domain.Job) error
	CancelTransaction(ctx context.Context, environmentID, transactionID string) (int64, error)
}

// Scheduler планирует первый job цепочки.
type Scheduler interface {
	AddJob(ctx context.Context, job *domain.Job, presend bool) error
}

// TriggerCommand — запрос на отправку уведомления.
type TriggerCommand struct {
	// TemplateID — ID или identifier шаблона.
	TemplateID string

	// To — подписчики. Для каждого создаётся своя цепочка jobs.
	To []string

	Payload   map[string]any
	Overrides map[string]any

	// TransactionID — задаётся вызывающей стороной или генерируется.
	TransactionID string

	EnvironmentID  string
	OrganizationID string
	UserID         string
}

// TriggerResult — результат trigger.
type TriggerResult struct {
	TransactionID string `json:"transaction_id"`
	Jobs          int    `json:"jobs"`
}

// Service обрабатывает trigger и отмену.
type Service struct {
	templates TemplateStore
	jobs      JobStore
	scheduler Scheduler
	logger    *slog.Logger
}

// Config — конфигурация Service.
type Config struct {
	Templates TemplateStore
	Jobs      JobStore
	Scheduler Scheduler
	Logger    *slog.Logger
}

// New создаёт Service.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		templates: cfg.Templates,
		jobs:      cfg.Jobs,
		scheduler: cfg.Scheduler,
		logger:    logger.With("component", "events"),
	}
}

// Trigger создаёт jobs по шаблону и передаёт первые jobs цепочек в scheduler.
//
// 1. Валидация команды
// 2. Загрузка шаблона окружения
// 3. Цепочка jobs на каждого подписчика
// 4. Сохранение всех jobs одной транзакцией
// 5. Планирование первого job каждой цепочки
func (s *Service) Trigger(ctx context.Context, cmd TriggerCommand) (*TriggerResult, error) {
	// 1. Валидация
	if cmd.TemplateID == "" {
		return nil, fmt.Errorf("%w: template id is required", ErrInvalidCommand)
	}
	if len(cmd.To) == 0 {
		return nil, fmt.Errorf("%w: at least one subscriber is required", ErrInvalidCommand)
	}
	for _, sub := range cmd.To {
		if sub == "" {
			return nil, fmt.Errorf("%w: subscriber id must not be empty", ErrInvalidCommand)
		}
	}
	if cmd.TransactionID == "" {
		cmd.TransactionID = uuid.NewString()
	}

	// 2. Шаблон
	tpl, err := s.templates.GetByID(ctx, cmd.EnvironmentID, cmd.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("get template %s: %w", cmd.TemplateID, err)
	}
	if !tpl.Active {
		return nil, fmt.Errorf("%w: %s", ErrTemplateInactive, tpl.Identifier)
	}

	// 3. Цепочки
	var all []*domain.Job
	heads := make([]*domain.Job, 0, len(cmd.To))
	for _, subscriberID := range cmd.To {
		chain := buildChain(tpl, cmd, subscriberID)
		heads = append(heads, chain[0])
		all = append(all, chain...)
	}

	// 4. Сохранение
	if err := s.jobs.CreateMany(ctx, all); err != nil {
		return nil, fmt.Errorf("create jobs: %w", err)
	}

	// 5. Планирование
	for _, head := range heads {
		if err := s.scheduler.AddJob(ctx, head, false); err != nil {
			return nil, fmt.Errorf("schedule job %s: %w", head.ID, err)
		}
	}

	s.logger.Info("event triggered",
		"transaction_id", cmd.TransactionID,
		"template", tpl.Identifier,
		"subscribers", len(cmd.To),
		"jobs", len(all),
	)

	return &TriggerResult{TransactionID: cmd.TransactionID, Jobs: len(all)}, nil
}

// Cancel отменяет ожидающие jobs транзакции. Уже выполняющиеся
// и завершённые jobs не затрагиваются. Возвращает число отменённых.
func (s *Service) Cancel(ctx context.Context, environmentID, transactionID string) (int64, error) {
	if transactionID == "" {
		return 0, fmt.Errorf("%w: transaction id is required", ErrInvalidCommand)
	}

	n, err := s.jobs.CancelTransaction(ctx, environmentID, transactionID)
	if err != nil {
		return 0, err
	}

	s.logger.Info("transaction canceled", "transaction_id", transactionID, "jobs", n)
	return n, nil
}

// buildChain создаёт trigger job и по job на каждый шаг шаблона.
func buildChain(tpl *domain.Template, cmd TriggerCommand, subscriberID string) []*domain.Job {
	newJob := func(stepType domain.StepType, parent *domain.Job) *domain.Job {
		j := domain.NewJob(cmd.TransactionID, stepType)
		j.Identifier = tpl.Identifier
		j.SubscriberID = subscriberID
		j.TemplateID = tpl.ID
		j.EnvironmentID = cmd.EnvironmentID
		j.OrganizationID = cmd.OrganizationID
		j.UserID = cmd.UserID
		j.Payload = cmd.Payload
		j.Overrides = cmd.Overrides
		if parent != nil {
			j.ParentID = parent.ID
		}
		return j
	}

	trigger := newJob(domain.StepTypeTrigger, nil)
	chain := []*domain.Job{trigger}

	parent := trigger
	for _, step := range tpl.Steps {
		j := newJob(step.Type, parent)
		j.Step = step.Step
		j.ProviderID = step.ProviderID
		if step.Digest != nil {
			d := *step.Digest
			d.Events = nil
			j.Digest = &d
		}
		chain = append(chain, j)
		parent = j
	}
	return chain
}
