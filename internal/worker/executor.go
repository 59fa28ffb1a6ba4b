package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/Herald/internal/channel"
	"github.com/shaiso/Herald/internal/domain"
)

// Task — job, выданный воркеру.
type Task struct {
	Job *domain.Job

	// Presend — отправка при слиянии в digest окно, без продолжения цепочки.
	Presend bool
}

// Executor выполняет шаг конкретного типа.
type Executor interface {
	Execute(ctx context.Context, task *Task) error
}

// ExecutorFunc — адаптер функции к Executor.
type ExecutorFunc func(ctx context.Context, task *Task) error

func (f ExecutorFunc) Execute(ctx context.Context, task *Task) error { return f(ctx, task) }

// Registry — реестр executor'ов по типу шага.
type Registry struct {
	executors map[domain.StepType]Executor
}

// NewRegistry создаёт реестр по умолчанию:
// trigger, delay, digest — без действия; message шаги — отправка через channels.
func NewRegistry(channels *channel.Registry) *Registry {
	r := &Registry{executors: make(map[domain.StepType]Executor)}

	r.Register(domain.StepTypeTrigger, noopExecutor)
	r.Register(domain.StepTypeDelay, noopExecutor)
	r.Register(domain.StepTypeDigest, noopExecutor)

	send := &MessageExecutor{channels: channels}
	for _, t := range []domain.StepType{
		domain.StepTypeInApp,
		domain.StepTypeEmail,
		domain.StepTypeSMS,
		domain.StepTypeChat,
		domain.StepTypePush,
	} {
		r.Register(t, send)
	}
	return r
}

// Register добавляет executor для типа шага.
func (r *Registry) Register(stepType domain.StepType, executor Executor) {
	r.executors[stepType] = executor
}

// Get возвращает executor для типа шага.
func (r *Registry) Get(stepType domain.StepType) (Executor, error) {
	executor, ok := r.executors[stepType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStepType, stepType)
	}
	return executor, nil
}

// noopExecutor — trigger, delay и digest шаги. Ожидание уже выполнено
// очередью (job был отложен до созревания), события окна лежат в job.
var noopExecutor = ExecutorFunc(func(context.Context, *Task) error { return nil })

// MessageExecutor отправляет сообщение message шага в канал провайдера.
type MessageExecutor struct {
	channels *channel.Registry
}

// Execute собирает channel.Message из job и передаёт в канал.
// Провайдер in_app шага по умолчанию — in_app.
func (e *MessageExecutor) Execute(ctx context.Context, task *Task) error {
	job := task.Job

	provider := channel.ProviderID(job.ProviderID)
	if provider == "" && job.Type == domain.StepTypeInApp {
		provider = channel.ProviderInApp
	}
	if provider == "" {
		return fmt.Errorf("%w: %s job %s", ErrMissingProvider, job.Type, job.ID)
	}

	return e.channels.Deliver(ctx, provider, &channel.Message{
		JobID:          job.ID,
		TransactionID:  job.TransactionID,
		SubscriberID:   job.SubscriberID,
		EnvironmentID:  job.EnvironmentID,
		OrganizationID: job.OrganizationID,
		Content:        job.Step.Content,
		Payload:        job.Payload,
		Events:         job.DigestEvents(),
		Presend:        task.Presend,
	})
}
