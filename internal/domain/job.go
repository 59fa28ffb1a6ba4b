package domain

import (
	"time"

	"github.com/google/uuid"
)

// StepType — тип шага workflow.
type StepType string

const (
	StepTypeTrigger StepType = "trigger"
	StepTypeInApp   StepType = "in_app"
	StepTypeEmail   StepType = "email"
	StepTypeSMS     StepType = "sms"
	StepTypeChat    StepType = "chat"
	StepTypePush    StepType = "push"
	StepTypeDigest  StepType = "digest"
	StepTypeDelay   StepType = "delay"
)

// IsMessage возвращает true для шагов, которые отправляют сообщение в канал.
func (t StepType) IsMessage() bool {
	switch t {
	case StepTypeInApp, StepTypeEmail, StepTypeSMS, StepTypeChat, StepTypePush:
		return true
	default:
		return false
	}
}

// IsDeferred возвращает true для шагов с отложенным выполнением (digest, delay).
// Только для них воркер проверяет отмену.
func (t StepType) IsDeferred() bool {
	return t == StepTypeDigest || t == StepTypeDelay
}

// IsValid проверяет, что тип шага известен.
func (t StepType) IsValid() bool {
	return t == StepTypeTrigger || t.IsMessage() || t.IsDeferred()
}

// DigestUnit — единица измерения длительности delay/digest окна.
type DigestUnit string

const (
	DigestUnitSeconds DigestUnit = "seconds"
	DigestUnitMinutes DigestUnit = "minutes"
	DigestUnitHours   DigestUnit = "hours"
	DigestUnitDays    DigestUnit = "days"
)

// IsValid проверяет, что единица входит в допустимый набор.
func (u DigestUnit) IsValid() bool {
	switch u {
	case DigestUnitSeconds, DigestUnitMinutes, DigestUnitHours, DigestUnitDays:
		return true
	default:
		return false
	}
}

// Digest — настройки digest шага и накопленные события окна.
type Digest struct {
	// Amount — длина окна в единицах Unit.
	Amount int64 `json:"amount,omitempty"`

	// Unit — единица длины окна.
	Unit DigestUnit `json:"unit,omitempty"`

	// UpdateMode — при слиянии нового trigger в открытое окно
	// pending in-app jobs транзакции отправляются сразу (presend).
	UpdateMode bool `json:"update_mode,omitempty"`

	// Events — payload всех trigger'ов, слитых в окно, по порядку.
	Events []map[string]any `json:"events,omitempty"`
}

// StepMetadata — метаданные шага из шаблона (для delay шага).
type StepMetadata struct {
	Amount int64      `json:"amount,omitempty"`
	Unit   DigestUnit `json:"unit,omitempty"`
}

// Step — определение шага, скопированное из шаблона в job.
type Step struct {
	// ID — идентификатор шага в шаблоне.
	ID string `json:"id"`

	// Name — имя шага.
	Name string `json:"name,omitempty"`

	// Metadata — delay метаданные (для delay шага).
	Metadata StepMetadata `json:"metadata,omitempty"`

	// Content — контент сообщения для канала. Рендеринг вне ядра,
	// job переносит его без изменений.
	Content map[string]any `json:"content,omitempty"`
}

// Job — step job, единица запланированной работы.
//
// Job создаётся при trigger (по одному на шаг шаблона, связанные через ParentID)
// и передаётся в очередь по одному: следующий job ставится в очередь
// только после выполнения предыдущего.
//
// Job никогда не удаляется из хранилища — терминальные jobs удаляются
// только из очереди.
type Job struct {
	// ID — уникальный идентификатор job.
	ID string `json:"id"`

	// TransactionID — группирует все jobs одного trigger.
	TransactionID string `json:"transaction_id"`

	// ParentID — предыдущий job цепочки. Пустой для первого шага.
	ParentID string `json:"parent_id,omitempty"`

	// Type — тип шага.
	Type StepType `json:"type"`

	// Status — текущий статус.
	Status JobStatus `json:"status"`

	// Step — определение шага из шаблона.
	Step Step `json:"step"`

	// Digest — настройки digest (только для digest шага).
	Digest *Digest `json:"digest,omitempty"`

	// Identifier — идентификатор trigger события (имя шаблона).
	Identifier string `json:"identifier,omitempty"`

	SubscriberID   string `json:"subscriber_id"`
	TemplateID     string `json:"template_id"`
	EnvironmentID  string `json:"environment_id"`
	OrganizationID string `json:"organization_id"`
	UserID         string `json:"user_id,omitempty"`

	// ProviderID — провайдер канала для message шагов (msteams, slack, in_app...).
	ProviderID string `json:"provider_id,omitempty"`

	// Payload — данные trigger, передаются в executor без изменений.
	Payload map[string]any `json:"payload,omitempty"`

	// Overrides — переопределения вызывающей стороны.
	// Overrides["delay"] = {"amount": N, "unit": "..."} — переопределение delay.
	Overrides map[string]any `json:"overrides,omitempty"`

	// Error — текст ошибки при FAILED.
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob создаёт job со сгенерированным ID в статусе PENDING.
func NewJob(transactionID string, stepType StepType) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		Type:          stepType,
		Status:        JobStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsFinished возвращает true, если job в терминальном статусе.
func (j *Job) IsFinished() bool {
	return j.Status.IsTerminal()
}

// IsDigestStep проверяет, что job — корректный digest шаг
// (заданы amount и unit окна).
func (j *Job) IsDigestStep() bool {
	return j.Type == StepTypeDigest && j.Digest != nil && j.Digest.Amount != 0 && j.Digest.Unit != ""
}

// IsDelayStep проверяет, что job — корректный delay шаг
// (в метаданных шага заданы amount и unit).
func (j *Job) IsDelayStep() bool {
	return j.Type == StepTypeDelay && j.Step.Metadata.Amount != 0 && j.Step.Metadata.Unit != ""
}

// DigestEvents возвращает события digest окна (пустой слайс, если digest не задан).
func (j *Job) DigestEvents() []map[string]any {
	if j.Digest == nil {
		return nil
	}
	return j.Digest.Events
}
