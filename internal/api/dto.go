package api

import (
	"time"

	"github.com/shaiso/Herald/internal/domain"
)

// TriggerRequest — запрос POST /v1/events/trigger.
type TriggerRequest struct {
	// Name — ID или identifier шаблона.
	Name          string         `json:"name"`
	To            []string       `json:"to"`
	Payload       map[string]any `json:"payload,omitempty"`
	Overrides     map[string]any `json:"overrides,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
}

// TriggerResponse — ответ trigger.
type TriggerResponse struct {
	Acknowledged  bool   `json:"acknowledged"`
	TransactionID string `json:"transaction_id"`
	Jobs          int    `json:"jobs"`
}

// CancelResponse — ответ отмены транзакции.
type CancelResponse struct {
	TransactionID string `json:"transaction_id"`
	Canceled      int64  `json:"canceled"`
}

// JobResponse — job в ответе API.
type JobResponse struct {
	ID            string           `json:"id"`
	TransactionID string           `json:"transaction_id"`
	ParentID      string           `json:"parent_id,omitempty"`
	Type          domain.StepType  `json:"type"`
	Status        domain.JobStatus `json:"status"`
	SubscriberID  string           `json:"subscriber_id"`
	TemplateID    string           `json:"template_id"`
	ProviderID    string           `json:"provider_id,omitempty"`
	DigestEvents  int              `json:"digest_events,omitempty"`
	Error         string           `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// JobFromDomain конвертирует domain.Job в JobResponse.
func JobFromDomain(j *domain.Job) JobResponse {
	return JobResponse{
		ID:            j.ID,
		TransactionID: j.TransactionID,
		ParentID:      j.ParentID,
		Type:          j.Type,
		Status:        j.Status,
		SubscriberID:  j.SubscriberID,
		TemplateID:    j.TemplateID,
		ProviderID:    j.ProviderID,
		DigestEvents:  len(j.DigestEvents()),
		Error:         j.Error,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}
