package domain

import "time"

// TemplateStep — шаг в шаблоне уведомления.
type TemplateStep struct {
	Step

	// Type — тип шага.
	Type StepType `json:"type"`

	// ProviderID — провайдер канала (для message шагов).
	ProviderID string `json:"provider_id,omitempty"`

	// Digest — настройки окна (для digest шага).
	Digest *Digest `json:"digest,omitempty"`
}

// Template — шаблон уведомления (workflow): упорядоченный список шагов.
//
// Шаблоны хранятся во внешнем хранилище документов,
// ядро только читает их при trigger.
type Template struct {
	ID             string         `json:"id"`
	Identifier     string         `json:"identifier"`
	EnvironmentID  string         `json:"environment_id"`
	OrganizationID string         `json:"organization_id"`
	Active         bool           `json:"active"`
	Steps          []TemplateStep `json:"steps"`
	CreatedAt      time.Time      `json:"created_at"`
}
