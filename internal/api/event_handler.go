package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shaiso/Herald/internal/auth"
	"github.com/shaiso/Herald/internal/telemetry"
	"github.com/shaiso/Herald/internal/events"
)

// TriggerEvent создаёт уведомление по шаблону.
// POST /v1/events/trigger
func (h *Handler) TriggerEvent(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	result, err := h.events.Trigger(r.Context(), events.TriggerCommand{
		TemplateID:     req.Name,
		To:             req.To,
		Payload:        req.Payload,
		Overrides:      req.Overrides,
		TransactionID:  req.TransactionID,
		EnvironmentID:  identity.EnvironmentID,
		OrganizationID: identity.OrganizationID,
		UserID:         identity.UserID,
	})
	if HandleError(w, telemetry.FromContext(r.Context()), err, "template not found") {
		return
	}

	Created(w, TriggerResponse{
		Acknowledged:  true,
		TransactionID: result.TransactionID,
		Jobs:          result.Jobs,
	})
}

// CancelEvent отменяет ожидающие jobs транзакции (delay, digest).
// DELETE /v1/events/trigger/{transactionId}
func (h *Handler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())
	transactionID := chi.URLParam(r, "transactionId")

	n, err := h.events.Cancel(r.Context(), identity.EnvironmentID, transactionID)
	if HandleError(w, telemetry.FromContext(r.Context()), err, "") {
		return
	}

	Success(w, CancelResponse{TransactionID: transactionID, Canceled: n})
}
