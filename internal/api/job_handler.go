package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shaiso/Herald/internal/auth"
	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/telemetry"
)

// GetJob возвращает job окружения вызывающей стороны.
// GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	job, err := h.jobs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if HandleError(w, telemetry.FromContext(r.Context()), err, "job not found") {
		return
	}
	if job.EnvironmentID != identity.EnvironmentID {
		NotFound(w, "job not found")
		return
	}

	Success(w, JobFromDomain(job))
}

// ListTransactionJobs возвращает jobs транзакции в порядке создания.
// Необязательный ?status= оставляет jobs только с этим статусом.
// GET /v1/transactions/{id}/jobs
func (h *Handler) ListTransactionJobs(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	var status domain.JobStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, ok := domain.ParseJobStatus(raw)
		if !ok {
			BadRequest(w, "unknown job status: "+raw)
			return
		}
		status = parsed
	}

	jobs, err := h.jobs.ListByTransaction(r.Context(), chi.URLParam(r, "id"))
	if HandleError(w, telemetry.FromContext(r.Context()), err, "") {
		return
	}

	result := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		if j.EnvironmentID == identity.EnvironmentID && (status == "" || j.Status == status) {
			result = append(result, JobFromDomain(j))
		}
	}

	List(w, result, len(result))
}
