package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Herald/internal/auth"
	"github.com/shaiso/Herald/internal/config"
	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/events"
	"github.com/shaiso/Herald/internal/idempotency"
	"github.com/shaiso/Herald/internal/repo"
	"github.com/shaiso/Herald/internal/store"
)

const secret = "test-secret"

var caller = auth.Identity{UserID: "user-1", OrganizationID: "org-1", EnvironmentID: "env-1"}

type fakeEvents struct {
	calls     atomic.Int32
	last      events.TriggerCommand
	triggerFn func(cmd events.TriggerCommand) (*events.TriggerResult, error)
	canceled  int64
	cancelEnv string
}

func (f *fakeEvents) Trigger(_ context.Context, cmd events.TriggerCommand) (*events.TriggerResult, error) {
	f.calls.Add(1)
	f.last = cmd
	if f.triggerFn != nil {
		return f.triggerFn(cmd)
	}
	return &events.TriggerResult{TransactionID: "tx-1", Jobs: len(cmd.To)}, nil
}

func (f *fakeEvents) Cancel(_ context.Context, environmentID, _ string) (int64, error) {
	f.cancelEnv = environmentID
	return f.canceled, nil
}

type fakeJobs struct {
	jobs map[string]*domain.Job
}

func (f *fakeJobs) GetByID(_ context.Context, id string) (*domain.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return j, nil
}

func (f *fakeJobs) ListByTransaction(_ context.Context, transactionID string) ([]*domain.Job, error) {
	var out []*domain.Job
	for _, j := range f.jobs {
		if j.TransactionID == transactionID {
			out = append(out, j)
		}
	}
	return out, nil
}

type fakeReadiness struct{ ready bool }

func (f fakeReadiness) IsReady(context.Context) bool { return f.ready }

func newTestJob(id, env string) *domain.Job {
	j := domain.NewJob("tx-1", domain.StepTypeInApp)
	j.ID = id
	j.EnvironmentID = env
	j.Status = domain.JobStatusCompleted
	return j
}

func newRouter(t *testing.T, ev *fakeEvents, idem Middleware) http.Handler {
	t.Helper()
	h := NewHandler(Config{
		Events: ev,
		Jobs: &fakeJobs{jobs: map[string]*domain.Job{
			"job-1": newTestJob("job-1", "env-1"),
			"job-2": newTestJob("job-2", "env-2"),
		}},
		Store: fakeReadiness{ready: true},
	})
	return h.Router(RouterConfig{JWTSecret: secret, Idempotency: idem})
}

func authorized(t *testing.T, method, path, body string) *http.Request {
	t.Helper()
	token, err := auth.GenerateToken(secret, caller, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Health(t *testing.T) {
	h := NewHandler(Config{Store: fakeReadiness{ready: false}}).Router(RouterConfig{JWTSecret: secret})
	rec := do(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h = NewHandler(Config{Store: fakeReadiness{ready: true}}).Router(RouterConfig{JWTSecret: secret})
	rec = do(h, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_RequiresToken(t *testing.T) {
	h := newRouter(t, &fakeEvents{}, nil)

	rec := do(h, httptest.NewRequest(http.MethodPost, "/v1/events/trigger", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = do(h, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_UnknownRoute(t *testing.T) {
	h := newRouter(t, &fakeEvents{}, nil)
	rec := do(h, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), string(ErrCodeRouteNotMatched))
}

func TestTriggerEvent(t *testing.T) {
	ev := &fakeEvents{}
	h := newRouter(t, ev, nil)

	rec := do(h, authorized(t, http.MethodPost, "/v1/events/trigger",
		`{"name":"welcome","to":["sub-1","sub-2"],"payload":{"name":"Ann"}}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data TriggerResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.Acknowledged)
	assert.Equal(t, "tx-1", resp.Data.TransactionID)
	assert.Equal(t, 2, resp.Data.Jobs)

	assert.Equal(t, "welcome", ev.last.TemplateID)
	assert.Equal(t, "env-1", ev.last.EnvironmentID)
	assert.Equal(t, "org-1", ev.last.OrganizationID)
	assert.Equal(t, "user-1", ev.last.UserID)
	assert.Equal(t, "Ann", ev.last.Payload["name"])
}

func TestTriggerEvent_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "malformed body", body: `{`, status: http.StatusBadRequest},
		{name: "invalid command", body: `{}`, err: events.ErrInvalidCommand, status: http.StatusBadRequest},
		{name: "template missing", body: `{"name":"x","to":["s"]}`, err: repo.ErrNotFound, status: http.StatusNotFound},
		{name: "template inactive", body: `{"name":"x","to":["s"]}`, err: events.ErrTemplateInactive, status: http.StatusUnprocessableEntity},
		{name: "storage failure", body: `{"name":"x","to":["s"]}`, err: errors.New("db down"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &fakeEvents{triggerFn: func(events.TriggerCommand) (*events.TriggerResult, error) {
				return nil, tt.err
			}}
			rec := do(newRouter(t, ev, nil), authorized(t, http.MethodPost, "/v1/events/trigger", tt.body))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestCancelEvent(t *testing.T) {
	ev := &fakeEvents{canceled: 3}
	rec := do(newRouter(t, ev, nil), authorized(t, http.MethodDelete, "/v1/events/trigger/tx-9", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data CancelResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "tx-9", resp.Data.TransactionID)
	assert.Equal(t, int64(3), resp.Data.Canceled)
	assert.Equal(t, "env-1", ev.cancelEnv)
}

func TestGetJob_ScopedToEnvironment(t *testing.T) {
	h := newRouter(t, &fakeEvents{}, nil)

	rec := do(h, authorized(t, http.MethodGet, "/v1/jobs/job-1", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"COMPLETED"`)

	rec = do(h, authorized(t, http.MethodGet, "/v1/jobs/job-2", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code, "job of another environment is hidden")

	rec = do(h, authorized(t, http.MethodGet, "/v1/jobs/missing", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTransactionJobs(t *testing.T) {
	rec := do(newRouter(t, &fakeEvents{}, nil), authorized(t, http.MethodGet, "/v1/transactions/tx-1/jobs", ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data  []JobResponse `json:"data"`
		Total int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "job-1", resp.Data[0].ID)
}

func TestListTransactionJobs_StatusFilter(t *testing.T) {
	h := newRouter(t, &fakeEvents{}, nil)

	tests := []struct {
		query     string
		wantCode  int
		wantTotal int
	}{
		{query: "?status=COMPLETED", wantCode: http.StatusOK, wantTotal: 1},
		{query: "?status=FAILED", wantCode: http.StatusOK, wantTotal: 0},
		{query: "?status=completed", wantCode: http.StatusBadRequest},
		{query: "?status=BOGUS", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := do(h, authorized(t, http.MethodGet, "/v1/transactions/tx-1/jobs"+tt.query, ""))
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				return
			}

			var resp struct {
				Total int `json:"total"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantTotal, resp.Total)
		})
	}
}

func TestTriggerEvent_IdempotentReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	client := store.NewClient(&store.ProviderConfig{
		Provider: store.ProviderRedis,
		Topology: store.TopologySingle,
		Host:     mr.Host(),
		Ports:    []int{port},
	}, nil)
	t.Cleanup(func() { _ = client.Shutdown() })

	guard := idempotency.New(&config.Idempotency{
		Enabled:     true,
		ProgressTTL: time.Minute,
		CacheTTL:    time.Hour,
	}, "test", client, nil)

	ev := &fakeEvents{}
	h := newRouter(t, ev, guard.Middleware)

	send := func(body string) *httptest.ResponseRecorder {
		req := authorized(t, http.MethodPost, "/v1/events/trigger", body)
		req.Header.Set(idempotency.HeaderKey, "trigger-1")
		return do(h, req)
	}

	first := send(`{"name":"welcome","to":["sub-1"]}`)
	require.Equal(t, http.StatusCreated, first.Code)

	second := send(`{"name":"welcome","to":["sub-1"]}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get(idempotency.HeaderReplay))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, int32(1), ev.calls.Load(), "trigger runs once")

	other := send(`{"name":"welcome","to":["sub-2"]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, other.Code, "same key with a different body")
}
