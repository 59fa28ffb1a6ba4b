package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/repo"
)

type fakeTemplates struct {
	tpl *domain.Template
}

func (f *fakeTemplates) GetByID(_ context.Context, environmentID, id string) (*domain.Template, error) {
	if f.tpl == nil || f.tpl.EnvironmentID != environmentID || (f.tpl.ID != id && f.tpl.Identifier != id) {
		return nil, repo.ErrNotFound
	}
	return f.tpl, nil
}

type fakeJobs struct {
	created  []*domain.Job
	canceled map[string]int64
	err      error
}

func (f *fakeJobs) CreateMany(_ context.Context, jobs []*domain.Job) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, jobs...)
	return nil
}

func (f *fakeJobs) CancelTransaction(_ context.Context, _, transactionID string) (int64, error) {
	return f.canceled[transactionID], nil
}

type fakeScheduler struct {
	added []*domain.Job
}

func (f *fakeScheduler) AddJob(_ context.Context, job *domain.Job, presend bool) error {
	f.added = append(f.added, job)
	return nil
}

func digestTemplate() *domain.Template {
	return &domain.Template{
		ID:             "tpl-1",
		Identifier:     "comment-digest",
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		Active:         true,
		Steps: []domain.TemplateStep{
			{
				Type:   domain.StepTypeDigest,
				Step:   domain.Step{ID: "s1"},
				Digest: &domain.Digest{Amount: 10, Unit: domain.DigestUnitMinutes, Events: []map[string]any{{"stale": true}}},
			},
			{
				Type:       domain.StepTypeChat,
				ProviderID: "slack",
				Step:       domain.Step{ID: "s2", Content: map[string]any{"content": "new comments"}},
			},
		},
	}
}

func newService(tpl *domain.Template) (*Service, *fakeJobs, *fakeScheduler) {
	jobs := &fakeJobs{canceled: map[string]int64{}}
	sched := &fakeScheduler{}
	return New(Config{Templates: &fakeTemplates{tpl: tpl}, Jobs: jobs, Scheduler: sched}), jobs, sched
}

func TestService_Trigger(t *testing.T) {
	svc, jobs, sched := newService(digestTemplate())

	res, err := svc.Trigger(context.Background(), TriggerCommand{
		TemplateID:     "comment-digest",
		To:             []string{"sub-1", "sub-2"},
		Payload:        map[string]any{"comment": "hi"},
		EnvironmentID:  "env-1",
		OrganizationID: "org-1",
		UserID:         "user-1",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.TransactionID)
	assert.Equal(t, 6, res.Jobs, "trigger + 2 steps per subscriber")
	require.Len(t, jobs.created, 6)

	trigger, digest, chat := jobs.created[0], jobs.created[1], jobs.created[2]
	assert.Equal(t, domain.StepTypeTrigger, trigger.Type)
	assert.Empty(t, trigger.ParentID)
	assert.Equal(t, trigger.ID, digest.ParentID)
	assert.Equal(t, digest.ID, chat.ParentID)

	assert.True(t, digest.IsDigestStep())
	assert.Empty(t, digest.DigestEvents(), "template events never copied")
	assert.Equal(t, "slack", chat.ProviderID)
	assert.Equal(t, "new comments", chat.Step.Content["content"])

	for _, j := range jobs.created {
		assert.Equal(t, res.TransactionID, j.TransactionID)
		assert.Equal(t, "tpl-1", j.TemplateID)
		assert.Equal(t, "comment-digest", j.Identifier)
		assert.Equal(t, domain.JobStatusPending, j.Status)
		assert.Equal(t, "hi", j.Payload["comment"])
	}
	assert.Equal(t, "sub-2", jobs.created[3].SubscriberID)

	require.Len(t, sched.added, 2, "only chain heads are scheduled")
	assert.Equal(t, trigger.ID, sched.added[0].ID)
	assert.Equal(t, jobs.created[3].ID, sched.added[1].ID)
}

func TestService_TriggerKeepsTransactionID(t *testing.T) {
	svc, _, _ := newService(digestTemplate())

	res, err := svc.Trigger(context.Background(), TriggerCommand{
		TemplateID:    "tpl-1",
		To:            []string{"sub-1"},
		TransactionID: "tx-given",
		EnvironmentID: "env-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "tx-given", res.TransactionID)
}

func TestService_TriggerErrors(t *testing.T) {
	inactive := digestTemplate()
	inactive.Active = false

	tests := []struct {
		name    string
		tpl     *domain.Template
		cmd     TriggerCommand
		wantErr error
	}{
		{
			name:    "no template id",
			tpl:     digestTemplate(),
			cmd:     TriggerCommand{To: []string{"sub-1"}, EnvironmentID: "env-1"},
			wantErr: ErrInvalidCommand,
		},
		{
			name:    "no subscribers",
			tpl:     digestTemplate(),
			cmd:     TriggerCommand{TemplateID: "tpl-1", EnvironmentID: "env-1"},
			wantErr: ErrInvalidCommand,
		},
		{
			name:    "empty subscriber",
			tpl:     digestTemplate(),
			cmd:     TriggerCommand{TemplateID: "tpl-1", To: []string{""}, EnvironmentID: "env-1"},
			wantErr: ErrInvalidCommand,
		},
		{
			name:    "template of another environment",
			tpl:     digestTemplate(),
			cmd:     TriggerCommand{TemplateID: "tpl-1", To: []string{"sub-1"}, EnvironmentID: "env-2"},
			wantErr: repo.ErrNotFound,
		},
		{
			name:    "inactive template",
			tpl:     inactive,
			cmd:     TriggerCommand{TemplateID: "tpl-1", To: []string{"sub-1"}, EnvironmentID: "env-1"},
			wantErr: ErrTemplateInactive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, jobs, sched := newService(tt.tpl)

			_, err := svc.Trigger(context.Background(), tt.cmd)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, jobs.created)
			assert.Empty(t, sched.added)
		})
	}
}

func TestService_TriggerStoreFailureSchedulesNothing(t *testing.T) {
	svc, jobs, sched := newService(digestTemplate())
	jobs.err = errors.New("db down")

	_, err := svc.Trigger(context.Background(), TriggerCommand{TemplateID: "tpl-1", To: []string{"sub-1"}, EnvironmentID: "env-1"})
	require.Error(t, err)
	assert.Empty(t, sched.added)
}

func TestService_Cancel(t *testing.T) {
	svc, jobs, _ := newService(digestTemplate())
	jobs.canceled["tx-1"] = 3

	n, err := svc.Cancel(context.Background(), "env-1", "tx-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = svc.Cancel(context.Background(), "env-1", "")
	assert.ErrorIs(t, err, ErrInvalidCommand)
}
