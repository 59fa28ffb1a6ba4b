package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shaiso/Herald/internal/channel"
	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/mq"
	"github.com/shaiso/Herald/internal/queue"
	"github.com/shaiso/Herald/internal/repo"
)

// memJobs — хранилище jobs в памяти (и для воркера, и для scheduler.Dispatcher).
type memJobs struct {
	mu   sync.Mutex
	jobs []*domain.Job

	// beforeUpdate вызывается до смены статуса.
	beforeUpdate func(id string, status domain.JobStatus)
}

func (s *memJobs) add(jobs ...*domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, jobs...)
}

func (s *memJobs) find(pred func(*domain.Job) bool) *domain.Job {
	for _, j := range s.jobs {
		if pred(j) {
			return j
		}
	}
	return nil
}

func (s *memJobs) byID(id string) *domain.Job {
	return s.find(func(j *domain.Job) bool { return j.ID == id })
}

func (s *memJobs) status(id string) domain.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID(id).Status
}

func (s *memJobs) setStatus(id string, status domain.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID(id).Status = status
}

// GetByID возвращает снимок job, не разделяющий события окна с хранилищем.
func (s *memJobs) GetByID(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.byID(id)
	if j == nil {
		return nil, repo.ErrNotFound
	}
	cp := *j
	if j.Digest != nil {
		digest := *j.Digest
		digest.Events = append([]map[string]any(nil), j.Digest.Events...)
		cp.Digest = &digest
	}
	return &cp, nil
}

func (s *memJobs) FindOne(_ context.Context, f repo.JobFilter) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.find(func(j *domain.Job) bool {
		return (f.ID == "" || j.ID == f.ID) &&
			(f.TransactionID == "" || j.TransactionID == f.TransactionID) &&
			(f.SubscriberID == "" || j.SubscriberID == f.SubscriberID) &&
			(f.TemplateID == "" || j.TemplateID == f.TemplateID) &&
			(f.EnvironmentID == "" || j.EnvironmentID == f.EnvironmentID) &&
			(f.Type == "" || j.Type == f.Type) &&
			(f.Status == "" || j.Status == f.Status)
	})
	if j == nil {
		return nil, repo.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *memJobs) Count(ctx context.Context, f repo.JobFilter) (int, error) {
	if _, err := s.FindOne(ctx, f); err != nil {
		return 0, nil
	}
	return 1, nil
}

func (s *memJobs) UpdateStatus(_ context.Context, id string, status domain.JobStatus) error {
	if s.beforeUpdate != nil {
		s.beforeUpdate(id, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.byID(id)
	if j == nil {
		return repo.ErrNotFound
	}
	if !j.Status.CanUpdateTo(status) {
		return fmt.Errorf("%w: %s to %s", repo.ErrInvalidTransition, j.Status, status)
	}
	j.Status = status
	return nil
}

func (s *memJobs) SetError(_ context.Context, id string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.byID(id)
	if j == nil {
		return repo.ErrNotFound
	}
	j.Error = message
	return nil
}

func (s *memJobs) FindByParentID(_ context.Context, parentID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.find(func(j *domain.Job) bool { return j.ParentID == parentID })
	if j == nil {
		return nil, repo.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *memJobs) SetDigestEvents(_ context.Context, id string, events []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.byID(id)
	if j == nil {
		return repo.ErrNotFound
	}
	if j.Digest == nil {
		j.Digest = &domain.Digest{}
	}
	j.Digest.Events = events
	return nil
}

func (s *memJobs) AppendDigestEvent(_ context.Context, id string, event map[string]any) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.byID(id)
	if j == nil || j.Status != domain.JobStatusDelayed {
		return nil, repo.ErrWindowClosed
	}
	if j.Digest == nil {
		j.Digest = &domain.Digest{}
	}
	j.Digest.Events = append(j.Digest.Events, event)
	return append([]map[string]any(nil), j.Digest.Events...), nil
}

func (s *memJobs) FindInAppsForDigest(_ context.Context, transactionID, subscriberID string) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Job
	for _, j := range s.jobs {
		if j.TransactionID == transactionID && j.SubscriberID == subscriberID &&
			j.Type == domain.StepTypeInApp && j.Status == domain.JobStatusPending {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

// fakeQueue фиксирует снятие jobs с очереди.
type fakeQueue struct {
	mu        sync.Mutex
	completed []string
	failed    []string
}

func (q *fakeQueue) Reserve(ctx context.Context, timeout, _ time.Duration) (*queue.Envelope, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, nil
	}
}

func (q *fakeQueue) ExtendLock(context.Context, string, time.Duration) error { return nil }

func (q *fakeQueue) Complete(_ context.Context, env *queue.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, env.JobID)
	return nil
}

func (q *fakeQueue) Fail(_ context.Context, env *queue.Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed = append(q.failed, env.JobID)
	return nil
}

// fakeScheduler записывает переданные jobs.
type fakeScheduler struct {
	added []*domain.Job
	err   error
}

func (s *fakeScheduler) AddJob(_ context.Context, job *domain.Job, _ bool) error {
	if s.err != nil {
		return s.err
	}
	s.added = append(s.added, job)
	return nil
}

// fakeChannel — chat провайдер, записывающий сообщения.
type fakeChannel struct {
	mu   sync.Mutex
	sent []*channel.Message
	err  error
}

func (c *fakeChannel) ProviderID() channel.ProviderID { return channel.ProviderSlack }

func (c *fakeChannel) CheckIntegration(context.Context, *channel.Message) error { return nil }

func (c *fakeChannel) Send(_ context.Context, msg *channel.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakeEvents struct {
	completed, failed []mq.JobEventPayload
}

func (e *fakeEvents) PublishJobCompleted(_ context.Context, p mq.JobEventPayload) error {
	e.completed = append(e.completed, p)
	return nil
}

func (e *fakeEvents) PublishJobFailed(_ context.Context, p mq.JobEventPayload) error {
	e.failed = append(e.failed, p)
	return errors.New("broker down")
}

func newJob(tx string, t domain.StepType, parent *domain.Job) *domain.Job {
	j := domain.NewJob(tx, t)
	j.SubscriberID = "sub-1"
	j.TemplateID = "tpl-1"
	j.EnvironmentID = "env-1"
	j.OrganizationID = "org-1"
	if parent != nil {
		j.ParentID = parent.ID
	}
	return j
}

func envelope(j *domain.Job, presend bool) *queue.Envelope {
	return &queue.Envelope{
		JobID:            j.ID,
		TransactionID:    j.TransactionID,
		EnvironmentID:    j.EnvironmentID,
		OrganizationID:   j.OrganizationID,
		Presend:          presend,
		RemoveOnComplete: true,
		RemoveOnFail:     true,
	}
}
