package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/queue"
	"github.com/shaiso/Herald/internal/repo"
)

// memStore — хранилище jobs в памяти, порядок вставки = порядок создания.
type memStore struct {
	mu   sync.Mutex
	jobs []*domain.Job

	// beforeAppend вызывается до добавления события в окно.
	beforeAppend func(windowID string)
}

func (s *memStore) add(jobs ...*domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, jobs...)
}

func (s *memStore) get(id string) *domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

func matches(j *domain.Job, f repo.JobFilter) bool {
	return (f.ID == "" || j.ID == f.ID) &&
		(f.TransactionID == "" || j.TransactionID == f.TransactionID) &&
		(f.SubscriberID == "" || j.SubscriberID == f.SubscriberID) &&
		(f.TemplateID == "" || j.TemplateID == f.TemplateID) &&
		(f.EnvironmentID == "" || j.EnvironmentID == f.EnvironmentID) &&
		(f.Type == "" || j.Type == f.Type) &&
		(f.Status == "" || j.Status == f.Status)
}

func (s *memStore) FindOne(_ context.Context, f repo.JobFilter) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if matches(j, f) {
			cp := *j
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (s *memStore) UpdateStatus(_ context.Context, id string, status domain.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			if !j.Status.CanUpdateTo(status) {
				return fmt.Errorf("%w: %s to %s", repo.ErrInvalidTransition, j.Status, status)
			}
			j.Status = status
			return nil
		}
	}
	return repo.ErrNotFound
}

func (s *memStore) setStatus(id string, status domain.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			j.Status = status
		}
	}
}

func (s *memStore) AppendDigestEvent(_ context.Context, id string, event map[string]any) ([]map[string]any, error) {
	if s.beforeAppend != nil {
		s.beforeAppend(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id && j.Status == domain.JobStatusDelayed {
			if j.Digest == nil {
				j.Digest = &domain.Digest{}
			}
			j.Digest.Events = append(j.Digest.Events, event)
			return append([]map[string]any(nil), j.Digest.Events...), nil
		}
	}
	return nil, repo.ErrWindowClosed
}

func (s *memStore) SetDigestEvents(_ context.Context, id string, events []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			if j.Digest == nil {
				j.Digest = &domain.Digest{}
			}
			j.Digest.Events = append([]map[string]any(nil), events...)
			return nil
		}
	}
	return repo.ErrNotFound
}

func (s *memStore) FindInAppsForDigest(_ context.Context, transactionID, subscriberID string) ([]*domain.Job, error) {
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

// memQueue — очередь в памяти с дедупликацией по JobID.
type memQueue struct {
	mu   sync.Mutex
	envs []*queue.Envelope
	seen map[string]bool
}

func (q *memQueue) Add(_ context.Context, env *queue.Envelope) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.seen == nil {
		q.seen = map[string]bool{}
	}
	if q.seen[env.JobID] {
		return false, nil
	}
	q.seen[env.JobID] = true
	cp := *env
	q.envs = append(q.envs, &cp)
	return true, nil
}

func (q *memQueue) find(jobID string) *queue.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.envs {
		if e.JobID == jobID {
			return e
		}
	}
	return nil
}

func newJob(tx string, typ domain.StepType) *domain.Job {
	j := domain.NewJob(tx, typ)
	j.SubscriberID = "sub-1"
	j.TemplateID = "tpl-1"
	j.EnvironmentID = "env-1"
	j.OrganizationID = "org-1"
	return j
}
