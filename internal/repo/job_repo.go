package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Herald/internal/domain"
)

// JobRepo — репозиторий step jobs.
//
// Jobs никогда не удаляются: терминальный статус остаётся в таблице,
// из очереди job удаляет воркер.
type JobRepo struct {
	pool *pgxpool.Pool
}

// NewJobRepo создаёт новый JobRepo.
func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

// JobFilter — фильтр поиска jobs. Пустые поля не участвуют в условии.
type JobFilter struct {
	ID            string
	TransactionID string
	SubscriberID  string
	TemplateID    string
	EnvironmentID string
	Type          domain.StepType
	Status        domain.JobStatus
}

const jobColumns = `
	id, transaction_id, parent_id, type, status, step, digest, identifier,
	subscriber_id, template_id, environment_id, organization_id, user_id,
	provider_id, payload, overrides, error, created_at, updated_at
`

const jobFilterWhere = `
	WHERE ($1::text IS NULL OR id = $1)
	  AND ($2::text IS NULL OR transaction_id = $2)
	  AND ($3::text IS NULL OR subscriber_id = $3)
	  AND ($4::text IS NULL OR template_id = $4)
	  AND ($5::text IS NULL OR environment_id = $5)
	  AND ($6::text IS NULL OR type = $6)
	  AND ($7::text IS NULL OR status = $7)
`

func (f JobFilter) args() []any {
	return []any{
		nullString(f.ID),
		nullString(f.TransactionID),
		nullString(f.SubscriberID),
		nullString(f.TemplateID),
		nullString(f.EnvironmentID),
		nullString(string(f.Type)),
		nullString(string(f.Status)),
	}
}

// Create сохраняет новый job.
func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	args, err := insertArgs(job)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, insertJobQuery, args...); err != nil {
		return wrapInsertErr(err)
	}
	return nil
}

// CreateMany сохраняет цепочку jobs одной транзакцией.
func (r *JobRepo) CreateMany(ctx context.Context, jobs []*domain.Job) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, job := range jobs {
		args, err := insertArgs(job)
		if err != nil {
			return err
		}
		batch.Queue(insertJobQuery, args...)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return wrapInsertErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID возвращает job по ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	return scanJob(r.pool.QueryRow(ctx, query, id))
}

// FindOne возвращает самый ранний job, подходящий под фильтр.
func (r *JobRepo) FindOne(ctx context.Context, filter JobFilter) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ` + jobFilterWhere + `
		ORDER BY created_at ASC
		LIMIT 1
	`
	return scanJob(r.pool.QueryRow(ctx, query, filter.args()...))
}

// Count возвращает количество jobs, подходящих под фильтр.
func (r *JobRepo) Count(ctx context.Context, filter JobFilter) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs `+jobFilterWhere, filter.args()...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}

// UpdateStatus устанавливает статус job, если текущий статус допускает переход.
// Возвращает ErrInvalidTransition, если job уже отменён или завершён.
func (r *JobRepo) UpdateStatus(ctx context.Context, id string, status domain.JobStatus) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3::text[])
	`, id, status, predecessorArgs(status))
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return fmt.Errorf("%w: job %s to %s", ErrInvalidTransition, id, status)
}

// SetError сохраняет текст ошибки выполнения.
func (r *JobRepo) SetError(ctx context.Context, id string, message string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE jobs SET error = $2, updated_at = NOW() WHERE id = $1
	`, id, message)
	if err != nil {
		return fmt.Errorf("set job error: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendDigestEvent добавляет payload в события открытого digest окна
// и возвращает события окна после добавления.
// Добавление атомарно на уровне строки (jsonb ||) и выполняется только
// пока окно в DELAYED. Иначе возвращает ErrWindowClosed.
func (r *JobRepo) AppendDigestEvent(ctx context.Context, id string, event map[string]any) ([]map[string]any, error) {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal digest event: %w", err)
	}

	var eventsJSON []byte
	err = r.pool.QueryRow(ctx, `
		UPDATE jobs
		SET digest = jsonb_set(
		        COALESCE(digest, '{}'::jsonb),
		        '{events}',
		        COALESCE(digest->'events', '[]'::jsonb) || jsonb_build_array($2::jsonb)
		    ),
		    updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING digest->'events'
	`, id, eventJSON, domain.JobStatusDelayed).Scan(&eventsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWindowClosed
	}
	if err != nil {
		return nil, fmt.Errorf("append digest event: %w", err)
	}

	var events []map[string]any
	if err := json.Unmarshal(eventsJSON, &events); err != nil {
		return nil, fmt.Errorf("unmarshal digest events: %w", err)
	}
	return events, nil
}

// SetDigestEvents заменяет события digest окна job
// (передача событий следующему шагу цепочки).
func (r *JobRepo) SetDigestEvents(ctx context.Context, id string, events []map[string]any) error {
	if events == nil {
		events = []map[string]any{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal digest events: %w", err)
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET digest = jsonb_set(COALESCE(digest, '{}'::jsonb), '{events}', $2::jsonb),
		    updated_at = NOW()
		WHERE id = $1
	`, id, eventsJSON)
	if err != nil {
		return fmt.Errorf("set digest events: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindInAppsForDigest возвращает pending in-app jobs транзакции подписчика.
func (r *JobRepo) FindInAppsForDigest(ctx context.Context, transactionID, subscriberID string) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE transaction_id = $1
		  AND subscriber_id = $2
		  AND type = $3
		  AND status = $4
		ORDER BY created_at ASC
	`
	return r.queryJobs(ctx, query, transactionID, subscriberID, domain.StepTypeInApp, domain.JobStatusPending)
}

// FindByParentID возвращает следующий job цепочки.
func (r *JobRepo) FindByParentID(ctx context.Context, parentID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE parent_id = $1 LIMIT 1`
	return scanJob(r.pool.QueryRow(ctx, query, parentID))
}

// ListByTransaction возвращает все jobs транзакции в порядке создания.
func (r *JobRepo) ListByTransaction(ctx context.Context, transactionID string) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE transaction_id = $1 ORDER BY created_at ASC`
	return r.queryJobs(ctx, query, transactionID)
}

// CancelTransaction переводит ожидающие jobs транзакции в CANCELED.
// RUNNING и терминальные jobs не затрагиваются. Возвращает число отменённых jobs.
func (r *JobRepo) CancelTransaction(ctx context.Context, environmentID, transactionID string) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $3, updated_at = NOW()
		WHERE environment_id = $1
		  AND transaction_id = $2
		  AND status IN ($4, $5, $6)
	`, environmentID, transactionID, domain.JobStatusCanceled,
		domain.JobStatusPending, domain.JobStatusQueued, domain.JobStatusDelayed)
	if err != nil {
		return 0, fmt.Errorf("cancel transaction: %w", err)
	}
	return result.RowsAffected(), nil
}

// --- Helpers ---

// predecessorArgs — статусы, допускающие переход в status, как text[].
func predecessorArgs(status domain.JobStatus) []string {
	prev := domain.Predecessors(status)
	out := make([]string, len(prev))
	for i, s := range prev {
		out[i] = string(s)
	}
	return out
}

const insertJobQuery = `
	INSERT INTO jobs (` + jobColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
`

func insertArgs(job *domain.Job) ([]any, error) {
	stepJSON, err := json.Marshal(job.Step)
	if err != nil {
		return nil, fmt.Errorf("marshal step: %w", err)
	}
	digestJSON, err := marshalNullable(job.Digest)
	if err != nil {
		return nil, fmt.Errorf("marshal digest: %w", err)
	}
	payloadJSON, err := marshalNullable(job.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	overridesJSON, err := marshalNullable(job.Overrides)
	if err != nil {
		return nil, fmt.Errorf("marshal overrides: %w", err)
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}

	return []any{
		job.ID,
		job.TransactionID,
		nullString(job.ParentID),
		job.Type,
		job.Status,
		stepJSON,
		digestJSON,
		nullString(job.Identifier),
		job.SubscriberID,
		job.TemplateID,
		job.EnvironmentID,
		job.OrganizationID,
		nullString(job.UserID),
		nullString(job.ProviderID),
		payloadJSON,
		overridesJSON,
		nullString(job.Error),
		job.CreatedAt,
		job.UpdatedAt,
	}, nil
}

func marshalNullable[T any](v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return data, nil
}

func wrapInsertErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return fmt.Errorf("insert job: %w", err)
}

func (r *JobRepo) queryJobs(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// scanJob сканирует job из pgx.Row (pgx.Rows тоже реализует Scan).
func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var stepJSON, digestJSON, payloadJSON, overridesJSON []byte
	var parentID, identifier, userID, providerID, jobError *string

	err := row.Scan(
		&job.ID,
		&job.TransactionID,
		&parentID,
		&job.Type,
		&job.Status,
		&stepJSON,
		&digestJSON,
		&identifier,
		&job.SubscriberID,
		&job.TemplateID,
		&job.EnvironmentID,
		&job.OrganizationID,
		&userID,
		&providerID,
		&payloadJSON,
		&overridesJSON,
		&jobError,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal(stepJSON, &job.Step); err != nil {
		return nil, fmt.Errorf("unmarshal step: %w", err)
	}
	if digestJSON != nil {
		if err := json.Unmarshal(digestJSON, &job.Digest); err != nil {
			return nil, fmt.Errorf("unmarshal digest: %w", err)
		}
	}
	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if overridesJSON != nil {
		if err := json.Unmarshal(overridesJSON, &job.Overrides); err != nil {
			return nil, fmt.Errorf("unmarshal overrides: %w", err)
		}
	}

	job.ParentID = deref(parentID)
	job.Identifier = deref(identifier)
	job.UserID = deref(userID)
	job.ProviderID = deref(providerID)
	job.Error = deref(jobError)

	return &job, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
