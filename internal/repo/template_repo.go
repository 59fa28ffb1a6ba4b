package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Herald/internal/domain"
)

// TemplateRepo — репозиторий шаблонов уведомлений (только чтение при trigger).
type TemplateRepo struct {
	pool *pgxpool.Pool
}

// NewTemplateRepo создаёт новый TemplateRepo.
func NewTemplateRepo(pool *pgxpool.Pool) *TemplateRepo {
	return &TemplateRepo{pool: pool}
}

// GetByID возвращает шаблон по ID в рамках окружения.
func (r *TemplateRepo) GetByID(ctx context.Context, environmentID, id string) (*domain.Template, error) {
	return r.scanTemplate(r.pool.QueryRow(ctx, `
		SELECT id, identifier, environment_id, organization_id, active, steps, created_at
		FROM templates
		WHERE environment_id = $1 AND (id = $2 OR identifier = $2)
		LIMIT 1
	`, environmentID, id))
}

func (r *TemplateRepo) scanTemplate(row pgx.Row) (*domain.Template, error) {
	var t domain.Template
	var stepsJSON []byte

	err := row.Scan(
		&t.ID,
		&t.Identifier,
		&t.EnvironmentID,
		&t.OrganizationID,
		&t.Active,
		&stepsJSON,
		&t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan template: %w", err)
	}

	if err := json.Unmarshal(stepsJSON, &t.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return &t, nil
}
