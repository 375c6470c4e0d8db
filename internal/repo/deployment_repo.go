package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Weaver/internal/domain"
)

// DeploymentRepo — репозиторий deployments.
type DeploymentRepo struct {
	pool *pgxpool.Pool
}

var _ DeploymentStore = (*DeploymentRepo)(nil)

// NewDeploymentRepo создаёт новый DeploymentRepo.
func NewDeploymentRepo(pool *pgxpool.Pool) *DeploymentRepo {
	return &DeploymentRepo{pool: pool}
}

const deploymentColumns = `id, name, flow_id, flow_name, schedule, is_schedule_active,
	parameters, tags, created_at, updated_at`

// CreateDeployment реализует DeploymentStore.
func (r *DeploymentRepo) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	schedule, err := marshalNullable(d.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	params, err := marshalNullable(d.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}

	id := d.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := domain.Now()

	query := `
		INSERT INTO deployments (` + deploymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (flow_id, name) DO UPDATE
		SET flow_name = EXCLUDED.flow_name,
		    schedule = EXCLUDED.schedule,
		    is_schedule_active = EXCLUDED.is_schedule_active,
		    parameters = EXCLUDED.parameters,
		    tags = EXCLUDED.tags,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`
	err = r.pool.QueryRow(ctx, query,
		id,
		d.Name,
		d.FlowID,
		d.FlowName,
		schedule,
		d.IsScheduleActive,
		params,
		tags,
		now,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert deployment: %w", err)
	}
	return nil
}

// ReadDeployment реализует DeploymentStore.
func (r *DeploymentRepo) ReadDeployment(ctx context.Context, id uuid.UUID) (*domain.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	d, err := scanDeployment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("deployment %s: %w", id, err)
	}
	return d, nil
}

// ListDeployments реализует DeploymentStore.
func (r *DeploymentRepo) ListDeployments(ctx context.Context, filter DeploymentFilter) ([]*domain.Deployment, error) {
	var (
		conds []string
		args  []any
	)
	if filter.FlowID != nil {
		args = append(args, *filter.FlowID)
		conds = append(conds, fmt.Sprintf("flow_id = $%d", len(args)))
	}
	if filter.ScheduleActive != nil {
		args = append(args, *filter.ScheduleActive)
		conds = append(conds, fmt.Sprintf("is_schedule_active = $%d", len(args)))
	}

	query := `SELECT ` + deploymentColumns + ` FROM deployments`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var out []*domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SetScheduleActive реализует DeploymentStore.
func (r *DeploymentRepo) SetScheduleActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE deployments SET is_schedule_active = $2, updated_at = $3 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, active, domain.Now())
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deployment %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var (
		d              domain.Deployment
		schedule, pars []byte
	)
	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.FlowID,
		&d.FlowName,
		&schedule,
		&d.IsScheduleActive,
		&pars,
		&d.Tags,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, scanError("deployment", err)
	}

	if len(schedule) > 0 {
		if err := json.Unmarshal(schedule, &d.Schedule); err != nil {
			return nil, fmt.Errorf("unmarshal schedule: %w", err)
		}
	}
	if len(pars) > 0 {
		if err := json.Unmarshal(pars, &d.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	return &d, nil
}

// marshalNullable возвращает nil для пустого значения, иначе JSON.
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
