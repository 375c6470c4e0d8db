package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Weaver/internal/domain"
)

// FlowRepo — репозиторий flows.
type FlowRepo struct {
	pool *pgxpool.Pool
}

var _ FlowStore = (*FlowRepo)(nil)

// NewFlowRepo создаёт новый FlowRepo.
func NewFlowRepo(pool *pgxpool.Pool) *FlowRepo {
	return &FlowRepo{pool: pool}
}

// ReadOrCreateFlow возвращает flow по имени, создавая его при первом обращении.
func (r *FlowRepo) ReadOrCreateFlow(ctx context.Context, name string) (*domain.Flow, error) {
	insert := `
		INSERT INTO flows (id, name, tags, created_at)
		VALUES ($1, $2, '{}', $3)
		ON CONFLICT (name) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, insert, uuid.New(), name, domain.Now()); err != nil {
		return nil, fmt.Errorf("insert flow: %w", err)
	}

	query := `SELECT id, name, tags, created_at FROM flows WHERE name = $1`
	flow, err := scanFlow(r.pool.QueryRow(ctx, query, name))
	if err != nil {
		return nil, fmt.Errorf("flow %q: %w", name, err)
	}
	return flow, nil
}

// ReadFlow возвращает flow по ID.
func (r *FlowRepo) ReadFlow(ctx context.Context, id uuid.UUID) (*domain.Flow, error) {
	query := `SELECT id, name, tags, created_at FROM flows WHERE id = $1`
	flow, err := scanFlow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("flow %s: %w", id, err)
	}
	return flow, nil
}

// ReadFlowByName возвращает flow по имени.
func (r *FlowRepo) ReadFlowByName(ctx context.Context, name string) (*domain.Flow, error) {
	query := `SELECT id, name, tags, created_at FROM flows WHERE name = $1`
	flow, err := scanFlow(r.pool.QueryRow(ctx, query, name))
	if err != nil {
		return nil, fmt.Errorf("flow %q: %w", name, err)
	}
	return flow, nil
}

func scanFlow(row pgx.Row) (*domain.Flow, error) {
	var flow domain.Flow
	err := row.Scan(&flow.ID, &flow.Name, &flow.Tags, &flow.CreatedAt)
	if err != nil {
		return nil, scanError("flow", err)
	}
	return &flow, nil
}
