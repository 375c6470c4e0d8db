package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Weaver/internal/domain"
)

// RunRepo — репозиторий runs и их состояний в Postgres.
//
// Полный Run хранится в jsonb (body); колонки рядом с ним дублируют поля,
// по которым идут фильтры и ограничения уникальности.
type RunRepo struct {
	pool *pgxpool.Pool
}

var _ RunStore = (*RunRepo)(nil)

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

const insertRunSQL = `
	INSERT INTO runs (id, kind, name, flow_id, flow_run_id, deployment_id, parent_task_run_id,
	                  idempotency_key, state_type, state_name, expected_start_time,
	                  next_scheduled_start_time, tags, body, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT DO NOTHING
`

const insertStateSQL = `
	INSERT INTO run_states (id, run_id, type, name, timestamp, cache_key, cache_expiration, body)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// insertScheduledSQL вставляет run и его первое состояние одним запросом;
// при конфликте не вставляется ни то, ни другое.
const insertScheduledSQL = `
	WITH ins AS (
		INSERT INTO runs (id, kind, name, flow_id, flow_run_id, deployment_id, parent_task_run_id,
		                  idempotency_key, state_type, state_name, expected_start_time,
		                  next_scheduled_start_time, tags, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT DO NOTHING
		RETURNING id
	)
	INSERT INTO run_states (id, run_id, type, name, timestamp, cache_key, cache_expiration, body)
	SELECT $16, ins.id, $17, $18, $19, $20, $21, $22 FROM ins
`

// CreateRun реализует RunStore.
func (r *RunRepo) CreateRun(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	c, initial, err := prepareRun(run)
	if err != nil {
		return nil, err
	}

	runArgs, err := runArgs(c)
	if err != nil {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, insertRunSQL, runArgs...)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if c.Kind == domain.RunKindFlow && c.IdempotencyKey != "" {
			existing, err := r.byIdempotencyKey(ctx, tx, c.FlowID, c.IdempotencyKey)
			if err == nil {
				return existing, nil
			}
			if !errors.Is(err, ErrNotFound) {
				return nil, err
			}
		}
		return nil, fmt.Errorf("run %s: %w", c.ID, ErrAlreadyExists)
	}

	if initial != nil {
		stateArgs, err := stateArgs(initial)
		if err != nil {
			return nil, err
		}
		if _, err := tx.Exec(ctx, insertStateSQL, stateArgs...); err != nil {
			return nil, fmt.Errorf("insert state: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

func (r *RunRepo) byIdempotencyKey(ctx context.Context, q pgx.Tx, flowID uuid.UUID, key string) (*domain.Run, error) {
	query := `SELECT body FROM runs WHERE kind = 'flow' AND flow_id = $1 AND idempotency_key = $2`
	return scanRunBody(q.QueryRow(ctx, query, flowID, key))
}

// ReadRun реализует RunStore.
func (r *RunRepo) ReadRun(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	run, err := scanRunBody(r.pool.QueryRow(ctx, `SELECT body FROM runs WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	return run, nil
}

// AppendState реализует RunStore: SELECT ... FOR UPDATE, проверка перехода,
// запись состояния и обновление run в одной транзакции.
func (r *RunRepo) AppendState(ctx context.Context, runID uuid.UUID, s *domain.State) (*domain.Run, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	run, err := scanRunBody(tx.QueryRow(ctx, `SELECT body FROM runs WHERE id = $1 FOR UPDATE`, runID))
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	st := *s
	if err := run.ApplyState(&st); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}

	args, err := stateArgs(&st)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, insertStateSQL, args...); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidState, domain.ErrStaleTimestamp)
		}
		return nil, fmt.Errorf("insert state: %w", err)
	}

	body, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("marshal run: %w", err)
	}
	query := `
		UPDATE runs
		SET state_type = $2, state_name = $3, expected_start_time = $4,
		    next_scheduled_start_time = $5, body = $6
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query,
		run.ID,
		string(st.Type),
		st.Name,
		run.ExpectedStartTime,
		run.NextScheduledStartTime,
		body,
	); err != nil {
		return nil, fmt.Errorf("update run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return run, nil
}

// ReadStates реализует RunStore.
func (r *RunRepo) ReadStates(ctx context.Context, runID uuid.UUID) ([]*domain.State, error) {
	if _, err := r.ReadRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT body FROM run_states WHERE run_id = $1 ORDER BY timestamp ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("read states: %w", err)
	}
	defer rows.Close()

	var states []*domain.State
	for rows.Next() {
		s, err := scanStateBody(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

// CountRuns реализует RunStore.
func (r *RunRepo) CountRuns(ctx context.Context, filter RunFilter) (int, error) {
	where, args := runWhere(filter)

	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM runs`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

// ListRuns реализует RunStore.
func (r *RunRepo) ListRuns(ctx context.Context, filter RunFilter) ([]*domain.Run, error) {
	where, args := runWhere(filter)

	query := `SELECT body FROM runs` + where + ` ORDER BY ` + runOrder(filter.Sort)
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
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRunBody(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// InsertScheduledRuns реализует RunStore: один pgx.Batch на вызов.
func (r *RunRepo) InsertScheduledRuns(ctx context.Context, runs []*domain.Run) (int, error) {
	if len(runs) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, run := range runs {
		c, initial, err := prepareRun(run)
		if err != nil {
			return 0, err
		}
		if initial == nil {
			return 0, fmt.Errorf("%w: scheduled run %s has no state", ErrInvalidState, c.ID)
		}
		ra, err := runArgs(c)
		if err != nil {
			return 0, err
		}
		sa, err := stateArgs(initial)
		if err != nil {
			return 0, err
		}
		// run_id состояния подставляет сам запрос
		batch.Queue(insertScheduledSQL, append(ra, sa[0], sa[2], sa[3], sa[4], sa[5], sa[6], sa[7])...)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for range runs {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("insert scheduled run: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// FindCachedState реализует RunStore.
func (r *RunRepo) FindCachedState(ctx context.Context, cacheKey string, now time.Time) (*domain.State, error) {
	query := `
		SELECT body FROM run_states
		WHERE type = 'COMPLETED' AND cache_key = $1
		  AND (cache_expiration IS NULL OR cache_expiration > $2)
		ORDER BY timestamp DESC
		LIMIT 1
	`
	s, err := scanStateBody(r.pool.QueryRow(ctx, query, cacheKey, now))
	if err != nil {
		return nil, fmt.Errorf("cache key %q: %w", cacheKey, err)
	}
	return s, nil
}

// --- Helpers ---

// prepareRun копирует run и применяет начальное состояние.
func prepareRun(run *domain.Run) (*domain.Run, *domain.State, error) {
	c := *run
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = domain.Now()
	}

	initial := c.State
	c.State = nil
	if initial == nil {
		return &c, nil, nil
	}

	st := *initial
	if err := c.ApplyState(&st); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	return &c, &st, nil
}

func runArgs(run *domain.Run) ([]any, error) {
	body, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("marshal run: %w", err)
	}

	var flowID *uuid.UUID
	if run.FlowID != uuid.Nil {
		id := run.FlowID
		flowID = &id
	}
	tags := run.Tags
	if tags == nil {
		tags = []string{}
	}

	var stateType, stateName *string
	if run.State != nil {
		stateType = nullString(string(run.State.Type))
		stateName = nullString(run.State.Name)
	}

	return []any{
		run.ID,
		string(run.Kind),
		run.Name,
		flowID,
		nullUUID(run.FlowRunID),
		nullUUID(run.DeploymentID),
		nullUUID(run.ParentTaskRunID),
		nullString(run.IdempotencyKey),
		stateType,
		stateName,
		run.ExpectedStartTime,
		run.NextScheduledStartTime,
		tags,
		body,
		run.CreatedAt,
	}, nil
}

func stateArgs(s *domain.State) ([]any, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return []any{
		s.ID,
		s.Details.RunID,
		string(s.Type),
		s.Name,
		s.Timestamp,
		nullString(s.Details.CacheKey),
		s.Details.CacheExpiration,
		body,
	}, nil
}

func scanRunBody(row pgx.Row) (*domain.Run, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		return nil, scanError("run", err)
	}

	var run domain.Run
	if err := json.Unmarshal(body, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &run, nil
}

func scanStateBody(row pgx.Row) (*domain.State, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		return nil, scanError("state", err)
	}

	var s domain.State
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &s, nil
}

// runWhere строит WHERE по фильтру.
func runWhere(f RunFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(f.IDs) > 0 {
		add("id = ANY($%d)", f.IDs)
	}
	if len(f.ExcludeIDs) > 0 {
		add("NOT (id = ANY($%d))", f.ExcludeIDs)
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if f.FlowID != nil {
		add("flow_id = $%d", *f.FlowID)
	}
	if len(f.FlowIDs) > 0 {
		add("flow_id = ANY($%d)", f.FlowIDs)
	}
	if f.FlowRunID != nil {
		add("flow_run_id = $%d", *f.FlowRunID)
	}
	if f.DeploymentID != nil {
		add("deployment_id = $%d", *f.DeploymentID)
	}
	if len(f.StateTypes) > 0 {
		types := make([]string, len(f.StateTypes))
		for i, t := range f.StateTypes {
			types[i] = string(t)
		}
		add("state_type = ANY($%d)", types)
	}
	if f.StateName != "" {
		add("state_name = $%d", f.StateName)
	}
	if f.ScheduledBefore != nil {
		add("next_scheduled_start_time <= $%d", *f.ScheduledBefore)
	}
	if len(f.Tags) > 0 {
		add("tags @> $%d", f.Tags)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func runOrder(sort RunSort) string {
	switch sort {
	case SortExpectedStartAsc:
		return "expected_start_time ASC NULLS FIRST, id"
	case SortExpectedStartDesc:
		return "expected_start_time DESC NULLS LAST, id"
	case SortNextScheduledAsc:
		return "next_scheduled_start_time ASC NULLS FIRST, id"
	default:
		return "created_at DESC, id"
	}
}
