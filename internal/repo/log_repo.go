package repo

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Weaver/internal/domain"
)

// LogRepo — репозиторий логов runs.
type LogRepo struct {
	pool *pgxpool.Pool
}

var _ LogStore = (*LogRepo)(nil)

// NewLogRepo создаёт новый LogRepo.
func NewLogRepo(pool *pgxpool.Pool) *LogRepo {
	return &LogRepo{pool: pool}
}

// WriteLogs записывает пачку логов одним pgx.Batch.
func (r *LogRepo) WriteLogs(ctx context.Context, logs []domain.Log) error {
	if len(logs) == 0 {
		return nil
	}

	query := `
		INSERT INTO logs (name, level, level_num, message, timestamp, flow_run_id, task_run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	batch := &pgx.Batch{}
	for _, l := range logs {
		batch.Queue(query,
			l.Name,
			l.Level,
			levelNum(l.Level),
			l.Message,
			l.Timestamp,
			l.FlowRunID,
			nullUUID(l.TaskRunID),
		)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert logs: %w", err)
	}
	return nil
}

// ReadLogs возвращает логи по фильтру в порядке времени.
func (r *LogRepo) ReadLogs(ctx context.Context, filter LogFilter) ([]domain.Log, error) {
	var (
		conds []string
		args  []any
	)
	if filter.FlowRunID != nil {
		args = append(args, *filter.FlowRunID)
		conds = append(conds, fmt.Sprintf("flow_run_id = $%d", len(args)))
	}
	if filter.TaskRunID != nil {
		args = append(args, *filter.TaskRunID)
		conds = append(conds, fmt.Sprintf("task_run_id = $%d", len(args)))
	}
	if filter.MinLevel != "" {
		var min slog.Level
		if err := min.UnmarshalText([]byte(filter.MinLevel)); err == nil {
			args = append(args, int(min))
			conds = append(conds, fmt.Sprintf("level_num >= $%d", len(args)))
		}
	}

	query := `SELECT name, level, message, timestamp, flow_run_id, task_run_id FROM logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp, id"
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
		return nil, fmt.Errorf("read logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.Log
	for rows.Next() {
		var l domain.Log
		if err := rows.Scan(&l.Name, &l.Level, &l.Message, &l.Timestamp, &l.FlowRunID, &l.TaskRunID); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// levelNum переводит имя уровня в число slog.Level; неизвестное — INFO.
func levelNum(level string) int {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		return int(slog.LevelInfo)
	}
	return int(lv)
}
