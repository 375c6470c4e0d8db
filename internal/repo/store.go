package repo

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Weaver/internal/domain"
)

// RunSort — порядок сортировки runs.
type RunSort string

const (
	SortCreatedDesc       RunSort = "CREATED_DESC"
	SortExpectedStartAsc  RunSort = "EXPECTED_START_TIME_ASC"
	SortNextScheduledAsc  RunSort = "NEXT_SCHEDULED_START_TIME_ASC"
	SortExpectedStartDesc RunSort = "EXPECTED_START_TIME_DESC"
)

// RunFilter — параметры фильтрации runs. Пустые поля не фильтруют.
type RunFilter struct {
	IDs        []uuid.UUID
	ExcludeIDs []uuid.UUID

	Kind         domain.RunKind
	FlowID       *uuid.UUID
	FlowRunID    *uuid.UUID
	DeploymentID *uuid.UUID

	// FlowIDs — run принадлежит одному из flows.
	FlowIDs []uuid.UUID

	StateTypes []domain.StateType
	StateName  string

	// ScheduledBefore — next_scheduled_start_time не позже.
	ScheduledBefore *time.Time

	// Tags — run должен иметь все перечисленные теги.
	Tags []string

	Sort   RunSort
	Limit  int
	Offset int
}

// DeploymentFilter — параметры фильтрации deployments.
type DeploymentFilter struct {
	FlowID         *uuid.UUID
	ScheduleActive *bool
	Limit          int
	Offset         int
}

// LogFilter — параметры фильтрации логов.
type LogFilter struct {
	FlowRunID *uuid.UUID
	TaskRunID *uuid.UUID
	MinLevel  string
	Limit     int
	Offset    int
}

// RunStore — хранилище runs и их состояний.
//
// Хранилище — единственный арбитр изменений состояния: AppendState
// атомарно читает текущее состояние, проверяет переход и добавляет новое.
type RunStore interface {
	// CreateRun создаёт run вместе с начальным состоянием run.State.
	// Если flow run с тем же (flow_id, idempotency_key) уже есть,
	// возвращает существующий.
	CreateRun(ctx context.Context, run *domain.Run) (*domain.Run, error)

	ReadRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)

	// AppendState добавляет состояние run. Недопустимый переход или
	// устаревший timestamp возвращают ErrInvalidState.
	AppendState(ctx context.Context, runID uuid.UUID, s *domain.State) (*domain.Run, error)

	// ReadStates возвращает историю состояний run по возрастанию времени.
	ReadStates(ctx context.Context, runID uuid.UUID) ([]*domain.State, error)

	CountRuns(ctx context.Context, filter RunFilter) (int, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*domain.Run, error)

	// InsertScheduledRuns вставляет flow runs пачкой, пропуская конфликты
	// по (flow_id, idempotency_key). Возвращает число вставленных.
	InsertScheduledRuns(ctx context.Context, runs []*domain.Run) (int, error)

	// FindCachedState ищет последнее COMPLETED состояние с cacheKey,
	// срок кэша которого не истёк к now. Если нет — ErrNotFound.
	FindCachedState(ctx context.Context, cacheKey string, now time.Time) (*domain.State, error)
}

// FlowStore — хранилище flows.
type FlowStore interface {
	ReadOrCreateFlow(ctx context.Context, name string) (*domain.Flow, error)
	ReadFlow(ctx context.Context, id uuid.UUID) (*domain.Flow, error)

	// ReadFlowByName возвращает flow по имени, не создавая его.
	ReadFlowByName(ctx context.Context, name string) (*domain.Flow, error)
}

// DeploymentStore — хранилище deployments.
type DeploymentStore interface {
	// CreateDeployment создаёт deployment или обновляет существующий
	// с тем же (flow_id, name); d.ID получает ID сохранённой записи.
	CreateDeployment(ctx context.Context, d *domain.Deployment) error
	ReadDeployment(ctx context.Context, id uuid.UUID) (*domain.Deployment, error)
	ListDeployments(ctx context.Context, filter DeploymentFilter) ([]*domain.Deployment, error)
	SetScheduleActive(ctx context.Context, id uuid.UUID, active bool) error
}

// LogStore — хранилище логов runs.
type LogStore interface {
	WriteLogs(ctx context.Context, logs []domain.Log) error
	ReadLogs(ctx context.Context, filter LogFilter) ([]domain.Log, error)
}

// Store — полный Record Store.
type Store interface {
	RunStore
	FlowStore
	DeploymentStore
	LogStore
}

// LevelAtLeast возвращает true, если уровень лога не ниже min.
// Пустой или неизвестный min не фильтрует.
func LevelAtLeast(level, min string) bool {
	if min == "" {
		return true
	}
	var lv, mv slog.Level
	if err := mv.UnmarshalText([]byte(min)); err != nil {
		return true
	}
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		return true
	}
	return lv >= mv
}
