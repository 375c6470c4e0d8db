package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Weaver/internal/collections"
	"github.com/shaiso/Weaver/internal/domain"
	"github.com/shaiso/Weaver/internal/repo"
	"github.com/shaiso/Weaver/internal/telemetry"
)

// AutoScheduledTag — тег flow runs, созданных scheduler.
const AutoScheduledTag = "auto-scheduled"

// Значения по умолчанию.
const (
	DefaultDeploymentBatchSize = 100
	DefaultMaxRuns             = 100
	DefaultMaxScheduledTime    = 100 * 24 * time.Hour
	DefaultInsertBatchSize     = 500
)

// Config — конфигурация Scheduler.
type Config struct {
	// Store — Record Store (обязателен).
	Store repo.Store

	// DeploymentBatchSize — deployments за одну страницу (default: 100).
	DeploymentBatchSize int

	// MaxRuns — максимум runs на deployment за цикл (default: 100).
	MaxRuns int

	// MaxScheduledTime — горизонт планирования (default: 100 дней).
	MaxScheduledTime time.Duration

	// InsertBatchSize — runs в одной вставке (default: 500).
	InsertBatchSize int

	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// Scheduler заранее создаёт SCHEDULED flow runs для активных deployments.
//
// Каждая дата расписания даёт ровно один flow run: ключ идемпотентности
// "scheduled <deployment id> <date>" уникален в пределах flow, поэтому
// повторные циклы и параллельные scheduler не создают дубликатов.
type Scheduler struct {
	store  repo.Store
	cfg    Config
	logger *slog.Logger
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.DeploymentBatchSize <= 0 {
		cfg.DeploymentBatchSize = DefaultDeploymentBatchSize
	}
	if cfg.MaxRuns <= 0 {
		cfg.MaxRuns = DefaultMaxRuns
	}
	if cfg.MaxScheduledTime <= 0 {
		cfg.MaxScheduledTime = DefaultMaxScheduledTime
	}
	if cfg.InsertBatchSize <= 0 {
		cfg.InsertBatchSize = DefaultInsertBatchSize
	}
	if cfg.Now == nil {
		cfg.Now = domain.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		store:  cfg.Store,
		cfg:    cfg,
		logger: logger.With("service", "scheduler"),
	}
}

// Name возвращает имя сервиса для LoopService.
func (s *Scheduler) Name() string { return "scheduler" }

// RunOnce выполняет один цикл: постранично читает активные deployments,
// вычисляет даты и вставляет runs. Возвращает число вставленных runs.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		telemetry.SchedulerCycleDuration.Observe(time.Since(start).Seconds())
	}()

	now := s.cfg.Now()
	active := true
	total := 0

	for offset := 0; ; offset += s.cfg.DeploymentBatchSize {
		deployments, err := s.store.ListDeployments(ctx, repo.DeploymentFilter{
			ScheduleActive: &active,
			Limit:          s.cfg.DeploymentBatchSize,
			Offset:         offset,
		})
		if err != nil {
			return total, fmt.Errorf("list deployments: %w", err)
		}

		runs, err := s.collectRuns(ctx, deployments, now)
		if err != nil {
			return total, err
		}

		inserted, err := s.insertRuns(ctx, runs)
		total += inserted
		if err != nil {
			return total, err
		}

		if len(deployments) < s.cfg.DeploymentBatchSize {
			break
		}
	}

	telemetry.SchedulerInsertedRuns.Add(float64(total))
	s.logger.Info("scheduled flow runs", "inserted", total)
	return total, nil
}

// collectRuns вычисляет runs для страницы deployments.
// Даты deployments вычисляются параллельно.
func (s *Scheduler) collectRuns(ctx context.Context, deployments []*domain.Deployment, now time.Time) ([]*domain.Run, error) {
	var (
		mu   sync.Mutex
		runs []*domain.Run
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, d := range deployments {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			depRuns, err := s.deploymentRuns(d, now)
			if err != nil {
				// Некорректное расписание не останавливает остальные deployments.
				s.logger.Warn("failed to generate schedule dates",
					"deployment_id", d.ID,
					"deployment", d.Name,
					"error", err,
				)
				return nil
			}
			mu.Lock()
			runs = append(runs, depRuns...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return runs, nil
}

// deploymentRuns строит SCHEDULED flow runs для будущих дат deployment.
func (s *Scheduler) deploymentRuns(d *domain.Deployment, now time.Time) ([]*domain.Run, error) {
	if d.Schedule == nil {
		return nil, nil
	}
	dates, err := Dates(d.Schedule, s.cfg.MaxRuns, now, now.Add(s.cfg.MaxScheduledTime))
	if err != nil {
		return nil, err
	}

	tags := append(append([]string(nil), d.Tags...), AutoScheduledTag)
	deploymentID := d.ID

	runs := make([]*domain.Run, 0, len(dates))
	for _, date := range dates {
		date := date.UTC()
		runs = append(runs, &domain.Run{
			ID:                uuid.New(),
			Kind:              domain.RunKindFlow,
			Name:              fmt.Sprintf("%s-%s", d.Name, date.Format("20060102-150405")),
			FlowID:            d.FlowID,
			DeploymentID:      &deploymentID,
			IdempotencyKey:    IdempotencyKey(d.ID, date),
			Parameters:        d.Parameters,
			Tags:              tags,
			ExpectedStartTime: &date,
			State:             domain.Scheduled(date, "Flow run scheduled"),
		})
	}
	return runs, nil
}

// insertRuns вставляет runs пачками по InsertBatchSize.
func (s *Scheduler) insertRuns(ctx context.Context, runs []*domain.Run) (int, error) {
	total := 0
	for _, batch := range collections.Batched(runs, s.cfg.InsertBatchSize) {
		n, err := s.store.InsertScheduledRuns(ctx, batch)
		if err != nil {
			return total, fmt.Errorf("insert scheduled runs: %w", err)
		}
		total += n
	}
	return total, nil
}

// IdempotencyKey возвращает ключ идемпотентности scheduled run.
func IdempotencyKey(deploymentID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("scheduled %s %s", deploymentID, date.UTC().Format(time.RFC3339))
}
