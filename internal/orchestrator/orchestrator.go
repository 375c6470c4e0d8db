package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/shaiso/Weaver/internal/domain"
	"github.com/shaiso/Weaver/internal/repo"
	"github.com/shaiso/Weaver/internal/telemetry"
)

// Default configuration values.
const (
	defaultPrefetch  = 10 * time.Second
	defaultBatchSize = 100
)

// SubmissionFailedMessage — сообщение FAILED состояния при ошибке отправки.
const SubmissionFailedMessage = "Submission failed."

// Runner выполняет существующий flow run. Реализуется *engine.Engine.
type Runner interface {
	RunExisting(ctx context.Context, runID uuid.UUID) (*domain.State, error)
}

// Config — конфигурация Agent.
type Config struct {
	// Store — Record Store (обязателен).
	Store repo.Store

	// Runner — исполнитель flow runs (обязателен).
	Runner Runner

	// FlowIDs — обслуживаемые flows; пусто — все.
	FlowIDs []uuid.UUID

	// Prefetch — runs, запланированные не позже now+Prefetch, берутся в работу (default: 10s).
	Prefetch time.Duration

	// BatchSize — количество runs за один poll (default: 100).
	BatchSize int

	// Limit — максимум одновременно выполняемых flow runs; 0 — без ограничения.
	Limit int

	// SubmitRate — отправок в секунду; 0 — без ограничения.
	SubmitRate float64

	Logger *slog.Logger

	// Now — источник времени (для тестов).
	Now func() time.Time
}

// Agent забирает наступившие SCHEDULED flow runs и передаёт их Engine.
//
// Agent реализует scheduler.Service: один вызов RunOnce — один poll.
// Каждый run переводится в PENDING до отправки, поэтому параллельные
// agents не выполняют один run дважды: переход SCHEDULED → PENDING
// проходит только у одного из них.
type Agent struct {
	store   repo.Store
	runner  Runner
	flowIDs []uuid.UUID

	prefetch  time.Duration
	batchSize int
	limiter   *rate.Limiter
	slots     *semaphore.Weighted
	now       func() time.Time

	inflight *inflight

	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopped   bool
	stoppedMu sync.RWMutex
}

// New создаёт новый Agent.
func New(cfg Config) *Agent {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	limit := rate.Inf
	burst := 0
	if cfg.SubmitRate > 0 {
		limit = rate.Limit(cfg.SubmitRate)
		burst = max(1, int(cfg.SubmitRate))
	}

	var slots *semaphore.Weighted
	if cfg.Limit > 0 {
		slots = semaphore.NewWeighted(int64(cfg.Limit))
	}

	now := cfg.Now
	if now == nil {
		now = domain.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Agent{
		store:     cfg.Store,
		runner:    cfg.Runner,
		flowIDs:   cfg.FlowIDs,
		prefetch:  prefetch,
		batchSize: batchSize,
		limiter:   rate.NewLimiter(limit, burst),
		slots:     slots,
		now:       now,
		inflight:  newInflight(),
		logger:    logger.With("service", "agent"),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Name возвращает имя сервиса для LoopService.
func (a *Agent) Name() string { return "agent" }

// RunOnce выполняет один poll и возвращает число отправленных flow runs.
func (a *Agent) RunOnce(ctx context.Context) (int, error) {
	if a.IsStopped() {
		return 0, ErrAgentStopped
	}

	before := a.now().Add(a.prefetch)
	runs, err := a.store.ListRuns(ctx, repo.RunFilter{
		Kind:            domain.RunKindFlow,
		FlowIDs:         a.flowIDs,
		StateTypes:      []domain.StateType{domain.StateScheduled},
		ScheduledBefore: &before,
		ExcludeIDs:      a.inflight.ids(),
		Sort:            repo.SortNextScheduledAsc,
		Limit:           a.batchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("list scheduled flow runs: %w", err)
	}

	if len(runs) == 0 {
		return 0, nil
	}
	a.logger.Debug("poll found scheduled flow runs", "count", len(runs))

	submitted := 0
	for _, run := range runs {
		if a.slots != nil && !a.slots.TryAcquire(1) {
			a.logger.Info("flow run limit reached, deferring remaining runs", "remaining", len(runs)-submitted)
			break
		}
		if err := a.limiter.Wait(ctx); err != nil {
			a.release()
			return submitted, err
		}

		if err := a.submit(ctx, run); err != nil {
			a.release()
			a.logger.Warn("flow run not submitted",
				"flow_run_id", run.ID,
				"error", err,
			)
			continue
		}
		submitted++
	}

	return submitted, nil
}

// submit переводит run в PENDING и запускает его выполнение в горутине.
func (a *Agent) submit(ctx context.Context, run *domain.Run) error {
	if !a.inflight.add(run.ID) {
		return fmt.Errorf("%w: %s", ErrRunInFlight, run.ID)
	}

	if _, err := a.store.AppendState(ctx, run.ID, domain.Pending()); err != nil {
		a.inflight.remove(run.ID)
		return fmt.Errorf("propose pending: %w", err)
	}

	logger := a.logger.With("flow_run_id", run.ID, "flow_run", run.Name)
	logger.Info("submitting flow run")

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.release()
		defer a.inflight.remove(run.ID)

		state, err := a.runner.RunExisting(a.ctx, run.ID)
		if err != nil {
			telemetry.AgentSubmissionsTotal.WithLabelValues("failed").Inc()
			logger.Error("flow run submission failed", "error", err)
			a.markFailed(run.ID, err, logger)
			return
		}

		telemetry.AgentSubmissionsTotal.WithLabelValues("submitted").Inc()
		logger.Info("flow run finished", "state", state.Type)
	}()
	return nil
}

// markFailed записывает FAILED "Submission failed." для run, который не удалось выполнить.
func (a *Agent) markFailed(runID uuid.UUID, cause error, logger *slog.Logger) {
	ctx := context.WithoutCancel(a.ctx)
	if _, err := a.store.AppendState(ctx, runID, domain.Failed(SubmissionFailedMessage, domain.Capture(cause))); err != nil {
		logger.Error("failed to record submission failure", "error", err)
	}
}

func (a *Agent) release() {
	if a.slots != nil {
		a.slots.Release(1)
	}
}

// Wait ждёт завершения всех отправленных flow runs.
func (a *Agent) Wait() {
	a.wg.Wait()
}

// Stop останавливает Agent: новые poll отклоняются, выполняемые flow runs
// получают отмену контекста и завершаются CRASHED.
func (a *Agent) Stop() {
	a.stoppedMu.Lock()
	a.stopped = true
	a.stoppedMu.Unlock()

	a.logger.Info("stopping agent...")
	a.cancel()
	a.wg.Wait()

	a.logger.Info("agent stopped")
}

// IsStopped проверяет, остановлен ли Agent.
func (a *Agent) IsStopped() bool {
	a.stoppedMu.RLock()
	defer a.stoppedMu.RUnlock()
	return a.stopped
}
