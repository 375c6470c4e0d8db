package taskrunner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Weaver/internal/bridge"
	"github.com/shaiso/Weaver/internal/datadoc"
	"github.com/shaiso/Weaver/internal/domain"
)

// defaultPollInterval — период опроса Record Store для перенесённых Future.
const defaultPollInterval = 200 * time.Millisecond

// Future — локальный handle на run, отправленный в TaskRunner.
//
// Wait и GetState независимы от отмены: истечение timeout в Wait
// не отменяет run.
type Future struct {
	RunID        uuid.UUID
	Asynchronous bool

	runner  TaskRunner
	states  StateReader
	results datadoc.Store

	mu       sync.Mutex
	final    *domain.State
	lastSeen *domain.State
}

// NewFuture создаёт Future, привязанный к runner.
func NewFuture(runID uuid.UUID, asynchronous bool, runner TaskRunner, env Env) *Future {
	return &Future{
		RunID:        runID,
		Asynchronous: asynchronous,
		runner:       runner,
		states:       env.States,
		results:      env.Results,
	}
}

// Resolved создаёт Future, уже содержащий финальное состояние.
func Resolved(runID uuid.UUID, s *domain.State, env Env) *Future {
	f := NewFuture(runID, false, nil, env)
	f.resolve(s)
	return f
}

// Runner возвращает runner, которому принадлежит Future.
func (f *Future) Runner() TaskRunner {
	return f.runner
}

// Wait ждёт финального состояния run не дольше timeout (0 — без ограничения).
// Если время вышло, возвращает nil без ошибки. Повторный Wait продолжает
// ожидание того же run.
func (f *Future) Wait(ctx context.Context, timeout time.Duration) (*domain.State, error) {
	if s := f.Final(); s != nil {
		return s, nil
	}

	var (
		s   *domain.State
		err error
	)
	if f.runner == nil {
		s, err = pollState(ctx, f.states, f.RunID, timeout, defaultPollInterval)
	} else {
		s, err = f.runner.Wait(ctx, f, timeout)
	}
	if err != nil {
		return nil, err
	}
	if s.IsFinal() {
		f.resolve(s)
	}
	return s, nil
}

// Final возвращает финальное состояние, если оно уже известно.
func (f *Future) Final() *domain.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.final
}

// GetState читает текущее (возможно, не финальное) состояние run без ожидания.
// Состояние не бывает старше ранее прочитанного для этого Future.
func (f *Future) GetState(ctx context.Context) (*domain.State, error) {
	if s := f.Final(); s != nil {
		return s, nil
	}
	if f.states == nil {
		return nil, nil
	}

	run, err := f.states.ReadRun(ctx, f.RunID)
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", f.RunID, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if run.State != nil && (f.lastSeen == nil || !run.State.Timestamp.Before(f.lastSeen.Timestamp)) {
		f.lastSeen = run.State
	}
	return f.lastSeen, nil
}

// Result ждёт финального состояния и распаковывает его (domain.State.Result).
func (f *Future) Result(ctx context.Context, raiseOnFailure bool) (any, error) {
	s, err := f.Wait(ctx, 0)
	if err != nil {
		return nil, err
	}
	if f.results != nil {
		if s, err = s.Hydrate(ctx, f.results); err != nil {
			return nil, err
		}
	}
	return s.Result(raiseOnFailure)
}

// String возвращает короткое представление для логов.
func (f *Future) String() string {
	return "Future(" + f.RunID.String() + ")"
}

func (f *Future) resolve(s *domain.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.final == nil {
		f.final = s
		f.lastSeen = s
	}
}

// pollState опрашивает Record Store, пока run не станет финальным.
func pollState(ctx context.Context, states StateReader, runID uuid.UUID, timeout, interval time.Duration) (*domain.State, error) {
	if states == nil {
		return nil, fmt.Errorf("%w: no state reader for run %s", ErrNotStarted, runID)
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		run, err := states.ReadRun(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("read run %s: %w", runID, err)
		}
		if run.State.IsFinal() {
			return run.State, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, nil
		case <-ticker.C:
		}
	}
}

// waitSlot ждёт закрытия done с учётом контекста Loop.
func waitSlot(ctx context.Context, done <-chan struct{}, timeout time.Duration) (bool, error) {
	return bridge.WaitTimeout(ctx, done, timeout)
}
