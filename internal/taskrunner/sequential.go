package taskrunner

import (
	"context"
	"sync"
	"time"

	"github.com/shaiso/Weaver/internal/domain"
)

// Sequential — runner без backend: Submit выполняет вызов сразу на
// вызывающей горутине и возвращает Future с готовым состоянием.
// Вызовы одного flow run никогда не выполняются параллельно.
type Sequential struct {
	mu      sync.Mutex
	started bool
	env     Env
}

var _ TaskRunner = (*Sequential)(nil)

// NewSequential создаёт Sequential runner.
func NewSequential() *Sequential {
	return &Sequential{}
}

// Start реализует TaskRunner.
func (r *Sequential) Start(_ context.Context, env Env) (func(context.Context) error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil, ErrAlreadyStarted
	}
	r.started = true
	r.env = env

	return func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.started = false
		return nil
	}, nil
}

// Submit реализует TaskRunner.
func (r *Sequential) Submit(ctx context.Context, run *domain.Run, call Call) (*Future, error) {
	r.mu.Lock()
	started, env := r.started, r.env
	r.mu.Unlock()

	if !started {
		return nil, ErrNotStarted
	}

	fn, err := call.local(env)
	if err != nil {
		return nil, err
	}

	state, err := fn(ctx)
	if err != nil {
		return nil, err
	}

	f := NewFuture(run.ID, call.Asynchronous, r, env)
	if state.IsFinal() {
		f.resolve(state)
	}
	return f, nil
}

// Wait реализует TaskRunner. Future, созданные этим runner, уже содержат
// состояние; для перенесённых Future опрашивается Record Store.
func (r *Sequential) Wait(ctx context.Context, f *Future, timeout time.Duration) (*domain.State, error) {
	if s := f.Final(); s != nil {
		return s, nil
	}
	return pollState(ctx, f.states, f.RunID, timeout, defaultPollInterval)
}

// Settings реализует TaskRunner.
func (r *Sequential) Settings() Settings {
	return Settings{Kind: KindSequential}
}
