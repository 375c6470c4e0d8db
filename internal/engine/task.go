package engine

import (
	"context"

	"github.com/shaiso/Weaver/internal/bridge"
	"github.com/shaiso/Weaver/internal/taskrunner"
)

// Task — зарегистрированная задача: имя, тело и политика выполнения.
// Создаётся один раз и используется для каждого вызова.
type Task struct {
	name string
	fn   Func
	opts options
}

// NewTask создаёт задачу.
func NewTask(name string, fn Func, opts ...Option) *Task {
	t := &Task{name: name, fn: fn, opts: defaultOptions()}
	for _, opt := range opts {
		opt(&t.opts)
	}
	return t
}

// Name возвращает имя задачи.
func (t *Task) Name() string { return t.name }

// Version возвращает версию задачи.
func (t *Task) Version() string { return t.opts.version }

// Submit создаёт task run в текущем flow run и отправляет его в task runner
// flow. Future в params и waitFor становятся upstream зависимостями.
//
// ctx тела нельзя передавать горутинам, которые тело запускает само: они
// унаследуют привязку к Loop. Для них нужен bridge.Detach(ctx).
func (t *Task) Submit(ctx context.Context, params Params, waitFor ...*taskrunner.Future) (*taskrunner.Future, error) {
	frc := flowRunFrom(ctx)
	if frc == nil {
		return nil, ErrNoFlowRun
	}
	if frc.isTimedOut() {
		return nil, ErrFlowRunTimedOut
	}
	if t.opts.async && !frc.flow.opts.async {
		return nil, ErrAsyncTaskInSyncFlow
	}

	return bridge.Call(ctx, func(ctx context.Context) (*taskrunner.Future, error) {
		return frc.engine.submitTask(ctx, frc, t, params, waitFor)
	})
}

// Call отправляет задачу и ждёт её результата.
// Ошибка неуспешного task run возвращается как error.
func (t *Task) Call(ctx context.Context, params Params, waitFor ...*taskrunner.Future) (any, error) {
	f, err := t.Submit(ctx, params, waitFor...)
	if err != nil {
		return nil, err
	}
	return f.Result(ctx, true)
}
