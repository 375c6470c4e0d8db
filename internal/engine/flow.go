package engine

import (
	"context"

	"github.com/shaiso/Weaver/internal/domain"
	"github.com/shaiso/Weaver/internal/taskrunner"
)

// Flow — зарегистрированный flow: имя, тело, параметры и task runner.
type Flow struct {
	name string
	fn   Func
	opts options
}

// NewFlow создаёт flow.
func NewFlow(name string, fn Func, opts ...Option) *Flow {
	f := &Flow{name: name, fn: fn, opts: defaultOptions()}
	for _, opt := range opts {
		opt(&f.opts)
	}
	return f
}

// Name возвращает имя flow.
func (f *Flow) Name() string { return f.name }

// Version возвращает версию flow.
func (f *Flow) Version() string { return f.opts.version }

// Description возвращает описание flow.
func (f *Flow) Description() string { return f.opts.description }

// Inputs возвращает объявленные параметры flow.
func (f *Flow) Inputs() map[string]domain.InputDef { return f.opts.inputs }

func (f *Flow) newRunner() taskrunner.TaskRunner {
	if f.opts.runner != nil {
		return f.opts.runner()
	}
	return taskrunner.NewSequential()
}

// Call запускает flow как subflow текущего flow run и возвращает результат.
func (f *Flow) Call(ctx context.Context, params Params) (any, error) {
	frc := flowRunFrom(ctx)
	if frc == nil {
		return nil, ErrNoFlowRun
	}
	s, err := frc.engine.RunFlow(ctx, f, params)
	if err != nil {
		return nil, err
	}
	if s, err = s.Hydrate(ctx, frc.engine.results); err != nil {
		return nil, err
	}
	return s.Result(true)
}
