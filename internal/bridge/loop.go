package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/shaiso/Weaver/internal/lifecycle"
)

// Ошибки bridge.
var (
	// ErrLoopNotRunning — Loop ещё не запущен или уже закрыт.
	ErrLoopNotRunning = errors.New("bridge: loop is not running")

	// ErrLoopClosed — Loop закрылся до выполнения вызова.
	ErrLoopClosed = errors.New("bridge: loop closed before call completed")

	// ErrLoopAlreadyRunning — на этой горутине уже активен Loop.
	ErrLoopAlreadyRunning = errors.New("bridge: a loop is already running in this context")

	// ErrNotOnLoop — Await вызван не на горутине этого Loop.
	ErrNotOnLoop = errors.New("bridge: await called outside of the owning loop")
)

const (
	loopNew int32 = iota
	loopRunning
	loopClosed
)

// call — вычисление, переданное в Loop из горутины пула.
type call struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	err  error
	done chan struct{}
}

// Loop — кооперативный цикл оркестрации.
//
// Loop не имеет собственной горутины: им владеет горутина, вызвавшая Run.
// Вызовы от горутин пула выполняются, когда владелец ждёт в Await.
type Loop struct {
	state  atomic.Int32
	queue  chan *call
	closed chan struct{}

	hooks *lifecycle.Manager
}

// NewLoop создаёт незапущенный Loop.
func NewLoop() *Loop {
	return &Loop{
		queue:  make(chan *call),
		closed: make(chan struct{}),
		hooks:  lifecycle.New(slog.Default()),
	}
}

// Running возвращает true, пока Loop активен.
func (l *Loop) Running() bool {
	return l.state.Load() == loopRunning
}

// OnClose регистрирует callback, вызываемый при закрытии Loop
// (в порядке регистрации).
func (l *Loop) OnClose(name string, fn lifecycle.Hook) error {
	return l.hooks.Register(name, fn)
}

// start переводит Loop в активное состояние.
func (l *Loop) start() error {
	if !l.state.CompareAndSwap(loopNew, loopRunning) {
		return ErrLoopAlreadyRunning
	}
	return nil
}

// close закрывает Loop: новые вызовы отклоняются, ожидающие получают ErrLoopClosed.
func (l *Loop) close(ctx context.Context) error {
	if !l.state.CompareAndSwap(loopRunning, loopClosed) {
		return nil
	}
	close(l.closed)
	return l.hooks.Shutdown(context.WithoutCancel(ctx))
}

// Submit выполняет fn на Loop и ждёт результата.
//
// Вызывается из горутины пула. Если вызывающий уже на горутине этого
// Loop, fn выполняется сразу. Незапущенный или закрытый Loop отклоняет
// вызов немедленно.
func (l *Loop) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	if kind, bound := Detect(ctx); kind == ContextLoop && bound == l {
		return fn(ctx)
	}
	if !l.Running() {
		return ErrLoopNotRunning
	}

	c := &call{ctx: ctx, fn: fn, done: make(chan struct{})}

	select {
	case l.queue <- c:
	case <-l.closed:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-c.done:
		return c.err
	case <-l.closed:
		// Loop мог закрыться уже после выполнения вызова.
		select {
		case <-c.done:
			return c.err
		default:
			return ErrLoopClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Await ждёт закрытия done или отмены ctx, выполняя вызовы из очереди.
// Должен вызываться только на горутине Loop.
func (l *Loop) Await(ctx context.Context, done <-chan struct{}) error {
	if kind, bound := Detect(ctx); kind != ContextLoop || bound != l {
		return ErrNotOnLoop
	}
	for {
		select {
		case <-done:
			return nil
		default:
		}

		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case c := <-l.queue:
			l.execute(c)
		}
	}
}

// execute выполняет вызов на горутине Loop.
func (l *Loop) execute(c *call) {
	defer func() {
		if r := recover(); r != nil {
			c.err = fmt.Errorf("bridge: panic in loop call: %v", r)
		}
		close(c.done)
	}()

	c.err = c.fn(bindLoop(c.ctx, l))
}

// Run создаёт новый Loop на текущей горутине, выполняет fn и закрывает Loop.
//
// Каждый вызов создаёт свой Loop; Loop не переиспользуется.
// Если ctx уже принадлежит активному Loop, возвращает ErrLoopAlreadyRunning.
func Run[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if kind, _ := Detect(ctx); kind == ContextLoop {
		return zero, ErrLoopAlreadyRunning
	}

	l := NewLoop()
	if err := l.start(); err != nil {
		return zero, err
	}

	out, err := fn(bindLoop(ctx, l))
	if cerr := l.close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return out, err
}

// Call выполняет fn по правилу своего контекста (см. описание пакета).
func Call[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	kind, loop := Detect(ctx)
	switch kind {
	case ContextLoop:
		return fn(ctx)
	case ContextWorker:
		var out T
		err := loop.Submit(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx)
			return err
		})
		if err != nil {
			var zero T
			return zero, err
		}
		return out, nil
	default:
		return Run(ctx, fn)
	}
}
