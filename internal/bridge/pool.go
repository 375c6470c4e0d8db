package bridge

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"
)

const defaultPoolSize = 40

// Pool — ограниченный пул горутин для блокирующих тел.
type Pool struct {
	sem chan struct{}
}

// NewPool создаёт пул на size одновременных вызовов (default: 40).
func NewPool(size int) *Pool {
	if size <= 0 {
		size = defaultPoolSize
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Size возвращает ёмкость пула.
func (p *Pool) Size() int {
	return cap(p.sem)
}

// RunSync выполняет блокирующую fn в пуле и ждёт результата.
//
// Горутина пула получает ctx с обратной ссылкой на Loop вызывающего
// (если он есть), поэтому fn может делать вызовы через Call. Если ctx
// отменён раньше, RunSync возвращает ctx.Err(), а fn продолжает работу
// в фоне: прервать горутину невозможно.
//
// Паника в fn возвращается как *PanicError.
func RunSync[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	workerCtx := ctx
	if kind, loop := Detect(ctx); kind != ContextNone {
		workerCtx = bindWorker(ctx, loop)
	}

	var (
		out  T
		err  error
		done = make(chan struct{})
	)

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r, Stack: string(debug.Stack())}
			}
		}()

		select {
		case p.sem <- struct{}{}:
		case <-workerCtx.Done():
			err = workerCtx.Err()
			return
		}
		defer func() { <-p.sem }()

		out, err = fn(workerCtx)
	}()

	if werr := Wait(ctx, done); werr != nil {
		var zero T
		return zero, werr
	}
	return out, err
}

// PanicError — паника в горутине пула.
type PanicError struct {
	Value any
	Stack string
}

// Error реализует интерфейс error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Wait ждёт закрытия done. На горутине Loop ожидание идёт через Await,
// в остальных контекстах — обычным select.
func Wait(ctx context.Context, done <-chan struct{}) error {
	if kind, loop := Detect(ctx); kind == ContextLoop {
		return loop.Await(ctx, done)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimeout ждёт done не дольше timeout (timeout <= 0 — без ограничения).
// Возвращает false без ошибки, если время вышло, а ctx ещё активен.
func WaitTimeout(ctx context.Context, done <-chan struct{}, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		if err := Wait(ctx, done); err != nil {
			return false, err
		}
		return true, nil
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := Wait(tctx, done)
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	default:
		return false, nil
	}
}
