package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/shaiso/Weaver/internal/bridge"
	"github.com/shaiso/Weaver/internal/domain"
	"github.com/shaiso/Weaver/internal/repo"
	"github.com/shaiso/Weaver/internal/telemetry"
)

// runCtl ведёт состояние одного run через Record Store.
type runCtl struct {
	engine *Engine
	run    *domain.Run
	logger *slog.Logger
}

// propose добавляет состояние run и возвращает сохранённую версию.
//
// Если Record Store отклонил переход (run уже изменён извне), возвращается
// текущее состояние run и ok=false.
func (c *runCtl) propose(ctx context.Context, s *domain.State) (*domain.State, bool, error) {
	ctx = context.WithoutCancel(ctx)

	if cur := c.run.State; cur != nil && !s.Timestamp.After(cur.Timestamp) {
		adjusted := *s
		adjusted.Timestamp = domain.NextTimestamp(cur)
		s = &adjusted
	}

	encoded, err := s.Encode(ctx, c.engine.results, c.engine.format)
	if err != nil {
		// данные не сериализуются: сохраняем состояние с ошибкой вместо них
		c.logger.Warn("failed to encode state data", "state", s.String(), "error", err)
		encoded = domain.Failed(fmt.Sprintf("Run result could not be stored: %v", err), err)
		encoded.Timestamp = s.Timestamp
		if encoded, err = encoded.Encode(ctx, c.engine.results, c.engine.format); err != nil {
			return nil, false, err
		}
	}

	updated, err := c.engine.store.AppendState(ctx, c.run.ID, encoded)
	if errors.Is(err, repo.ErrInvalidState) {
		c.logger.Warn("state rejected by record store",
			"state", encoded.String(),
			"error", err,
		)
		current, rerr := c.engine.store.ReadRun(ctx, c.run.ID)
		if rerr != nil {
			return nil, false, rerr
		}
		c.run = current
		return current.State, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("append state to run %s: %w", c.run.ID, err)
	}

	c.run = updated
	c.logger.Debug("run state changed", "state", updated.State.String())
	return updated.State, true, nil
}

// attempt выполняет тело один раз и возвращает предлагаемое финальное
// состояние.
type attempt func(ctx context.Context) *domain.State

// runAttempts переводит run в RUNNING и выполняет попытки, пока тело не
// завершится или не кончатся повторы. Повторяются FAILED и TIMED_OUT.
func (c *runCtl) runAttempts(ctx context.Context, policy domain.RunPolicy, try attempt) (*domain.State, error) {
	kind := string(c.run.Kind)

	for n := 1; ; n++ {
		running, ok, err := c.propose(ctx, domain.Running())
		if err != nil {
			return nil, err
		}
		if !ok {
			return running, nil
		}
		telemetry.RunAttemptsTotal.WithLabelValues(kind).Inc()

		final := try(ctx)

		retryable := final.Type == domain.StateFailed || final.Type == domain.StateTimedOut
		if !retryable || n > policy.MaxRetries || ctx.Err() != nil {
			return final, nil
		}

		c.logger.Warn("run attempt failed, retrying",
			"attempt", n,
			"max_retries", policy.MaxRetries,
			"state", final.String(),
			"message", final.Message,
		)
		telemetry.RunRetriesTotal.WithLabelValues(kind).Inc()

		msg := fmt.Sprintf("Retry %d/%d: %s", n, policy.MaxRetries, final.Message)
		retry := domain.AwaitingRetry(domain.Now().Add(policy.RetryDelay), msg)
		if _, ok, err := c.propose(ctx, retry); err != nil || !ok {
			if err != nil {
				return nil, err
			}
			return c.run.State, nil
		}

		if policy.RetryDelay > 0 {
			if err := sleep(ctx, policy.RetryDelay); err != nil {
				return domain.Crashed("Execution was interrupted", ErrInterrupted), nil
			}
		}
	}
}

// finish записывает финальное состояние и обновляет метрики.
func (c *runCtl) finish(ctx context.Context, s *domain.State) (*domain.State, error) {
	if c.run.State.IsFinal() {
		return c.run.State, nil
	}
	final, _, err := c.propose(ctx, s)
	if err != nil {
		return nil, err
	}
	if final.Type.IsTerminal() {
		telemetry.RecordFinished(c.run)
	}
	return final, nil
}

// invoke выполняет тело через Concurrency Bridge.
//
// Асинхронное тело выполняется на текущей горутине и прерывается отменой
// ctx. Синхронное выполняется в пуле: по timeout Engine перестаёт ждать,
// но горутина тела продолжает работу до конца.
func (e *Engine) invoke(ctx context.Context, async bool, timeout time.Duration, fn Func, params Params) (any, error) {
	body := func(ctx context.Context) (out any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &domain.PanicError{Value: r, Stack: string(debug.Stack())}
			}
		}()
		return fn(ctx, params)
	}

	bctx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		bctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	var (
		out any
		err error
	)
	if async {
		out, err = body(bctx)
	} else {
		out, err = bridge.RunSync(bctx, e.pool, body)
	}
	if err == nil {
		return out, nil
	}

	switch {
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	case timeout > 0 && errors.Is(bctx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("%w after %s", ErrRunTimeout, timeout)
	}
	return out, err
}

// outcome переводит ошибку тела в финальное состояние.
func outcome(kind domain.RunKind, timeout time.Duration, err error) *domain.State {
	label := "Task run"
	if kind == domain.RunKindFlow {
		label = "Flow run"
	}

	var panicErr *domain.PanicError
	switch {
	case errors.Is(err, ErrRunTimeout):
		return domain.TimedOut(
			fmt.Sprintf("%s exceeded timeout of %s seconds", label, formatSeconds(timeout)), err)
	case errors.Is(err, ErrInterrupted):
		return domain.Crashed("Execution was interrupted", err)
	case errors.As(err, &panicErr):
		return domain.Crashed(fmt.Sprintf("%s crashed: %v", label, err), err)
	default:
		return domain.Failed(fmt.Sprintf("%s encountered an exception: %v", label, err), err)
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// sleep ждёт d, не блокируя Loop.
func sleep(ctx context.Context, d time.Duration) error {
	_, err := bridge.WaitTimeout(ctx, make(chan struct{}), d)
	return err
}
