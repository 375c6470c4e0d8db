package bridge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect_NoLoop(t *testing.T) {
	kind, loop := Detect(context.Background())
	assert.Equal(t, ContextNone, kind)
	assert.Nil(t, loop)
}

func TestCall_NoContextCreatesThrowawayLoop(t *testing.T) {
	var loops []*Loop
	for i := 0; i < 2; i++ {
		_, err := Call(context.Background(), func(ctx context.Context) (struct{}, error) {
			kind, loop := Detect(ctx)
			assert.Equal(t, ContextLoop, kind)
			loops = append(loops, loop)
			return struct{}{}, nil
		})
		require.NoError(t, err)
	}

	require.Len(t, loops, 2)
	assert.NotSame(t, loops[0], loops[1])
	assert.False(t, loops[0].Running())
	assert.False(t, loops[1].Running())
}

func TestCall_OnLoopRunsInline(t *testing.T) {
	_, err := Run(context.Background(), func(ctx context.Context) (int, error) {
		_, outer := Detect(ctx)
		return Call(ctx, func(ctx context.Context) (int, error) {
			kind, inner := Detect(ctx)
			assert.Equal(t, ContextLoop, kind)
			assert.Same(t, outer, inner)
			return 1, nil
		})
	})
	require.NoError(t, err)
}

func TestRun_RejectsNestedLoop(t *testing.T) {
	_, err := Run(context.Background(), func(ctx context.Context) (int, error) {
		return Run(ctx, func(context.Context) (int, error) { return 0, nil })
	})
	assert.ErrorIs(t, err, ErrLoopAlreadyRunning)
}

func TestCall_FromWorkerHopsToLoop(t *testing.T) {
	pool := NewPool(2)

	got, err := Run(context.Background(), func(ctx context.Context) (string, error) {
		_, owner := Detect(ctx)

		return RunSync(ctx, pool, func(wctx context.Context) (string, error) {
			kind, loop := Detect(wctx)
			assert.Equal(t, ContextWorker, kind)
			assert.Same(t, owner, loop)

			return Call(wctx, func(lctx context.Context) (string, error) {
				kind, loop := Detect(lctx)
				assert.Equal(t, ContextLoop, kind)
				assert.Same(t, owner, loop)
				return "from-loop", nil
			})
		})
	})
	require.NoError(t, err)
	assert.Equal(t, "from-loop", got)
}

func TestCall_WorkerPropagatesErrors(t *testing.T) {
	pool := NewPool(1)
	boom := errors.New("boom")

	_, err := Run(context.Background(), func(ctx context.Context) (int, error) {
		return RunSync(ctx, pool, func(wctx context.Context) (int, error) {
			return Call(wctx, func(context.Context) (int, error) { return 0, boom })
		})
	})
	assert.ErrorIs(t, err, boom)
}

func TestSubmit_ClosedLoopFailsFast(t *testing.T) {
	loop := NewLoop()
	err := loop.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLoopNotRunning)

	var leaked *Loop
	_, _ = Run(context.Background(), func(ctx context.Context) (int, error) {
		_, leaked = Detect(ctx)
		return 0, nil
	})
	err = leaked.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLoopNotRunning)
}

func TestAwait_OutsideLoop(t *testing.T) {
	loop := NewLoop()
	require.NoError(t, loop.start())
	defer loop.close(context.Background())

	err := loop.Await(context.Background(), make(chan struct{}))
	assert.ErrorIs(t, err, ErrNotOnLoop)
}

func TestRunSync_TimeoutDoesNotStopWorker(t *testing.T) {
	pool := NewPool(1)
	var finished atomic.Bool
	release := make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := RunSync(ctx, pool, func(context.Context) (int, error) {
		<-release
		finished.Store(true)
		return 1, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, finished.Load())

	close(release)
	assert.Eventually(t, finished.Load, time.Second, 5*time.Millisecond)
}

func TestRunSync_RecoversPanics(t *testing.T) {
	_, err := RunSync(context.Background(), NewPool(1), func(context.Context) (int, error) {
		panic("kaboom")
	})
	var p *PanicError
	require.ErrorAs(t, err, &p)
	assert.Equal(t, "kaboom", p.Value)
	assert.NotEmpty(t, p.Stack)
}

func TestWaitTimeout(t *testing.T) {
	done := make(chan struct{})

	ok, err := WaitTimeout(context.Background(), done, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	close(done)
	ok, err = WaitTimeout(context.Background(), done, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoop_OnCloseHooksRunInOrder(t *testing.T) {
	var order []string
	_, err := Run(context.Background(), func(ctx context.Context) (int, error) {
		_, loop := Detect(ctx)
		require.NoError(t, loop.OnClose("a", func(context.Context) error { order = append(order, "a"); return nil }))
		require.NoError(t, loop.OnClose("b", func(context.Context) error { order = append(order, "b"); return nil }))
		return 0, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestDetach_SpawnedGoroutineLeavesLoop(t *testing.T) {
	_, err := Run(context.Background(), func(ctx context.Context) (struct{}, error) {
		_, owner := Detect(ctx)

		done := make(chan struct{})
		var (
			kind  Kind
			bound *Loop
			inner *Loop
			cerr  error
		)
		go func() {
			defer close(done)
			dctx := Detach(ctx)
			kind, bound = Detect(dctx)
			_, cerr = Call(dctx, func(ctx context.Context) (struct{}, error) {
				_, inner = Detect(ctx)
				return struct{}{}, nil
			})
		}()
		<-done

		assert.Equal(t, ContextNone, kind)
		assert.Nil(t, bound)
		require.NoError(t, cerr)
		assert.NotSame(t, owner, inner)
		assert.ErrorIs(t, owner.Await(Detach(ctx), make(chan struct{})), ErrNotOnLoop)
		return struct{}{}, nil
	})
	require.NoError(t, err)
}
