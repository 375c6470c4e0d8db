package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Weaver/internal/domain"
	"github.com/shaiso/Weaver/internal/repo"
	"github.com/shaiso/Weaver/internal/repo/memory"
	"github.com/shaiso/Weaver/internal/taskrunner"
)

func newTestEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(Config{Store: store}), store
}

func taskRuns(t *testing.T, store *memory.Store, flowRunID uuid.UUID) []*domain.Run {
	t.Helper()
	runs, err := store.ListRuns(context.Background(), repo.RunFilter{
		Kind:      domain.RunKindTask,
		FlowRunID: &flowRunID,
	})
	require.NoError(t, err)
	return runs
}

func TestRunFlow_NoChildren(t *testing.T) {
	e, store := newTestEngine(t)
	flow := NewFlow("hello", func(ctx context.Context, p Params) (any, error) {
		return "hi " + p["name"].(string), nil
	})

	state, err := e.RunFlow(context.Background(), flow, Params{"name": "bob"})
	require.NoError(t, err)
	require.Equal(t, domain.StateCompleted, state.Type)

	result, err := state.Result(true)
	require.NoError(t, err)
	assert.Equal(t, "hi bob", result)

	run, err := store.ReadRun(context.Background(), state.Details.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.RunCount)
	assert.True(t, strings.HasPrefix(run.Name, "hello-"))

	states, err := store.ReadStates(context.Background(), run.ID)
	require.NoError(t, err)
	types := make([]domain.StateType, len(states))
	for i, s := range states {
		types[i] = s.Type
	}
	assert.Equal(t, []domain.StateType{domain.StatePending, domain.StateRunning, domain.StateCompleted}, types)
}

func TestRunFlow_TaskRetries(t *testing.T) {
	e, store := newTestEngine(t)

	var calls atomic.Int32
	flaky := NewTask("flaky", func(ctx context.Context, p Params) (any, error) {
		calls.Add(1)
		return nil, errors.New("always broken")
	}, WithRetries(2))

	flow := NewFlow("retrying", func(ctx context.Context, p Params) (any, error) {
		_, err := flaky.Submit(ctx, nil)
		return nil, err
	})

	state, err := e.RunFlow(context.Background(), flow, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, state.Type)
	assert.Equal(t, "1/1 states failed.", state.Message)
	assert.EqualValues(t, 3, calls.Load())

	runs := taskRuns(t, store, state.Details.RunID)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].RunCount)
	assert.Equal(t, domain.StateFailed, runs[0].StateType())
	assert.Contains(t, runs[0].State.Message, "always broken")
}

func TestRunFlow_RetrySucceeds(t *testing.T) {
	e, _ := newTestEngine(t)

	var calls atomic.Int32
	task := NewTask("eventually", func(ctx context.Context, p Params) (any, error) {
		if calls.Add(1) < 2 {
			return nil, errors.New("not yet")
		}
		return "done", nil
	}, WithRetries(3))

	flow := NewFlow("eventual", func(ctx context.Context, p Params) (any, error) {
		return task.Call(ctx, nil)
	})

	state, err := e.RunFlow(context.Background(), flow, nil)
	require.NoError(t, err)
	require.Equal(t, domain.StateCompleted, state.Type)
	result, err := state.Result(true)
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.EqualValues(t, 2, calls.Load())
}

func TestRunFlow_AggregatesChildren(t *testing.T) {
	e, _ := newTestEngine(t)

	task := NewTask("maybe", func(ctx context.Context, p Params) (any, error) {
		n := p["n"].(int)
		if n < 2 {
			return nil, fmt.Errorf("boom %d", n)
		}
		return "ok", nil
	})

	flow := NewFlow("mixed", func(ctx context.Context, p Params) (any, error) {
		for i := 0; i < 3; i++ {
			if _, err := task.Submit(ctx, Params{"n": i}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})

	state, err := e.RunFlow(context.Background(), flow, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, state.Type)
	assert.Equal(t, "2/3 states failed.", state.Message)

	data, err := state.Result(false)
	require.NoError(t, err)
	children, ok := data.([]*domain.State)
	require.True(t, ok, "data is %T", data)
	require.Len(t, children, 3)

	_, err = children[0].Result(true)
	assert.ErrorContains(t, err, "boom 0")
	_, err = children[1].Result(true)
	assert.ErrorContains(t, err, "boom 1")
	result, err := children[2].Result(true)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	_, err = state.Result(true)
	assert.ErrorContains(t, err, "boom 0")
}

func TestRunFlow_AllChildrenCompleted(t *testing.T) {
	e, _ := newTestEngine(t)
	task := NewTask("double", func(ctx context.Context, p Params) (any, error) {
		return p["n"].(int) * 2, nil
	})

	flow := NewFlow("doubles", func(ctx context.Context, p Params) (any, error) {
		for i := 0; i < 2; i++ {
			if _, err := task.Submit(ctx, Params{"n": i}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})

	state, err := e.RunFlow(context.Background(), flow, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, state.Type)
	assert.Equal(t, "All states completed.", state.Message)
}

func TestRunFlow_UpstreamNotReady(t *testing.T) {
	e, store := newTestEngine(t)

	fail := NewTask("fail", func(ctx context.Context, p Params) (any, error) {
		return nil, errors.New("upstream broke")
	})
	var downstreamCalls atomic.Int32
	downstream := NewTask("downstream", func(ctx context.Context, p Params) (any, error) {
		downstreamCalls.Add(1)
		return p["x"], nil
	})

	var upstreamID uuid.UUID
	flow := NewFlow("cascade", func(ctx context.Context, p Params) (any, error) {
		f, err := fail.Submit(ctx, nil)
		if err != nil {
			return nil, err
		}
		upstreamID = f.RunID
		_, err = downstream.Submit(ctx, Params{"x": f})
		return nil, err
	})

	state, err := e.RunFlow(context.Background(), flow, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, state.Type)
	assert.Equal(t, "1/2 states failed.", state.Message)
	assert.Zero(t, downstreamCalls.Load())

	var down *domain.Run
	for _, r := range taskRuns(t, store, state.Details.RunID) {
		if r.TaskKey == "downstream" {
			down = r
		}
	}
	require.NotNil(t, down)
	assert.True(t, down.State.IsNotReady())
	assert.Equal(t, 0, down.RunCount)
	assert.Contains(t, down.State.Message, upstreamID.String())
	assert.Equal(t, []domain.RunRef{{ID: upstreamID}}, down.TaskInputs["x"])
}

func TestRunFlow_WaitFor(t *testing.T) {
	e, store := newTestEngine(t)

	first := NewTask("first", func(ctx context.Context, p Params) (any, error) {
		return "a", nil
	})
	second := NewTask("second", func(ctx context.Context, p Params) (any, error) {
		return "b", nil
	})

	flow := NewFlow("ordered", func(ctx context.Context, p Params) (any, error) {
		f, err := first.Submit(ctx, nil)
		if err != nil {
			return nil, err
		}
		return second.Call(ctx, nil, f)
	})

	state, err := e.RunFlow(context.Background(), flow, nil)
	require.NoError(t, err)
	require.Equal(t, domain.StateCompleted, state.Type)

	for _, r := range taskRuns(t, store, state.Details.RunID) {
		if r.TaskKey == "second" {
			assert.Len(t, r.TaskInputs[waitForKey], 1)
		}
	}
}

func TestRunFlow_Cache(t *testing.T) {
	e, _ := newTestEngine(t)

	var calls atomic.Int32
	task := NewTask("expensive", func(ctx context.Context, p Params) (any, error) {
		calls.Add(1)
		return "value", nil
	}, WithCacheKeyFn(func(_ *TemplateData, p Params) string {
		return "expensive-" + p["key"].(string)
	}), WithCacheExpiration(time.Hour))

	var second *taskrunner.Future
	flow := NewFlow("cached", func(ctx context.Context, p Params) (any, error) {
		if _, err := task.Call(ctx, Params{"key": "a"}); err != nil {
			return nil, err
		}
		f, err := task.Submit(ctx, Params{"key": "a"})
		second = f
		return nil, err
	})

	state, err := e.RunFlow(context.Background(), flow, nil)
	require.NoError(t, err)
	require.Equal(t, domain.StateCompleted, state.Type)
	assert.EqualValues(t, 1, calls.Load())

	cached := second.Final()
	require.NotNil(t, cached)
	assert.Equal(t, domain.NameCached, cached.Name)
	assert.Equal(t, "expensive-a", cached.Details.CacheKey)

	result, err := second.Result(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "value", result)
}

func TestRunFlow_TaskTimeout(t *testing.T) {
	e, _ := newTestEngine(t)

	slow := NewTask("slow", func(ctx context.Context, p Params) (any, error) {
		select {
		case <-time.After(5 * time.Second):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, WithTimeout(50*time.Millisecond))

	var f *taskrunner.Future
	flow := NewFlow("impatient", func(ctx context.Context, p Params) (any, error) {
		var err error
		f, err = slow.Submit(ctx, nil)
		return nil, err
	})

	state, err := e.RunFlow(context.Background(), flow, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, state.Type)

	final := f.Final()
	require.NotNil(t, final)
	assert.Equal(t, domain.StateTimedOut, final.Type)
	assert.Equal(t, "Task run exceeded timeout of 0.05 seconds", final.Message)
}

func TestRunFlow_FlowTimeout(t *testing.T) {
	e, _ := newTestEngine(t)

	flow := NewFlow("slow-flow", func(ctx context.Context, p Params) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, WithTimeout(20*time.Millisecond))

	state, err := e.RunFlow(context.Background(), flow, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateTimedOut, state.Type)
	assert.Equal(t, "Flow run exceeded timeout of 0.02 seconds", state.Message)
}

func TestRunFlow_Panic(t *testing.T) {
	e, _ := newTestEngine(t)

	flow := NewFlow("panicky", func(ctx context.Context, p Params) (any, error) {
		panic("kaboom")
	}, WithRetries(2))

	state, err := e.RunFlow(context.Background(), flow, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCrashed, state.Type)
	assert.Contains(t, state.Message, "kaboom")

	run, err := e.Store().ReadRun(context.Background(), state.Details.RunID)
	require.NoError(t, err)
	assert.Equal(t, 1, run.RunCount)
}

func TestRunFlow_ParameterValidation(t *testing.T) {
	e, store := newTestEngine(t)

	var calls atomic.Int32
	flow := NewFlow("typed", func(ctx context.Context, p Params) (any, error) {
		calls.Add(1)
		return p["n"], nil
	}, WithInputs(map[string]domain.InputDef{
		"n": {Type: "integer", Required: true},
	}))

	state, err := e.RunFlow(context.Background(), flow, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, state.Type)
	assert.True(t, strings.HasPrefix(state.Message, "Validation of flow parameters failed with error:"))
	assert.Zero(t, calls.Load())

	run, err := store.ReadRun(context.Background(), state.Details.RunID)
	require.NoError(t, err)
	assert.Equal(t, 0, run.RunCount)

	state, err = e.RunFlow(context.Background(), flow, Params{"n": "7"})
	require.NoError(t, err)
	require.Equal(t, domain.StateCompleted, state.Type)
	result, err := state.Result(true)
	require.NoError(t, err)
	assert.Equal(t, 7, result)
}

func TestTaskSubmit_OutsideFlow(t *testing.T) {
	task := NewTask("lonely", func(ctx context.Context, p Params) (any, error) {
		return nil, nil
	})
	_, err := task.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoFlowRun)
}

func TestTaskSubmit_AsyncInSyncFlow(t *testing.T) {
	e, _ := newTestEngine(t)
	task := NewTask("async", func(ctx context.Context, p Params) (any, error) {
		return nil, nil
	}, Async())

	var submitErr error
	flow := NewFlow("sync", func(ctx context.Context, p Params) (any, error) {
		_, submitErr = task.Submit(ctx, nil)
		return nil, nil
	})

	_, err := e.RunFlow(context.Background(), flow, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, submitErr, ErrAsyncTaskInSyncFlow)
}

func TestRunFlow_ExplicitReturn(t *testing.T) {
	e, _ := newTestEngine(t)

	good := NewTask("ok", func(ctx context.Context, p Params) (any, error) {
		return "fine", nil
	})
	bad := NewTask("bad", func(ctx context.Context, p Params) (any, error) {
		return nil, errors.New("bad task")
	})

	t.Run("future", func(t *testing.T) {
		flow := NewFlow("returns-future", func(ctx context.Context, p Params) (any, error) {
			return good.Submit(ctx, nil)
		})
		state, err := e.RunFlow(context.Background(), flow, nil)
		require.NoError(t, err)
		require.Equal(t, domain.StateCompleted, state.Type)
		result, err := state.Result(true)
		require.NoError(t, err)
		assert.Equal(t, "fine", result)
	})

	t.Run("failed future", func(t *testing.T) {
		flow := NewFlow("returns-failure", func(ctx context.Context, p Params) (any, error) {
			return bad.Submit(ctx, nil)
		})
		state, err := e.RunFlow(context.Background(), flow, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.StateFailed, state.Type)
		assert.Equal(t, "1/1 states failed.", state.Message)
		_, err = state.Result(true)
		assert.ErrorContains(t, err, "bad task")
	})

	t.Run("subset of children", func(t *testing.T) {
		flow := NewFlow("returns-subset", func(ctx context.Context, p Params) (any, error) {
			if _, err := bad.Submit(ctx, nil); err != nil {
				return nil, err
			}
			return good.Submit(ctx, nil)
		})
		state, err := e.RunFlow(context.Background(), flow, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.StateCompleted, state.Type)
	})

	t.Run("mapping", func(t *testing.T) {
		flow := NewFlow("returns-map", func(ctx context.Context, p Params) (any, error) {
			a, err := good.Submit(ctx, nil)
			if err != nil {
				return nil, err
			}
			b, err := bad.Submit(ctx, nil)
			if err != nil {
				return nil, err
			}
			return map[string]any{"a": a, "b": b, "c": 3}, nil
		})
		state, err := e.RunFlow(context.Background(), flow, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.StateFailed, state.Type)
		assert.Equal(t, "1/2 states failed.", state.Message)

		data, err := state.Result(false)
		require.NoError(t, err)
		m, ok := data.(map[string]any)
		require.True(t, ok, "data is %T", data)
		assert.Equal(t, "fine", m["a"])
		assert.Equal(t, 3, m["c"])
		assert.ErrorContains(t, m["b"].(error), "bad task")
	})
}

func TestRunFlow_Subflow(t *testing.T) {
	e, store := newTestEngine(t)

	child := NewFlow("child", func(ctx context.Context, p Params) (any, error) {
		info, ok := FlowRunFrom(ctx)
		if !ok {
			return nil, errors.New("no flow run in context")
		}
		return fmt.Sprintf("%s:%s", p["x"], info.Name[:5]), nil
	})
	parent := NewFlow("parent", func(ctx context.Context, p Params) (any, error) {
		return child.Call(ctx, Params{"x": "value"})
	})

	state, err := e.RunFlow(context.Background(), parent, nil)
	require.NoError(t, err)
	require.Equal(t, domain.StateCompleted, state.Type)
	result, err := state.Result(true)
	require.NoError(t, err)
	assert.Equal(t, "value:child", result)

	runs := taskRuns(t, store, state.Details.RunID)
	require.Len(t, runs, 1)
	parentTaskRun := runs[0]
	assert.Equal(t, "child", parentTaskRun.TaskKey)
	assert.Equal(t, domain.StateCompleted, parentTaskRun.StateType())
	require.NotNil(t, parentTaskRun.State.Details.ChildFlowRunID)

	childRun, err := store.ReadRun(context.Background(), *parentTaskRun.State.Details.ChildFlowRunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunKindFlow, childRun.Kind)
	require.NotNil(t, childRun.ParentTaskRunID)
	assert.Equal(t, parentTaskRun.ID, *childRun.ParentTaskRunID)
	assert.Equal(t, domain.StateCompleted, childRun.StateType())
}

func TestRunFlow_FailedSubflow(t *testing.T) {
	e, _ := newTestEngine(t)

	child := NewFlow("broken-child", func(ctx context.Context, p Params) (any, error) {
		return nil, errors.New("child failed")
	})
	parent := NewFlow("parent-of-broken", func(ctx context.Context, p Params) (any, error) {
		_, _ = child.Call(ctx, nil)
		return nil, nil
	})

	state, err := e.RunFlow(context.Background(), parent, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, state.Type)
	assert.Equal(t, "1/1 states failed.", state.Message)
}

func TestRunExisting(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	flow := NewFlow("scheduled", func(ctx context.Context, p Params) (any, error) {
		return p["greeting"], nil
	})
	e.RegisterFlows(flow)

	record, err := store.ReadOrCreateFlow(ctx, "scheduled")
	require.NoError(t, err)
	run, err := store.CreateRun(ctx, &domain.Run{
		ID:         uuid.New(),
		Kind:       domain.RunKindFlow,
		Name:       "scheduled-run",
		FlowID:     record.ID,
		Parameters: map[string]any{"greeting": "morning"},
		State:      domain.Scheduled(domain.Now(), "Flow run scheduled"),
	})
	require.NoError(t, err)

	state, err := e.RunExisting(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateCompleted, state.Type)
	result, err := state.Result(true)
	require.NoError(t, err)
	assert.Equal(t, "morning", result)

	other, err := store.ReadOrCreateFlow(ctx, "unregistered")
	require.NoError(t, err)
	run, err = store.CreateRun(ctx, &domain.Run{
		ID:     uuid.New(),
		Kind:   domain.RunKindFlow,
		Name:   "unregistered-run",
		FlowID: other.ID,
		State:  domain.Pending(),
	})
	require.NoError(t, err)
	_, err = e.RunExisting(ctx, run.ID)
	assert.ErrorIs(t, err, ErrUnknownFlow)
}

func TestRunFlow_Distributed(t *testing.T) {
	e, store := newTestEngine(t)

	upper := NewTask("upper", func(ctx context.Context, p Params) (any, error) {
		if _, ok := TaskRunFrom(ctx); !ok {
			return nil, errors.New("no task run in context")
		}
		return strings.ToUpper(p["s"].(string)), nil
	})

	flow := NewFlow("distributed", func(ctx context.Context, p Params) (any, error) {
		a, err := upper.Submit(ctx, Params{"s": "hello"})
		if err != nil {
			return nil, err
		}
		b, err := upper.Submit(ctx, Params{"s": "world"}, a)
		if err != nil {
			return nil, err
		}
		return []any{a, b}, nil
	}, WithTaskRunner(func() taskrunner.TaskRunner {
		return taskrunner.NewDistributed(taskrunner.DistributedConfig{Workers: 2})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	state, err := e.RunFlow(ctx, flow, nil)
	require.NoError(t, err)
	require.Equal(t, domain.StateCompleted, state.Type, state.Message)
	assert.Equal(t, "All states completed.", state.Message)

	runs := taskRuns(t, store, state.Details.RunID)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, domain.StateCompleted, r.StateType())
	}
}

func TestRunFlow_DistributedWorkerWithoutHandler(t *testing.T) {
	e, store := newTestEngine(t)

	unknown := NewTask("unknown-on-worker", func(ctx context.Context, p Params) (any, error) {
		return "unreachable", nil
	})

	flow := NewFlow("missing-handler", func(ctx context.Context, p Params) (any, error) {
		_, err := unknown.Submit(ctx, nil)
		return nil, err
	}, WithTaskRunner(func() taskrunner.TaskRunner {
		return taskrunner.NewDistributed(taskrunner.DistributedConfig{
			Cluster: func(ctx context.Context, _ taskrunner.Env) (taskrunner.Cluster, error) {
				return taskrunner.NewLocalCluster(ctx, taskrunner.LocalClusterConfig{
					Workers: 1,
					Env: taskrunner.Env{
						Handlers: func(string) (taskrunner.Handler, bool) { return nil, false },
					},
				})
			},
		})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	state, err := e.RunFlow(ctx, flow, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, state.Type)
	assert.Equal(t, "1/1 states failed.", state.Message)

	runs := taskRuns(t, store, state.Details.RunID)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.StateCrashed, runs[0].StateType())
	assert.True(t, runs[0].State.IsFinal())
	assert.True(t, strings.HasPrefix(runs[0].State.Message, "Task run could not be executed"), runs[0].State.Message)
}

func TestRunFlow_CallerCancelled(t *testing.T) {
	e, store := newTestEngine(t)

	blocker := NewTask("blocker", func(ctx context.Context, p Params) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	flow := NewFlow("cancelled", func(ctx context.Context, p Params) (any, error) {
		return blocker.Call(ctx, nil)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	state, err := e.RunFlow(ctx, flow, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCrashed, state.Type)
	assert.Equal(t, "Execution was interrupted", state.Message)

	flowRun, err := store.ReadRun(context.Background(), state.Details.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCrashed, flowRun.StateType())

	require.Eventually(t, func() bool {
		runs := taskRuns(t, store, flowRun.ID)
		return len(runs) == 1 && runs[0].State.IsFinal()
	}, 5*time.Second, 10*time.Millisecond)

	runs := taskRuns(t, store, flowRun.ID)
	assert.Equal(t, domain.StateCrashed, runs[0].StateType())
	assert.Equal(t, "Execution was interrupted", runs[0].State.Message)
}

func TestRunFlow_ReturnsArrayOfFutures(t *testing.T) {
	e, _ := newTestEngine(t)

	task := NewTask("maybe", func(ctx context.Context, p Params) (any, error) {
		if p["fail"].(bool) {
			return nil, errors.New("array boom")
		}
		return "ok", nil
	})

	flow := NewFlow("array", func(ctx context.Context, p Params) (any, error) {
		a, err := task.Submit(ctx, Params{"fail": true})
		if err != nil {
			return nil, err
		}
		b, err := task.Submit(ctx, Params{"fail": false})
		if err != nil {
			return nil, err
		}
		return [2]any{a, b}, nil
	})

	state, err := e.RunFlow(context.Background(), flow, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, state.Type)
	assert.Equal(t, "1/2 states failed.", state.Message)

	data, err := state.Result(false)
	require.NoError(t, err)
	children, ok := data.([]*domain.State)
	require.True(t, ok, "data is %T", data)
	require.Len(t, children, 2)
	assert.Equal(t, domain.StateFailed, children[0].Type)
	assert.Equal(t, domain.StateCompleted, children[1].Type)
}
