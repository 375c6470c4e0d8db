package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/Weaver/internal/domain"
	"github.com/shaiso/Weaver/internal/repo"
	"github.com/shaiso/Weaver/internal/taskrunner"
	"github.com/shaiso/Weaver/internal/telemetry"
)

// waitForKey — ключ task_inputs для явных зависимостей wait_for.
const waitForKey = "wait_for"

// submitTask создаёт task run и отправляет его в runner flow run.
func (e *Engine) submitTask(ctx context.Context, frc *flowRunContext, t *Task, params Params, waitFor []*taskrunner.Future) (*taskrunner.Future, error) {
	e.RegisterTasks(t)

	run, err := e.createTaskRun(ctx, frc, t.name, t.opts, params, waitFor)
	if err != nil {
		return nil, err
	}

	wait := make([]any, len(waitFor))
	for i, f := range waitFor {
		wait[i] = f
	}

	call := taskrunner.Call{
		Handler: TaskRunHandler,
		Kwargs: map[string]any{
			"task":        t.name,
			"task_run_id": run.ID.String(),
			"parameters":  params,
			"wait_for":    wait,
		},
		Fn: func(ctx context.Context) (*domain.State, error) {
			return e.orchestrateTask(ctx, t, run, params, waitFor)
		},
		Asynchronous: t.opts.async,
	}

	f, err := frc.runner.Submit(ctx, run, call)
	if err != nil {
		return nil, fmt.Errorf("submit task run %s: %w", run.ID, err)
	}
	frc.addChild(f)
	return f, nil
}

// createTaskRun создаёт task run в состоянии PENDING.
func (e *Engine) createTaskRun(ctx context.Context, frc *flowRunContext, name string, opts options, params Params, waitFor []*taskrunner.Future) (*domain.Run, error) {
	flowRunID := frc.run.ID
	dynamicKey := frc.nextDynamicKey(name)

	run := &domain.Run{
		ID:         uuid.New(),
		Kind:       domain.RunKindTask,
		Name:       name + "-" + dynamicKey,
		FlowRunID:  &flowRunID,
		TaskKey:    name,
		DynamicKey: dynamicKey,
		Tags:       opts.tags,
		Policy:     opts.policy(),
		TaskInputs: taskInputs(params, waitFor),
		State:      domain.Pending(),
	}

	created, err := e.store.CreateRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("create task run: %w", err)
	}
	return created, nil
}

// taskInputs собирает upstream runs из Future в параметрах.
func taskInputs(params Params, waitFor []*taskrunner.Future) map[string][]domain.RunRef {
	inputs := make(map[string][]domain.RunRef)
	for name, v := range params {
		refs := []domain.RunRef{}
		for _, f := range taskrunner.CollectFutures(v) {
			refs = append(refs, domain.RunRef{ID: f.RunID})
		}
		inputs[name] = refs
	}
	if len(waitFor) > 0 {
		refs := make([]domain.RunRef, len(waitFor))
		for i, f := range waitFor {
			refs[i] = domain.RunRef{ID: f.RunID}
		}
		inputs[waitForKey] = refs
	}
	return inputs
}

// handleTaskRun — обработчик work item TaskRunHandler на воркере.
func (e *Engine) handleTaskRun(ctx context.Context, kwargs map[string]any) (*domain.State, error) {
	name, _ := kwargs["task"].(string)
	t, ok := e.task(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}

	idStr, _ := kwargs["task_run_id"].(string)
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid task run id %q: %w", idStr, err)
	}
	run, err := e.store.ReadRun(ctx, id)
	if err != nil {
		return nil, err
	}

	params, _ := kwargs["parameters"].(map[string]any)
	waitFor := taskrunner.CollectFutures(kwargs["wait_for"])

	return e.orchestrateTask(ctx, t, run, params, waitFor)
}

// orchestrateTask ведёт task run: зависимости, кэш, попытки, финал.
func (e *Engine) orchestrateTask(ctx context.Context, t *Task, run *domain.Run, params Params, waitFor []*taskrunner.Future) (*domain.State, error) {
	info := runInfo(run)
	logger := telemetry.WithTaskRun(e.logger, info.FlowRunID, run.ID)
	ctx = telemetry.WithLogger(ctx, logger)

	ctx, span := telemetry.StartRunSpan(ctx, e.tracer, domain.RunKindTask, run.ID, run.Name)
	c := &runCtl{engine: e, run: run, logger: logger}

	final, err := e.taskStates(ctx, c, t, params, waitFor)
	telemetry.EndRunSpan(span, final)
	if err != nil {
		return nil, err
	}

	logger.Info("task run finished", "state", final.String())
	return final, nil
}

func (e *Engine) taskStates(ctx context.Context, c *runCtl, t *Task, params Params, waitFor []*taskrunner.Future) (*domain.State, error) {
	// Зависимости: все upstream должны быть COMPLETED.
	upstream, err := waitUpstream(ctx, params, waitFor)
	if err != nil {
		return c.finish(ctx, domain.Crashed("Execution was interrupted", err))
	}
	for _, u := range upstream {
		if !u.state.IsCompleted() {
			notReady := &UpstreamNotReadyError{UpstreamID: u.runID}
			c.logger.Info("upstream not ready", "upstream_run_id", u.runID, "upstream_state", u.state.String())
			return c.finish(ctx, domain.NotReady(notReady.Error()))
		}
	}

	resolved, err := taskrunner.ResolveToData(ctx, params)
	if err != nil {
		return c.finish(ctx, domain.Failed(fmt.Sprintf("Failed to resolve task inputs: %v", err), err))
	}
	data, _ := resolved.(map[string]any)

	// Кэш.
	tmpl := NewTemplateData(data)
	tmpl.Task = t.name
	if flowRunID := c.run.FlowRunID; flowRunID != nil {
		tmpl.FlowRun = RunInfo{ID: *flowRunID}
	}
	key, err := t.cacheKey(tmpl, data)
	if err != nil {
		return c.finish(ctx, domain.Failed(fmt.Sprintf("Failed to compute cache key: %v", err), err))
	}
	if key != "" {
		cached, err := e.store.FindCachedState(ctx, key, domain.Now())
		switch {
		case err == nil:
			telemetry.CacheHitsTotal.Inc()
			c.logger.Info("cache hit", "cache_key", key)
			hit := cached.Clone()
			hit.Name = domain.NameCached
			hit.Details = domain.StateDetails{
				CacheKey:        key,
				CacheExpiration: cached.Details.CacheExpiration,
			}
			return c.finish(ctx, hit)
		case !errors.Is(err, repo.ErrNotFound):
			return nil, err
		}
	}

	// Попытки.
	body := func(ctx context.Context) *domain.State {
		bodyCtx := withFlowRun(ctx, nil)
		bodyCtx = withTaskRun(bodyCtx, runInfo(c.run))

		out, err := e.invoke(bodyCtx, t.opts.async, t.opts.timeout, t.fn, data)
		if err != nil {
			return outcome(domain.RunKindTask, t.opts.timeout, err)
		}
		s := domain.Completed(out, "")
		if key != "" {
			s.Details.CacheKey = key
			if t.opts.cacheExpiration > 0 {
				exp := domain.Now().Add(t.opts.cacheExpiration)
				s.Details.CacheExpiration = &exp
			}
		}
		return s
	}

	final, err := c.runAttempts(ctx, t.opts.policy(), body)
	if err != nil {
		return nil, err
	}
	return c.finish(ctx, final)
}

type upstreamState struct {
	runID uuid.UUID
	state *domain.State
}

// waitUpstream ждёт финальных состояний всех Future в параметрах и wait_for.
func waitUpstream(ctx context.Context, params Params, waitFor []*taskrunner.Future) ([]upstreamState, error) {
	futures := taskrunner.CollectFutures(params)
	futures = append(futures, waitFor...)

	out := make([]upstreamState, 0, len(futures))
	for _, f := range futures {
		s, err := f.Wait(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("wait upstream %s: %w", f.RunID, err)
		}
		out = append(out, upstreamState{runID: f.RunID, state: s})
	}
	return out, nil
}
