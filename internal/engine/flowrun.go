package engine

import (
	"context"
	"fmt"
	"reflect"

	"github.com/shaiso/Weaver/internal/collections"
	"github.com/shaiso/Weaver/internal/domain"
	"github.com/shaiso/Weaver/internal/taskrunner"
	"github.com/shaiso/Weaver/internal/telemetry"
)

// orchestrateFlow ведёт flow run от PENDING до финального состояния.
func (e *Engine) orchestrateFlow(ctx context.Context, flow *Flow, run *domain.Run, params Params) (*domain.State, error) {
	logger := telemetry.WithFlowRun(e.logger, run.ID)
	if run.DeploymentID != nil {
		logger = telemetry.WithDeploymentID(logger, *run.DeploymentID)
	}
	ctx = telemetry.WithLogger(ctx, logger)

	ctx, span := telemetry.StartRunSpan(ctx, e.tracer, domain.RunKindFlow, run.ID, run.Name)
	c := &runCtl{engine: e, run: run, logger: logger}

	logger.Info("flow run started", "flow", flow.name)
	final, err := e.flowStates(ctx, c, flow, params)
	telemetry.EndRunSpan(span, final)
	if err != nil {
		return nil, err
	}

	logger.Info("flow run finished", "flow", flow.name, "state", final.String(), "message", final.Message)
	return final, nil
}

func (e *Engine) flowStates(ctx context.Context, c *runCtl, flow *Flow, params Params) (*domain.State, error) {
	if flow.opts.validate {
		validated, err := ValidateParameters(flow.opts.inputs, params)
		if err != nil {
			msg := fmt.Sprintf("Validation of flow parameters failed with error: %v", err)
			return c.finish(ctx, domain.Failed(msg, err))
		}
		params = validated
	}

	runner := flow.newRunner()
	env := e.Env()
	env.Logger = c.logger

	release, err := runner.Start(ctx, env)
	if err != nil {
		c.logger.Error("task runner failed to start", "error", err)
		return c.finish(ctx, domain.Failed(fmt.Sprintf("Task runner failed to start: %v", err), err))
	}

	frc := newFlowRunContext(e, flow, c.run, runner, env)

	final, err := c.runAttempts(ctx, flow.opts.policy(), func(ctx context.Context) *domain.State {
		return e.flowAttempt(ctx, c, frc, params)
	})

	if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
		c.logger.Warn("failed to release task runner", "error", rerr)
	}
	if err != nil {
		return nil, err
	}
	return c.finish(ctx, final)
}

// flowAttempt выполняет тело flow один раз и сводит результат в состояние.
// Все дочерние runs дожидаются до возврата.
func (e *Engine) flowAttempt(ctx context.Context, c *runCtl, frc *flowRunContext, params Params) *domain.State {
	flow := frc.flow
	frc.run = c.run

	out, err := e.invoke(withFlowRun(ctx, frc), flow.opts.async, flow.opts.timeout, flow.fn, params)
	if err != nil {
		final := outcome(domain.RunKindFlow, flow.opts.timeout, err)
		if final.Type == domain.StateTimedOut {
			frc.timedOut.Store(true)
		}
		e.waitChildren(ctx, c, frc.takeChildren())
		return final
	}

	children := e.waitChildren(ctx, c, frc.takeChildren())

	if out != nil {
		final, err := e.returnValueState(ctx, out)
		if err != nil {
			return domain.Failed(fmt.Sprintf("Failed to resolve flow result: %v", err), err)
		}
		return final
	}
	return aggregateStates(children)
}

// waitChildren ждёт финальных состояний всех дочерних runs в порядке вызова.
func (e *Engine) waitChildren(ctx context.Context, c *runCtl, children []*taskrunner.Future) []*domain.State {
	states := make([]*domain.State, 0, len(children))
	for _, f := range children {
		s, err := f.Wait(ctx, 0)
		if err != nil {
			c.logger.Warn("failed to wait for child run", "child_run_id", f.RunID, "error", err)
			s = e.abandonChild(ctx, c, f, err)
		}
		states = append(states, s)
	}
	return states
}

// abandonChild фиксирует финальное состояние дочернего run, результата
// которого уже не будет. При отмене ctx run остаётся как есть: task runner
// ещё может его завершить.
func (e *Engine) abandonChild(ctx context.Context, c *runCtl, f *taskrunner.Future, cause error) *domain.State {
	if ctx.Err() != nil {
		return domain.Crashed("Execution was interrupted", cause)
	}

	ctx = context.WithoutCancel(ctx)
	child, err := e.store.ReadRun(ctx, f.RunID)
	if err != nil {
		c.logger.Warn("failed to read child run", "child_run_id", f.RunID, "error", err)
		return domain.Crashed(fmt.Sprintf("Task run could not be executed: %v", cause), cause)
	}

	cc := &runCtl{engine: e, run: child, logger: telemetry.WithTaskRun(e.logger, c.run.ID, child.ID)}
	final, err := cc.finish(ctx, domain.Crashed(fmt.Sprintf("Task run could not be executed: %v", cause), cause))
	if err != nil {
		c.logger.Warn("failed to record child run state", "child_run_id", f.RunID, "error", err)
		return domain.Crashed(fmt.Sprintf("Task run could not be executed: %v", cause), cause)
	}
	return final
}

// runSubflow выполняет flow внутри flow run parent.
//
// В родительском flow run создаётся task run, который отражает состояния
// дочернего flow run и хранит его id в child_flow_run_id.
func (e *Engine) runSubflow(ctx context.Context, parent *flowRunContext, flow *Flow, params Params) (*domain.State, error) {
	if parent.isTimedOut() {
		return nil, ErrFlowRunTimedOut
	}

	taskRun, err := e.createTaskRun(ctx, parent, flow.name, flow.opts, params, nil)
	if err != nil {
		return nil, err
	}
	parentCtl := &runCtl{
		engine: e,
		run:    taskRun,
		logger: telemetry.WithTaskRun(e.logger, parent.run.ID, taskRun.ID),
	}

	final, err := e.subflowStates(ctx, parentCtl, flow, params)
	if err != nil {
		return nil, err
	}
	parent.addChild(taskrunner.Resolved(taskRun.ID, final, parent.env))
	return final, nil
}

func (e *Engine) subflowStates(ctx context.Context, parentCtl *runCtl, flow *Flow, params Params) (*domain.State, error) {
	upstream, err := waitUpstream(ctx, params, nil)
	if err != nil {
		return parentCtl.finish(ctx, domain.Crashed("Execution was interrupted", err))
	}
	for _, u := range upstream {
		if !u.state.IsCompleted() {
			notReady := &UpstreamNotReadyError{UpstreamID: u.runID}
			return parentCtl.finish(ctx, domain.NotReady(notReady.Error()))
		}
	}

	resolved, err := taskrunner.ResolveToData(ctx, params)
	if err != nil {
		return parentCtl.finish(ctx, domain.Failed(fmt.Sprintf("Failed to resolve subflow parameters: %v", err), err))
	}
	data, _ := resolved.(map[string]any)

	parentID := parentCtl.run.ID
	child, err := e.createFlowRun(ctx, flow, data, &parentID)
	if err != nil {
		return nil, err
	}

	running := domain.Running()
	running.Details.ChildFlowRunID = &child.ID
	if _, ok, err := parentCtl.propose(ctx, running); err != nil || !ok {
		if err != nil {
			return nil, err
		}
		return parentCtl.run.State, nil
	}

	childFinal, err := e.orchestrateFlow(ctx, flow, child, data)
	if err != nil {
		return nil, err
	}

	mirror := childFinal.Clone()
	mirror.Details = domain.StateDetails{ChildFlowRunID: &child.ID}
	if _, err := parentCtl.finish(ctx, mirror); err != nil {
		return nil, err
	}
	return childFinal, nil
}

// returnValueState строит финальное состояние flow из явного возвращаемого
// значения. Future в значении заменяются состояниями, неуспех наследуется
// от вложенных неуспешных состояний.
func (e *Engine) returnValueState(ctx context.Context, out any) (*domain.State, error) {
	resolved, err := taskrunner.ResolveToStates(ctx, out)
	if err != nil {
		return nil, err
	}

	switch v := resolved.(type) {
	case *domain.State:
		if !v.IsCompleted() {
			return domain.Failed("1/1 states failed.", v), nil
		}
		h, err := v.Hydrate(ctx, e.results)
		if err != nil {
			return nil, err
		}
		result, err := h.Result(false)
		if err != nil {
			return nil, err
		}
		return domain.Completed(result, ""), nil
	case []*domain.State:
		return aggregateStates(v), nil
	}

	states := taskrunner.CollectStates(resolved)
	if len(states) == 0 {
		return domain.Completed(resolved, ""), nil
	}
	if all, ok := onlyStates(resolved); ok {
		return aggregateStates(all), nil
	}

	// Смешанная структура: состояния заменяются результатом или ошибкой.
	data, err := collections.Walk(resolved, func(leaf any) (any, error) {
		s, ok := leaf.(*domain.State)
		if !ok {
			return leaf, nil
		}
		h, err := s.Hydrate(ctx, e.results)
		if err != nil {
			return nil, err
		}
		if h.IsCompleted() {
			return h.Result(false)
		}
		if _, err := h.Result(true); err != nil {
			return domain.Capture(err), nil
		}
		return nil, nil
	}, stateLeaves)
	if err != nil {
		return nil, err
	}

	if failed := countFailed(states); failed > 0 {
		return domain.Failed(fmt.Sprintf("%d/%d states failed.", failed, len(states)), data), nil
	}
	return domain.Completed(data, "All states completed."), nil
}

var stateLeaves = collections.WithLeaves(func(v any) bool {
	_, ok := v.(*domain.State)
	return ok
})

// onlyStates возвращает элементы последовательности, если все они состояния.
// Подходит любой срез или массив; nil-элемент делает структуру смешанной.
func onlyStates(v any) ([]*domain.State, bool) {
	if collections.Classify(v, stateLeaves) != collections.KindSequence {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	out := make([]*domain.State, rv.Len())
	for i := range out {
		s, ok := rv.Index(i).Interface().(*domain.State)
		if !ok || s == nil {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}

// aggregateStates сводит состояния дочерних runs в состояние flow.
// NotReady не считается неуспехом, но и не завершением.
func aggregateStates(states []*domain.State) *domain.State {
	if len(states) == 0 {
		return domain.Completed(nil, "")
	}

	completed := 0
	for _, s := range states {
		if s.IsCompleted() {
			completed++
		}
	}
	if completed == len(states) {
		return domain.Completed(states, "All states completed.")
	}
	return domain.Failed(fmt.Sprintf("%d/%d states failed.", countFailed(states), len(states)), states)
}

func countFailed(states []*domain.State) int {
	n := 0
	for _, s := range states {
		if !s.IsCompleted() && !s.IsNotReady() {
			n++
		}
	}
	return n
}
