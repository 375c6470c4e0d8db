package engine

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/shaiso/Weaver/internal/domain"
	"github.com/shaiso/Weaver/internal/taskrunner"
)

// RunInfo — сведения о текущем run, доступные телу.
type RunInfo struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	FlowRunID uuid.UUID `json:"flow_run_id"`
	RunCount  int       `json:"run_count"`
}

func runInfo(run *domain.Run) RunInfo {
	info := RunInfo{ID: run.ID, Name: run.Name, RunCount: run.RunCount}
	switch {
	case run.Kind == domain.RunKindFlow:
		info.FlowRunID = run.ID
	case run.FlowRunID != nil:
		info.FlowRunID = *run.FlowRunID
	}
	return info
}

type flowRunKey struct{}
type taskRunKey struct{}

// flowRunContext — состояние выполняющегося flow run.
// Живёт в context.Context тела flow.
type flowRunContext struct {
	engine *Engine
	flow   *Flow
	run    *domain.Run
	runner taskrunner.TaskRunner
	env    taskrunner.Env

	timedOut atomic.Bool

	mu       sync.Mutex
	children []*taskrunner.Future
	keys     map[string]int
}

func newFlowRunContext(e *Engine, flow *Flow, run *domain.Run, runner taskrunner.TaskRunner, env taskrunner.Env) *flowRunContext {
	return &flowRunContext{
		engine: e,
		flow:   flow,
		run:    run,
		runner: runner,
		env:    env,
		keys:   make(map[string]int),
	}
}

func withFlowRun(ctx context.Context, frc *flowRunContext) context.Context {
	return context.WithValue(ctx, flowRunKey{}, frc)
}

func flowRunFrom(ctx context.Context) *flowRunContext {
	frc, _ := ctx.Value(flowRunKey{}).(*flowRunContext)
	return frc
}

func withTaskRun(ctx context.Context, info RunInfo) context.Context {
	return context.WithValue(ctx, taskRunKey{}, info)
}

// FlowRunFrom возвращает flow run, в теле которого выполняется ctx.
func FlowRunFrom(ctx context.Context) (RunInfo, bool) {
	frc := flowRunFrom(ctx)
	if frc == nil {
		return RunInfo{}, false
	}
	return runInfo(frc.run), true
}

// TaskRunFrom возвращает task run, в теле которого выполняется ctx.
func TaskRunFrom(ctx context.Context) (RunInfo, bool) {
	info, ok := ctx.Value(taskRunKey{}).(RunInfo)
	return info, ok
}

// nextDynamicKey возвращает порядковый номер вызова задачи в flow run.
func (c *flowRunContext) nextDynamicKey(taskKey string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.keys[taskKey]
	c.keys[taskKey] = n + 1
	return strconv.Itoa(n)
}

func (c *flowRunContext) addChild(f *taskrunner.Future) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.children = append(c.children, f)
}

// takeChildren возвращает дочерние Future и очищает список.
func (c *flowRunContext) takeChildren() []*taskrunner.Future {
	c.mu.Lock()
	defer c.mu.Unlock()
	children := c.children
	c.children = nil
	return children
}

func (c *flowRunContext) isTimedOut() bool {
	return c.timedOut.Load()
}
