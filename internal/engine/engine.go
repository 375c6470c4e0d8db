package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaiso/Weaver/internal/bridge"
	"github.com/shaiso/Weaver/internal/datadoc"
	"github.com/shaiso/Weaver/internal/domain"
	"github.com/shaiso/Weaver/internal/repo"
	"github.com/shaiso/Weaver/internal/taskrunner"
	"github.com/shaiso/Weaver/internal/telemetry"
)

// TaskRunHandler — имя обработчика work items, выполняющего task run.
// Kwargs: task, task_run_id, parameters, wait_for.
const TaskRunHandler = "weaver.task_run"

// Config — конфигурация Engine.
type Config struct {
	// Store — Record Store (обязателен).
	Store repo.Store

	// Results — хранилище данных результатов (default: inline).
	Results datadoc.Store

	// ResultFormat — формат результатов: json или msgpack (default: json).
	ResultFormat string

	// Pool — пул горутин для синхронных тел (default: 40 слотов).
	Pool *bridge.Pool

	// LogSink — получатель логов runs. Если задан, логи runs уходят в него.
	LogSink telemetry.LogSink

	Logger *slog.Logger
	Tracer trace.Tracer
}

// Engine — исполнитель flows и задач.
//
// Engine ведёт состояние каждого run через Record Store: все переходы
// проходят через Store.AppendState, а результат тела (значение, ошибка,
// паника, timeout) всегда становится состоянием, а не ошибкой Go.
type Engine struct {
	store   repo.Store
	results datadoc.Store
	format  string
	pool    *bridge.Pool
	logger  *slog.Logger
	tracer  trace.Tracer

	mu    sync.RWMutex
	tasks map[string]*Task
	flows map[string]*Flow
}

// New создаёт Engine.
func New(cfg Config) *Engine {
	if cfg.Results == nil {
		cfg.Results = datadoc.NewInlineStore()
	}
	if cfg.ResultFormat == "" {
		cfg.ResultFormat = datadoc.FormatJSON
	}
	if cfg.Pool == nil {
		cfg.Pool = bridge.NewPool(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.LogSink != nil {
		cfg.Logger = slog.New(telemetry.NewRunHandler(cfg.Logger.Handler(), cfg.LogSink))
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.Tracer()
	}

	return &Engine{
		store:   cfg.Store,
		results: cfg.Results,
		format:  cfg.ResultFormat,
		pool:    cfg.Pool,
		logger:  cfg.Logger,
		tracer:  cfg.Tracer,
		tasks:   make(map[string]*Task),
		flows:   make(map[string]*Flow),
	}
}

// Store возвращает Record Store Engine.
func (e *Engine) Store() repo.Store {
	return e.store
}

// RegisterTasks делает задачи доступными воркерам по имени.
func (e *Engine) RegisterTasks(tasks ...*Task) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range tasks {
		e.tasks[t.name] = t
	}
}

// RegisterFlows делает flows доступными RunExisting по имени.
func (e *Engine) RegisterFlows(flows ...*Flow) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range flows {
		e.flows[f.name] = f
	}
}

// Flow возвращает зарегистрированный flow.
func (e *Engine) Flow(name string) (*Flow, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f, ok := e.flows[name]
	return f, ok
}

func (e *Engine) task(name string) (*Task, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tasks[name]
	return t, ok
}

// Handlers возвращает обработчики work items Engine (для воркеров).
func (e *Engine) Handlers(name string) (taskrunner.Handler, bool) {
	if name != TaskRunHandler {
		return nil, false
	}
	return e.handleTaskRun, true
}

// Env возвращает окружение task runner на хранилищах Engine.
func (e *Engine) Env() taskrunner.Env {
	return taskrunner.Env{
		Handlers: e.Handlers,
		States:   e.store,
		Results:  e.results,
		Format:   e.format,
		Logger:   e.logger,
	}
}

// RunFlow выполняет flow и возвращает финальное состояние flow run.
//
// Внутри flow run вызов создаёт subflow. Ошибка возвращается только при
// недоступности Record Store; исход тела всегда выражен состоянием.
func (e *Engine) RunFlow(ctx context.Context, flow *Flow, params Params) (*domain.State, error) {
	e.RegisterFlows(flow)

	return bridge.Call(ctx, func(ctx context.Context) (*domain.State, error) {
		if parent := flowRunFrom(ctx); parent != nil {
			return e.runSubflow(ctx, parent, flow, params)
		}

		run, err := e.createFlowRun(ctx, flow, params, nil)
		if err != nil {
			return nil, err
		}
		return e.orchestrateFlow(ctx, flow, run, params)
	})
}

// RunExisting выполняет уже созданный flow run (например, созданный
// scheduler). Flow находится по имени среди зарегистрированных.
func (e *Engine) RunExisting(ctx context.Context, runID uuid.UUID) (*domain.State, error) {
	run, err := e.store.ReadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Kind != domain.RunKindFlow {
		return nil, fmt.Errorf("run %s is a %s run, not a flow run", runID, run.Kind)
	}

	record, err := e.store.ReadFlow(ctx, run.FlowID)
	if err != nil {
		return nil, err
	}
	flow, ok := e.Flow(record.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, record.Name)
	}

	return bridge.Call(ctx, func(ctx context.Context) (*domain.State, error) {
		return e.orchestrateFlow(ctx, flow, run, run.Parameters)
	})
}

// createFlowRun создаёт flow run в состоянии PENDING.
func (e *Engine) createFlowRun(ctx context.Context, flow *Flow, params Params, parentTaskRunID *uuid.UUID) (*domain.Run, error) {
	record, err := e.store.ReadOrCreateFlow(ctx, flow.name)
	if err != nil {
		return nil, fmt.Errorf("read flow %q: %w", flow.name, err)
	}

	// Несериализуемые параметры не сохраняются: такой run завершится
	// FAILED на проверке параметров.
	if checkSerializable(params) != nil {
		params = nil
	}

	id := uuid.New()
	run := &domain.Run{
		ID:              id,
		Kind:            domain.RunKindFlow,
		Name:            flow.name + "-" + id.String()[:8],
		FlowID:          record.ID,
		ParentTaskRunID: parentTaskRunID,
		Parameters:      params,
		Tags:            flow.opts.tags,
		Policy:          flow.opts.policy(),
		State:           domain.Pending(),
	}

	created, err := e.store.CreateRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("create flow run: %w", err)
	}
	return created, nil
}
