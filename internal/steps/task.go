package steps

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shaiso/Weaver/internal/engine"
	"github.com/shaiso/Weaver/internal/telemetry"
)

// TaskPrefix — префикс имён задач DefaultTasks.
const TaskPrefix = "weaver."

// envPrefix — переменные окружения с этим префиксом доступны шаблонам
// как {{ .Env.NAME }} (без префикса).
const envPrefix = "WEAVER_ENV_"

// Task создаёт задачу, выполняющую шаг.
//
// config рендерится перед каждым выполнением: параметры task run доступны
// как {{ .Inputs.name }}, flow run как {{ .FlowRun.ID }}. Если config
// пустой, конфигурацией шага служат сами параметры.
func Task(step Step, name string, config map[string]any, opts ...engine.Option) *engine.Task {
	return engine.NewTask(name, func(ctx context.Context, params engine.Params) (any, error) {
		data := templateData(ctx, name, params)

		raw := config
		if len(raw) == 0 {
			raw = params
		}
		rendered, err := engine.RenderConfig(raw, data)
		if err != nil {
			return nil, fmt.Errorf("%s: render config: %w", name, err)
		}

		req := NewRequest(name, rendered, data)
		req.Logger = telemetry.FromContext(ctx)

		out, err := step.Execute(ctx, req)
		if err != nil {
			return nil, err
		}
		return out, nil
	}, opts...)
}

// Task создаёт задачу для шага типа stepType из реестра.
func (r *Registry) Task(stepType, name string, config map[string]any, opts ...engine.Option) (*engine.Task, error) {
	step, err := r.Get(stepType)
	if err != nil {
		return nil, err
	}
	return Task(step, name, config, opts...), nil
}

// DefaultTasks возвращает задачи для всех шагов реестра с именами
// "weaver.<type>". Параметры такой задачи — конфигурация шага.
// Воркеры регистрируют их, чтобы выполнять встроенные задачи любых flows.
func (r *Registry) DefaultTasks(opts ...engine.Option) []*engine.Task {
	types := r.Types()
	tasks := make([]*engine.Task, 0, len(types))
	for _, typ := range types {
		step, err := r.Get(typ)
		if err != nil {
			continue
		}
		tasks = append(tasks, Task(step, TaskPrefix+typ, nil, opts...))
	}
	return tasks
}

// DefaultFlows возвращает flows "weaver.<type>", каждый из которых вызывает
// одноимённую встроенную задачу со своими параметрами. Deployment такого
// flow выполняет шаг по расписанию без пользовательского кода.
func (r *Registry) DefaultFlows(opts ...engine.Option) []*engine.Flow {
	tasks := r.DefaultTasks()
	flows := make([]*engine.Flow, 0, len(tasks))
	for _, task := range tasks {
		flows = append(flows, engine.NewFlow(task.Name(), func(ctx context.Context, params engine.Params) (any, error) {
			return task.Call(ctx, params)
		}, opts...))
	}
	return flows
}

func templateData(ctx context.Context, name string, params engine.Params) *engine.TemplateData {
	data := engine.NewTemplateData(params)
	data.Task = name
	if info, ok := engine.TaskRunFrom(ctx); ok {
		data.FlowRun = engine.RunInfo{ID: info.FlowRunID}
	}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(key, envPrefix) {
			data.SetEnv(strings.TrimPrefix(key, envPrefix), value)
		}
	}
	return data
}
