// Package steps содержит встроенные задачи Weaver: HTTP запрос,
// задержку и трансформацию данных.
//
// Шаг (Step) становится задачей через Task:
//
//	fetch := steps.Task(steps.NewHTTPStep(), "fetch-users", map[string]any{
//	    "url":   "https://api.example.com/users",
//	    "query": map[string]any{"page": "{{ .Inputs.page }}"},
//	}, engine.WithRetries(3))
//
//	flow := engine.NewFlow("sync-users", func(ctx context.Context, p engine.Params) (any, error) {
//	    return fetch.Call(ctx, engine.Params{"page": p["page"]})
//	})
//
// Перед каждым выполнением конфигурация рендерится через engine.RenderConfig:
//   - {{ .Inputs.name }} — параметры task run
//   - {{ .Task }} — имя задачи
//   - {{ .FlowRun.ID }} — текущий flow run
//   - {{ .Env.NAME }} — переменная окружения WEAVER_ENV_NAME
//
// Outputs шага становятся результатом task run.
//
// # Встроенные задачи и flows
//
// Registry.DefaultTasks возвращает задачи "weaver.delay", "weaver.http",
// "weaver.transform", у которых конфигурацией служат параметры вызова;
// их регистрирует weaver-worker. Registry.DefaultFlows оборачивает каждую
// в flow с тем же именем; их регистрирует weaver-agent, поэтому
// deployment может запускать встроенный шаг по расписанию:
//
//	name: ping-api
//	flow: weaver.http
//	schedule: {interval: 5m}
//	parameters:
//	  url: https://api.example.com/health
//	  timeout: 5s
//
// Ошибки шагов (ErrInvalidConfig, ErrStepTimeout, ErrStepCancelled,
// *HTTPError) переводят task run в FAILED; повторы задаёт политика задачи.
package steps
