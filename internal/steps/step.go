package steps

import (
	"context"
	"log/slog"

	"github.com/shaiso/Weaver/internal/engine"
)

// Outputs — результат шага; становится результатом task run.
type Outputs = map[string]any

// Step — тип встроенного шага (http, delay, transform).
//
// Шаг становится задачей через Task. Повторы и таймаут задаёт политика
// задачи, шаг только возвращает ошибку и следит за ctx.Done().
type Step interface {
	Type() string
	Execute(ctx context.Context, req *Request) (Outputs, error)
}

// Request — вызов шага.
type Request struct {
	// Task — имя задачи, выполняющей шаг.
	Task string

	// Config — конфигурация после рендеринга шаблонов.
	Config Config

	// Data — данные шаблонов: параметры задачи, flow run, окружение.
	Data *engine.TemplateData

	// Logger — логгер task run.
	Logger *slog.Logger
}

// NewRequest создаёт Request. data может быть nil.
func NewRequest(task string, config map[string]any, data *engine.TemplateData) *Request {
	if config == nil {
		config = make(map[string]any)
	}
	if data == nil {
		data = engine.NewTemplateData(nil)
		data.Task = task
	}
	return &Request{
		Task:   task,
		Config: config,
		Data:   data,
		Logger: slog.Default().With("task", task),
	}
}
