package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Ошибки вызова задач и flows.
var (
	// ErrNoFlowRun — задача вызвана вне flow run.
	ErrNoFlowRun = errors.New("engine: tasks can only be submitted from inside a flow run")

	// ErrAsyncTaskInSyncFlow — асинхронная задача вызвана из синхронного flow.
	ErrAsyncTaskInSyncFlow = errors.New("engine: asynchronous tasks cannot be submitted from a synchronous flow")

	// ErrFlowRunTimedOut — задача вызвана после истечения timeout flow run.
	ErrFlowRunTimedOut = errors.New("engine: flow run has timed out, no more tasks can be submitted")

	// ErrUnknownTask — задача не зарегистрирована в Engine.
	ErrUnknownTask = errors.New("engine: unknown task")

	// ErrUnknownFlow — flow не зарегистрирован в Engine.
	ErrUnknownFlow = errors.New("engine: unknown flow")

	// ErrRunTimeout — тело run не завершилось за отведённое время.
	ErrRunTimeout = errors.New("engine: run timed out")

	// ErrInterrupted — выполнение прервано отменой контекста.
	ErrInterrupted = errors.New("engine: execution was interrupted")
)

// Ошибки параметров.
var (
	// ErrParameterType — значение не приводится к объявленному типу.
	ErrParameterType = errors.New("parameter has wrong type")

	// ErrParameterRequired — обязательный параметр не передан.
	ErrParameterRequired = errors.New("required parameter is missing")

	// ErrParameterUnknown — параметр не объявлен во flow.
	ErrParameterUnknown = errors.New("parameter is not declared")

	// ErrParameterNotSerializable — параметры нельзя сохранить в Record Store.
	ErrParameterNotSerializable = errors.New("parameters are not serializable")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// ValidationError — ошибка валидации параметра с контекстом.
type ValidationError struct {
	Parameter string // имя параметра, пусто для ошибок всего набора
	Message   string // описание ошибки
	Err       error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.Parameter != "" {
		return "parameter " + e.Parameter + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(parameter, message string, err error) *ValidationError {
	return &ValidationError{
		Parameter: parameter,
		Message:   message,
		Err:       err,
	}
}

// UpstreamNotReadyError — upstream run не завершился успешно.
type UpstreamNotReadyError struct {
	UpstreamID uuid.UUID
}

// Error реализует интерфейс error.
func (e *UpstreamNotReadyError) Error() string {
	return fmt.Sprintf("Upstream task run '%s' did not reach a 'COMPLETED' state.", e.UpstreamID)
}
