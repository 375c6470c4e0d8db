package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Weaver/internal/datadoc"
	"github.com/shaiso/Weaver/internal/domain"
)

// Ошибки task runner.
var (
	// ErrAlreadyStarted — повторный Start без освобождения.
	ErrAlreadyStarted = errors.New("taskrunner: already started")

	// ErrNotStarted — Submit до Start.
	ErrNotStarted = errors.New("taskrunner: not started")

	// ErrUnknownHandler — обработчик work item не зарегистрирован.
	ErrUnknownHandler = errors.New("taskrunner: unknown handler")

	// ErrUnknownRunner — неизвестный вид runner в настройках.
	ErrUnknownRunner = errors.New("taskrunner: unknown runner kind")

	// ErrClusterClosed — кластер закрылся до получения результата.
	ErrClusterClosed = errors.New("taskrunner: cluster closed")

	// ErrWorkFailed — воркер не смог выполнить work item.
	ErrWorkFailed = errors.New("taskrunner: work item failed")
)

// InfrastructureError — сбой запуска backend (например, занятый порт).
type InfrastructureError struct {
	Resource string
	Err      error
}

// Error реализует интерфейс error.
func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure %s: %v", e.Resource, e.Err)
}

// Unwrap возвращает причину.
func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// Виды runner.
const (
	KindSequential  = "sequential"
	KindDistributed = "distributed"
)

// Settings — сериализуемая конфигурация runner.
// По ней runner восстанавливается в другом процессе (FromSettings).
type Settings struct {
	Kind    string `json:"kind"`
	Address string `json:"address,omitempty"`
}

// Handler — именованное тело, которое умеет выполнять воркер.
type Handler func(ctx context.Context, kwargs map[string]any) (*domain.State, error)

// HandlerLookup находит Handler по имени.
type HandlerLookup func(name string) (Handler, bool)

// StateReader читает текущее состояние run из Record Store.
type StateReader interface {
	ReadRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
}

// Env — окружение, в котором runner выполняет вызовы.
type Env struct {
	// Handlers — обработчики work items (нужны Distributed и воркерам).
	Handlers HandlerLookup

	// States — чтение состояний для Future.GetState и ожидания
	// перенесённых Future.
	States StateReader

	// Results — хранилище данных результатов.
	Results datadoc.Store

	// Format — формат сериализации результатов (default: json).
	Format string

	Logger *slog.Logger
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e Env) format() string {
	if e.Format == "" {
		return datadoc.FormatJSON
	}
	return e.Format
}

// Call — вызов тела задачи.
type Call struct {
	// Handler и Kwargs описывают вызов для передачи по сети.
	Handler string
	Kwargs  map[string]any

	// Fn выполняет тот же вызов локально. Если nil, используется Handler.
	Fn func(ctx context.Context) (*domain.State, error)

	// Asynchronous — тело кооперативное.
	Asynchronous bool
}

// TaskRunner — backend выполнения тел задач.
type TaskRunner interface {
	// Start захватывает ресурсы backend. Возвращённая release освобождает
	// их и должна быть вызвана на любом пути выхода. Повторный Start до
	// release возвращает ErrAlreadyStarted.
	Start(ctx context.Context, env Env) (release func(ctx context.Context) error, err error)

	// Submit ставит вызов в очередь и сразу возвращает Future на run.
	Submit(ctx context.Context, run *domain.Run, call Call) (*Future, error)

	// Wait ждёт финального состояния не дольше timeout (0 — без ограничения).
	// По истечении timeout возвращает nil без ошибки; run продолжается.
	Wait(ctx context.Context, f *Future, timeout time.Duration) (*domain.State, error)

	// Settings возвращает сериализуемую конфигурацию runner.
	Settings() Settings
}

// FromSettings восстанавливает runner по сериализованной конфигурации.
// Восстановленный runner не запущен: Future, привязанные к нему, ждут
// результата через Record Store.
func FromSettings(s Settings) (TaskRunner, error) {
	switch s.Kind {
	case KindSequential:
		return NewSequential(), nil
	case KindDistributed:
		return NewDistributed(DistributedConfig{Address: s.Address}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRunner, s.Kind)
	}
}

// local возвращает функцию, выполняющую вызов в этом процессе.
func (c Call) local(env Env) (func(ctx context.Context) (*domain.State, error), error) {
	if c.Fn != nil {
		return c.Fn, nil
	}
	if env.Handlers == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, c.Handler)
	}
	h, ok := env.Handlers(c.Handler)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownHandler, c.Handler)
	}
	return func(ctx context.Context) (*domain.State, error) {
		return h(ctx, c.Kwargs)
	}, nil
}
