package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Weaver/internal/datadoc"
)

// StateType — тип состояния run.
//
// Жизненный цикл:
//
//	SCHEDULED → PENDING → RUNNING → COMPLETED
//	                             ↘ FAILED | CRASHED | TIMED_OUT | CANCELLED
//
// PENDING с именем "NotReady" — заблокированный run: upstream не завершился
// успешно, тело не выполнялось и повторяться не будет.
type StateType string

const (
	StateScheduled StateType = "SCHEDULED"
	StatePending   StateType = "PENDING"
	StateRunning   StateType = "RUNNING"
	StateCompleted StateType = "COMPLETED"
	StateFailed    StateType = "FAILED"
	StateCrashed   StateType = "CRASHED"
	StateTimedOut  StateType = "TIMED_OUT"
	StateCancelled StateType = "CANCELLED"
)

// Имена состояний, которые выставляет Engine.
const (
	NameScheduled     = "Scheduled"
	NamePending       = "Pending"
	NameNotReady      = "NotReady"
	NameAwaitingRetry = "AwaitingRetry"
	NameRunning       = "Running"
	NameCompleted     = "Completed"
	NameCached        = "Cached"
	NameFailed        = "Failed"
	NameCrashed       = "Crashed"
	NameTimedOut      = "TimedOut"
	NameCancelled     = "Cancelled"
)

// IsTerminal возвращает true для финальных состояний.
func (t StateType) IsTerminal() bool {
	switch t {
	case StateCompleted, StateFailed, StateCrashed, StateTimedOut, StateCancelled:
		return true
	default:
		return false
	}
}

// IsFailure возвращает true для терминальных неуспешных состояний.
func (t StateType) IsFailure() bool {
	return t.IsTerminal() && t != StateCompleted
}

// ParseStateType парсит строку в StateType.
// Возвращает false для неизвестных значений.
func ParseStateType(s string) (StateType, bool) {
	t := StateType(s)
	switch t {
	case StateScheduled, StatePending, StateRunning, StateCompleted,
		StateFailed, StateCrashed, StateTimedOut, StateCancelled:
		return t, true
	default:
		return "", false
	}
}

// StateDetails — служебные данные состояния.
type StateDetails struct {
	// RunID — run, которому принадлежит состояние.
	RunID uuid.UUID `json:"run_id"`

	// ParentTaskRunID — task run в родительском flow (для subflow).
	ParentTaskRunID *uuid.UUID `json:"parent_task_run_id,omitempty"`

	// ChildFlowRunID — subflow, запущенный этим task run.
	ChildFlowRunID *uuid.UUID `json:"child_flow_run_id,omitempty"`

	// ScheduledTime — запланированное время запуска.
	ScheduledTime *time.Time `json:"scheduled_time,omitempty"`

	CacheKey        string     `json:"cache_key,omitempty"`
	CacheExpiration *time.Time `json:"cache_expiration,omitempty"`
}

// State — запись о состоянии run.
//
// State неизменяем после создания: методы, добавляющие данные, возвращают
// копию. Data — сериализованная ссылка на результат; в процессе, где
// результат был получен, он дополнительно доступен без десериализации.
type State struct {
	ID        uuid.UUID         `json:"id"`
	Type      StateType         `json:"type"`
	Name      string            `json:"name"`
	Message   string            `json:"message,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Details   StateDetails      `json:"state_details"`
	Data      *datadoc.Document `json:"data,omitempty"`

	result    any
	hasResult bool
}

// NewState создаёт состояние с текущим временем.
func NewState(t StateType, name, message string) *State {
	return &State{
		ID:        uuid.New(),
		Type:      t,
		Name:      name,
		Message:   message,
		Timestamp: Now(),
	}
}

// Now возвращает текущее время в точности, которую хранит Record Store.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Scheduled создаёт SCHEDULED состояние на время at.
func Scheduled(at time.Time, message string) *State {
	s := NewState(StateScheduled, NameScheduled, message)
	at = at.UTC()
	s.Details.ScheduledTime = &at
	return s
}

// AwaitingRetry создаёт SCHEDULED состояние для немедленного повтора.
func AwaitingRetry(at time.Time, message string) *State {
	s := Scheduled(at, message)
	s.Name = NameAwaitingRetry
	return s
}

// Pending создаёт PENDING состояние.
func Pending() *State {
	return NewState(StatePending, NamePending, "")
}

// NotReady создаёт заблокированное PENDING состояние.
func NotReady(message string) *State {
	return NewState(StatePending, NameNotReady, message)
}

// Running создаёт RUNNING состояние.
func Running() *State {
	return NewState(StateRunning, NameRunning, "")
}

// Completed создаёт COMPLETED состояние с результатом.
func Completed(result any, message string) *State {
	s := NewState(StateCompleted, NameCompleted, message)
	return s.withResult(result)
}

// Failed создаёт FAILED состояние. result — ошибка или вложенные состояния.
func Failed(message string, result any) *State {
	s := NewState(StateFailed, NameFailed, message)
	return s.withResult(result)
}

// Crashed создаёт CRASHED состояние.
func Crashed(message string, err error) *State {
	s := NewState(StateCrashed, NameCrashed, message)
	return s.withResult(err)
}

// TimedOut создаёт TIMED_OUT состояние.
func TimedOut(message string, err error) *State {
	s := NewState(StateTimedOut, NameTimedOut, message)
	return s.withResult(err)
}

// Cancelled создаёт CANCELLED состояние.
func Cancelled(message string) *State {
	return NewState(StateCancelled, NameCancelled, message)
}

func (s *State) withResult(result any) *State {
	if result != nil {
		s.result = result
		s.hasResult = true
	}
	return s
}

// IsFinal возвращает true, если run больше не будет выполняться:
// терминальное состояние или NotReady.
func (s *State) IsFinal() bool {
	if s == nil {
		return false
	}
	return s.Type.IsTerminal() || s.IsNotReady()
}

// IsNotReady возвращает true для заблокированного PENDING.
func (s *State) IsNotReady() bool {
	return s != nil && s.Type == StatePending && s.Name == NameNotReady
}

// IsCompleted возвращает true для COMPLETED.
func (s *State) IsCompleted() bool {
	return s != nil && s.Type == StateCompleted
}

// Clone возвращает копию состояния с новым ID и текущим временем.
// Используется, когда результат переносится в другой run (кэш).
func (s *State) Clone() *State {
	c := *s
	c.ID = uuid.New()
	c.Timestamp = Now()
	return &c
}

// WithDetails возвращает копию с заменёнными деталями.
func (s *State) WithDetails(d StateDetails) *State {
	c := *s
	c.Details = d
	return &c
}

// String возвращает короткое представление для логов.
func (s *State) String() string {
	if s == nil {
		return "<nil>"
	}
	if s.Name != "" && s.Name != stateTitle(s.Type) {
		return string(s.Type) + "(" + s.Name + ")"
	}
	return string(s.Type)
}

func stateTitle(t StateType) string {
	switch t {
	case StateScheduled:
		return NameScheduled
	case StatePending:
		return NamePending
	case StateRunning:
		return NameRunning
	case StateCompleted:
		return NameCompleted
	case StateFailed:
		return NameFailed
	case StateCrashed:
		return NameCrashed
	case StateTimedOut:
		return NameTimedOut
	case StateCancelled:
		return NameCancelled
	}
	return ""
}
