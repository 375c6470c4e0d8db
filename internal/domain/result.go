package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shaiso/Weaver/internal/datadoc"
)

// CapturedError — сериализуемое представление ошибки тела run.
//
// В процессе, где ошибка возникла, CapturedError оборачивает исходную
// ошибку, и errors.Is/As работают как обычно. После чтения из Record Store
// доступны только тип, сообщение и traceback.
type CapturedError struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`

	err error
}

// Error реализует интерфейс error.
func (e *CapturedError) Error() string {
	return e.Message
}

// Unwrap возвращает исходную ошибку (если она доступна).
func (e *CapturedError) Unwrap() error {
	return e.err
}

// Capture сохраняет ошибку вместе с цепочкой причин.
func Capture(err error) *CapturedError {
	if err == nil {
		return nil
	}
	if captured, ok := err.(*CapturedError); ok {
		return captured
	}

	traceback := errorChain(err)
	var p *PanicError
	if errors.As(err, &p) {
		traceback = p.Stack
	}

	return &CapturedError{
		Type:      fmt.Sprintf("%T", err),
		Message:   err.Error(),
		Traceback: traceback,
		err:       err,
	}
}

// errorChain разворачивает цепочку обёрнутых ошибок.
func errorChain(err error) string {
	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		if depth > 0 {
			b.WriteString("\ncaused by: ")
		}
		fmt.Fprintf(&b, "%T: %v", err, err)
		err = errors.Unwrap(err)
	}
	return b.String()
}

// PanicError — паника в теле run, перехваченная Engine.
type PanicError struct {
	Value any
	Stack string
}

// Error реализует интерфейс error.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Виды содержимого resultEnvelope.
const (
	kindNone   = "none"
	kindValue  = "value"
	kindError  = "error"
	kindState  = "state"
	kindStates = "states"
)

// resultEnvelope — сериализуемая форма данных State.
// Вложенные состояния хранятся со своими inline-документами.
type resultEnvelope struct {
	Kind   string         `json:"kind"`
	Value  any            `json:"value,omitempty"`
	Error  *CapturedError `json:"error,omitempty"`
	States []*State       `json:"states,omitempty"`
}

func newEnvelope(value any, format string) (*resultEnvelope, error) {
	switch v := value.(type) {
	case nil:
		return &resultEnvelope{Kind: kindNone}, nil
	case *State:
		inl, err := v.inline(format)
		if err != nil {
			return nil, err
		}
		return &resultEnvelope{Kind: kindState, States: []*State{inl}}, nil
	case []*State:
		states := make([]*State, len(v))
		for i, s := range v {
			inl, err := s.inline(format)
			if err != nil {
				return nil, err
			}
			states[i] = inl
		}
		return &resultEnvelope{Kind: kindStates, States: states}, nil
	case error:
		return &resultEnvelope{Kind: kindError, Error: Capture(v)}, nil
	default:
		return &resultEnvelope{Kind: kindValue, Value: v}, nil
	}
}

func (e *resultEnvelope) value() any {
	switch e.Kind {
	case kindError:
		return e.Error
	case kindState:
		if len(e.States) == 0 {
			return nil
		}
		return e.States[0]
	case kindStates:
		if e.States == nil {
			return []*State{}
		}
		return e.States
	case kindValue:
		return e.Value
	default:
		return nil
	}
}

// inline возвращает копию состояния с данными, записанными прямо в документ.
func (s *State) inline(format string) (*State, error) {
	if s == nil || s.Data != nil || !s.hasResult {
		return s, nil
	}
	env, err := newEnvelope(s.result, format)
	if err != nil {
		return nil, err
	}
	doc, err := datadoc.Encode(format, env)
	if err != nil {
		return nil, err
	}
	c := *s
	c.Data = doc
	return &c, nil
}

// Encode возвращает копию состояния с результатом, сохранённым в store.
// Исходный результат остаётся доступен в копии без десериализации.
func (s *State) Encode(ctx context.Context, store datadoc.Store, format string) (*State, error) {
	if !s.hasResult || s.Data != nil {
		return s, nil
	}
	env, err := newEnvelope(s.result, format)
	if err != nil {
		return nil, err
	}
	doc, err := store.Encode(ctx, format, env)
	if err != nil {
		return nil, fmt.Errorf("encode state data: %w", err)
	}
	c := *s
	c.Data = doc
	return &c, nil
}

// Hydrate возвращает копию состояния с результатом, прочитанным из store.
func (s *State) Hydrate(ctx context.Context, store datadoc.Store) (*State, error) {
	if s == nil || s.hasResult || s.Data == nil {
		return s, nil
	}
	var env resultEnvelope
	if err := store.Decode(ctx, s.Data, &env); err != nil {
		return nil, fmt.Errorf("decode state data: %w", err)
	}
	c := *s
	return c.withResult(env.value()), nil
}

// HasData возвращает true, если у состояния есть результат (в памяти или ссылка).
func (s *State) HasData() bool {
	return s.hasResult || s.Data != nil
}

// payload возвращает данные состояния, десериализуя inline-документ при необходимости.
func (s *State) payload() (any, error) {
	if s.hasResult {
		return s.result, nil
	}
	if s.Data == nil {
		return nil, nil
	}
	var env resultEnvelope
	if err := datadoc.Decode(s.Data, &env); err != nil {
		return nil, fmt.Errorf("decode state data: %w", err)
	}
	return env.value(), nil
}

// Result распаковывает данные состояния.
//
// Для COMPLETED возвращает результат. Для остальных состояний при
// raiseOnFailure=false возвращает данные как есть (ошибку, вложенное
// состояние или их список), при raiseOnFailure=true — ошибку: сохранённую
// ошибку тела, первую ошибку вложенных состояний или ErrStateNotCompleted.
func (s *State) Result(raiseOnFailure bool) (any, error) {
	value, err := s.payload()
	if err != nil {
		return nil, err
	}
	if s.Type == StateCompleted || !raiseOnFailure {
		return value, nil
	}
	if failure := failureOf(value); failure != nil {
		return nil, failure
	}
	if s.Message != "" {
		return nil, fmt.Errorf("%w: %s: %s", ErrStateNotCompleted, s, s.Message)
	}
	return nil, fmt.Errorf("%w: %s", ErrStateNotCompleted, s)
}

// failureOf находит ошибку в данных незавершённого состояния.
func failureOf(value any) error {
	switch v := value.(type) {
	case error:
		return v
	case *State:
		if v == nil || v.IsCompleted() {
			return nil
		}
		_, err := v.Result(true)
		return err
	case []*State:
		for _, nested := range v {
			if err := failureOf(nested); err != nil {
				return err
			}
		}
	}
	return nil
}
