package domain

import (
	"fmt"
	"time"
)

// allowedTransitions — допустимые переходы. Ключ "" — начальное состояние run.
var allowedTransitions = map[StateType]map[StateType]bool{
	"": {
		StateScheduled: true,
		StatePending:   true,
	},
	StateScheduled: {
		StatePending:   true,
		StateRunning:   true,
		StateFailed:    true,
		StateCrashed:   true,
		StateCancelled: true,
	},
	StatePending: {
		StatePending:   true,
		StateRunning:   true,
		StateCompleted: true,
		StateFailed:    true,
		StateCrashed:   true,
		StateCancelled: true,
	},
	StateRunning: {
		StateScheduled: true,
		StateCompleted: true,
		StateFailed:    true,
		StateCrashed:   true,
		StateTimedOut:  true,
		StateCancelled: true,
	},
}

// CanTransition проверяет, разрешён ли переход from → to.
// from == "" означает run без состояния.
func CanTransition(from, to StateType) bool {
	return allowedTransitions[from][to]
}

// ValidateTransition проверяет добавление next поверх current.
//
// Запрещены переходы из терминальных состояний, переходы вне таблицы
// и состояния с timestamp не позже текущего.
func ValidateTransition(current, next *State) error {
	var from StateType
	if current != nil {
		if current.Type.IsTerminal() {
			return fmt.Errorf("%w: %s → %s", ErrTerminalState, current.Type, next.Type)
		}
		from = current.Type
	}

	if !CanTransition(from, next.Type) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, stateLabel(from), next.Type)
	}

	if current != nil && !next.Timestamp.After(current.Timestamp) {
		return fmt.Errorf("%w: %s <= %s", ErrStaleTimestamp,
			next.Timestamp.Format(time.RFC3339Nano), current.Timestamp.Format(time.RFC3339Nano))
	}

	return nil
}

// NextTimestamp возвращает время для состояния, следующего за current:
// текущее время или, если часы не продвинулись, current + 1µs.
func NextTimestamp(current *State) time.Time {
	now := Now()
	if current != nil && !now.After(current.Timestamp) {
		return current.Timestamp.Add(time.Microsecond)
	}
	return now
}

func stateLabel(t StateType) string {
	if t == "" {
		return "<none>"
	}
	return string(t)
}
