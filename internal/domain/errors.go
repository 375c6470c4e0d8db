package domain

import "errors"

// Ошибки модели состояний.
var (
	// ErrInvalidTransition — переход между типами состояний запрещён.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrTerminalState — run уже в терминальном состоянии.
	ErrTerminalState = errors.New("run is in a terminal state")

	// ErrStaleTimestamp — timestamp нового состояния не позже текущего.
	ErrStaleTimestamp = errors.New("state timestamp is not after current state")

	// ErrStateNotCompleted — результат запрошен у незавершённого состояния.
	ErrStateNotCompleted = errors.New("state is not completed")

	// ErrInvalidSchedule — расписание deployment некорректно.
	ErrInvalidSchedule = errors.New("invalid schedule")
)
