package steps

import (
	"errors"
	"fmt"
)

// Ошибки шагов.
var (
	// ErrStepNotFound — тип шага не найден в реестре.
	ErrStepNotFound = errors.New("step type not found")

	// ErrInvalidConfig — невалидная конфигурация шага.
	ErrInvalidConfig = errors.New("invalid step config")

	// ErrStepTimeout — шаг превысил собственный таймаут.
	ErrStepTimeout = errors.New("step execution timeout")

	// ErrStepCancelled — выполнение шага отменено.
	ErrStepCancelled = errors.New("step execution cancelled")

	// ErrHTTPStatus — HTTP ответ со статусом >= 400.
	ErrHTTPStatus = errors.New("http status error")
)

// HTTPError — HTTP ответ с ошибочным статусом.
type HTTPError struct {
	StatusCode int
	Status     string

	// Body — начало тела ответа.
	Body string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %s", e.Status)
	}
	return fmt.Sprintf("HTTP %s: %s", e.Status, e.Body)
}

// Unwrap позволяет errors.Is(err, ErrHTTPStatus).
func (e *HTTPError) Unwrap() error {
	return ErrHTTPStatus
}

func invalidConfig(stepType, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, stepType, fmt.Sprintf(format, args...))
}
