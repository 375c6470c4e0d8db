// Package lifecycle управляет завершением процесса.
//
// Manager хранит список shutdown-callbacks, зарегистрированных компонентами
// (flush логов, остановка кластера, закрытие соединений), и вызывает их
// в порядке регистрации на явном шаге teardown. Точка входа (main) владеет
// Manager и вызывает Shutdown перед выходом.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrShuttingDown — регистрация после начала Shutdown.
var ErrShuttingDown = errors.New("lifecycle: shutdown already started")

// Hook — shutdown-callback.
type Hook func(ctx context.Context) error

type hook struct {
	name string
	fn   Hook
}

// Manager — упорядоченный список shutdown-callbacks.
type Manager struct {
	logger *slog.Logger

	mu       sync.Mutex
	hooks    []hook
	shutdown bool
	err      error
	done     chan struct{}
}

// New создаёт Manager. logger может быть nil.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, done: make(chan struct{})}
}

// Register добавляет callback. Callbacks вызываются в порядке регистрации.
func (m *Manager) Register(name string, fn Hook) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return fmt.Errorf("%w: %s", ErrShuttingDown, name)
	}
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
	return nil
}

// Len возвращает количество зарегистрированных callbacks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hooks)
}

// Shutdown вызывает все callbacks по порядку.
//
// Ошибка одного callback не останавливает остальные; все ошибки
// объединяются. Повторный вызов ждёт завершения первого и возвращает
// тот же результат.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		select {
		case <-m.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.err
	}
	m.shutdown = true
	hooks := m.hooks
	m.hooks = nil
	m.mu.Unlock()

	var errs []error
	for _, h := range hooks {
		if err := h.fn(ctx); err != nil {
			m.logger.Warn("shutdown hook failed", "hook", h.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		m.logger.Debug("shutdown hook completed", "hook", h.name)
	}

	m.mu.Lock()
	m.err = errors.Join(errs...)
	m.mu.Unlock()
	close(m.done)

	return m.err
}
