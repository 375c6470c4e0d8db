package steps

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Registry — встроенные шаги по типу. Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
}

// NewRegistry создаёт реестр из steps.
func NewRegistry(steps ...Step) *Registry {
	r := &Registry{steps: make(map[string]Step, len(steps))}
	for _, s := range steps {
		r.Register(s)
	}
	return r
}

// DefaultRegistry — реестр с шагами delay, http, transform.
func DefaultRegistry() *Registry {
	return NewRegistry(NewDelayStep(), NewHTTPStep(), NewTransformStep())
}

// Register добавляет шаг; шаг того же типа заменяется.
func (r *Registry) Register(step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps[step.Type()] = step
}

// Get возвращает шаг по типу или ErrStepNotFound.
func (r *Registry) Get(stepType string) (Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	step, ok := r.steps[stepType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepType)
	}
	return step, nil
}

// Types возвращает отсортированные типы шагов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.steps))
}
