package orchestrator

import (
	"sync"

	"github.com/google/uuid"
)

// inflight — flow runs, отправленные agent и ещё не завершённые.
type inflight struct {
	mu   sync.Mutex
	runs map[uuid.UUID]struct{}
}

func newInflight() *inflight {
	return &inflight{runs: make(map[uuid.UUID]struct{})}
}

// add отмечает run как выполняемый. Возвращает false, если он уже отмечен.
func (f *inflight) add(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[id]; ok {
		return false
	}
	f.runs[id] = struct{}{}
	return true
}

func (f *inflight) remove(id uuid.UUID) {
	f.mu.Lock()
	delete(f.runs, id)
	f.mu.Unlock()
}

func (f *inflight) ids() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uuid.UUID, 0, len(f.runs))
	for id := range f.runs {
		out = append(out, id)
	}
	return out
}

func (f *inflight) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}
