// Package memory — Record Store в памяти процесса.
//
// Используется в тестах и для локального запуска flows без базы данных.
// Реализует те же контракты, что и Postgres-хранилище.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Weaver/internal/domain"
	"github.com/shaiso/Weaver/internal/repo"
)

type idemKey struct {
	flowID uuid.UUID
	key    string
}

// Store — потокобезопасный Record Store в памяти.
type Store struct {
	mu sync.RWMutex

	runs   map[uuid.UUID]*domain.Run
	states map[uuid.UUID][]*domain.State
	idem   map[idemKey]uuid.UUID

	flows       map[uuid.UUID]*domain.Flow
	flowsByName map[string]uuid.UUID

	deployments map[uuid.UUID]*domain.Deployment

	logs []domain.Log
}

var _ repo.Store = (*Store)(nil)

// New создаёт пустой Store.
func New() *Store {
	return &Store{
		runs:        make(map[uuid.UUID]*domain.Run),
		states:      make(map[uuid.UUID][]*domain.State),
		idem:        make(map[idemKey]uuid.UUID),
		flows:       make(map[uuid.UUID]*domain.Flow),
		flowsByName: make(map[string]uuid.UUID),
		deployments: make(map[uuid.UUID]*domain.Deployment),
	}
}

// --- Runs ---

// CreateRun реализует repo.RunStore.
func (s *Store) CreateRun(_ context.Context, run *domain.Run) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byIdempotencyKey(run); ok {
		return cloneRun(existing), nil
	}
	created, err := s.insert(run)
	if err != nil {
		return nil, err
	}
	return cloneRun(created), nil
}

func (s *Store) byIdempotencyKey(run *domain.Run) (*domain.Run, bool) {
	if run.Kind != domain.RunKindFlow || run.IdempotencyKey == "" {
		return nil, false
	}
	id, ok := s.idem[idemKey{run.FlowID, run.IdempotencyKey}]
	if !ok {
		return nil, false
	}
	return s.runs[id], true
}

// insert сохраняет run с начальным состоянием. Вызывается под s.mu.
func (s *Store) insert(run *domain.Run) (*domain.Run, error) {
	c := cloneRun(run)
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, ok := s.runs[c.ID]; ok {
		return nil, fmt.Errorf("run %s: %w", c.ID, repo.ErrAlreadyExists)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = domain.Now()
	}

	initial := c.State
	c.State = nil
	if initial != nil {
		st := *initial
		if err := c.ApplyState(&st); err != nil {
			return nil, fmt.Errorf("%w: %w", repo.ErrInvalidState, err)
		}
		s.states[c.ID] = []*domain.State{&st}
	}

	s.runs[c.ID] = c
	if c.Kind == domain.RunKindFlow && c.IdempotencyKey != "" {
		s.idem[idemKey{c.FlowID, c.IdempotencyKey}] = c.ID
	}
	return c, nil
}

// ReadRun реализует repo.RunStore.
func (s *Store) ReadRun(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, repo.ErrNotFound)
	}
	return cloneRun(run), nil
}

// AppendState реализует repo.RunStore.
func (s *Store) AppendState(_ context.Context, runID uuid.UUID, state *domain.State) (*domain.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, repo.ErrNotFound)
	}

	st := *state
	if err := run.ApplyState(&st); err != nil {
		return nil, fmt.Errorf("%w: %w", repo.ErrInvalidState, err)
	}
	s.states[runID] = append(s.states[runID], &st)
	return cloneRun(run), nil
}

// ReadStates реализует repo.RunStore.
func (s *Store) ReadStates(_ context.Context, runID uuid.UUID) ([]*domain.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("run %s: %w", runID, repo.ErrNotFound)
	}
	return slices.Clone(s.states[runID]), nil
}

// CountRuns реализует repo.RunStore.
func (s *Store) CountRuns(_ context.Context, filter repo.RunFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, run := range s.runs {
		if matchRun(run, filter) {
			n++
		}
	}
	return n, nil
}

// ListRuns реализует repo.RunStore.
func (s *Store) ListRuns(_ context.Context, filter repo.RunFilter) ([]*domain.Run, error) {
	s.mu.RLock()
	var runs []*domain.Run
	for _, run := range s.runs {
		if matchRun(run, filter) {
			runs = append(runs, cloneRun(run))
		}
	}
	s.mu.RUnlock()

	sortRuns(runs, filter.Sort)
	return paginate(runs, filter.Offset, filter.Limit), nil
}

// InsertScheduledRuns реализует repo.RunStore.
func (s *Store) InsertScheduledRuns(_ context.Context, runs []*domain.Run) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, run := range runs {
		if _, ok := s.byIdempotencyKey(run); ok {
			continue
		}
		if _, ok := s.runs[run.ID]; ok && run.ID != uuid.Nil {
			continue
		}
		if _, err := s.insert(run); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

// FindCachedState реализует repo.RunStore.
func (s *Store) FindCachedState(_ context.Context, cacheKey string, now time.Time) (*domain.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.State
	for _, history := range s.states {
		for _, st := range history {
			if st.Type != domain.StateCompleted || st.Details.CacheKey != cacheKey {
				continue
			}
			if exp := st.Details.CacheExpiration; exp != nil && !exp.After(now) {
				continue
			}
			if found == nil || st.Timestamp.After(found.Timestamp) {
				found = st
			}
		}
	}
	if found == nil {
		return nil, fmt.Errorf("cache key %q: %w", cacheKey, repo.ErrNotFound)
	}
	return found, nil
}

// --- Flows ---

// ReadOrCreateFlow реализует repo.FlowStore.
func (s *Store) ReadOrCreateFlow(_ context.Context, name string) (*domain.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.flowsByName[name]; ok {
		f := *s.flows[id]
		return &f, nil
	}

	f := &domain.Flow{ID: uuid.New(), Name: name, CreatedAt: domain.Now()}
	s.flows[f.ID] = f
	s.flowsByName[name] = f.ID

	c := *f
	return &c, nil
}

// ReadFlow реализует repo.FlowStore.
func (s *Store) ReadFlow(_ context.Context, id uuid.UUID) (*domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[id]
	if !ok {
		return nil, fmt.Errorf("flow %s: %w", id, repo.ErrNotFound)
	}
	c := *f
	return &c, nil
}

// ReadFlowByName реализует repo.FlowStore.
func (s *Store) ReadFlowByName(_ context.Context, name string) (*domain.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.flowsByName[name]
	if !ok {
		return nil, fmt.Errorf("flow %q: %w", name, repo.ErrNotFound)
	}
	c := *s.flows[id]
	return &c, nil
}

// --- Deployments ---

// CreateDeployment реализует repo.DeploymentStore.
func (s *Store) CreateDeployment(_ context.Context, d *domain.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := domain.Now()
	for _, existing := range s.deployments {
		if existing.FlowID == d.FlowID && existing.Name == d.Name {
			d.ID = existing.ID
			d.CreatedAt = existing.CreatedAt
			break
		}
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	c := *d
	s.deployments[d.ID] = &c
	return nil
}

// ReadDeployment реализует repo.DeploymentStore.
func (s *Store) ReadDeployment(_ context.Context, id uuid.UUID) (*domain.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deployments[id]
	if !ok {
		return nil, fmt.Errorf("deployment %s: %w", id, repo.ErrNotFound)
	}
	c := *d
	return &c, nil
}

// ListDeployments реализует repo.DeploymentStore.
func (s *Store) ListDeployments(_ context.Context, filter repo.DeploymentFilter) ([]*domain.Deployment, error) {
	s.mu.RLock()
	var out []*domain.Deployment
	for _, d := range s.deployments {
		if filter.FlowID != nil && d.FlowID != *filter.FlowID {
			continue
		}
		if filter.ScheduleActive != nil && d.IsScheduleActive != *filter.ScheduleActive {
			continue
		}
		c := *d
		out = append(out, &c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return paginate(out, filter.Offset, filter.Limit), nil
}

// SetScheduleActive реализует repo.DeploymentStore.
func (s *Store) SetScheduleActive(_ context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deployments[id]
	if !ok {
		return fmt.Errorf("deployment %s: %w", id, repo.ErrNotFound)
	}
	d.IsScheduleActive = active
	d.UpdatedAt = domain.Now()
	return nil
}

// --- Logs ---

// WriteLogs реализует repo.LogStore.
func (s *Store) WriteLogs(_ context.Context, logs []domain.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, logs...)
	return nil
}

// ReadLogs реализует repo.LogStore.
func (s *Store) ReadLogs(_ context.Context, filter repo.LogFilter) ([]domain.Log, error) {
	s.mu.RLock()
	var out []domain.Log
	for _, l := range s.logs {
		if filter.FlowRunID != nil && l.FlowRunID != *filter.FlowRunID {
			continue
		}
		if filter.TaskRunID != nil && (l.TaskRunID == nil || *l.TaskRunID != *filter.TaskRunID) {
			continue
		}
		if !repo.LevelAtLeast(l.Level, filter.MinLevel) {
			continue
		}
		out = append(out, l)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return paginate(out, filter.Offset, filter.Limit), nil
}

// --- Helpers ---

func cloneRun(r *domain.Run) *domain.Run {
	c := *r
	c.Tags = slices.Clone(r.Tags)
	if r.Parameters != nil {
		c.Parameters = make(map[string]any, len(r.Parameters))
		for k, v := range r.Parameters {
			c.Parameters[k] = v
		}
	}
	if r.TaskInputs != nil {
		c.TaskInputs = make(map[string][]domain.RunRef, len(r.TaskInputs))
		for k, v := range r.TaskInputs {
			c.TaskInputs[k] = slices.Clone(v)
		}
	}
	return &c
}

func matchRun(run *domain.Run, f repo.RunFilter) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, run.ID) {
		return false
	}
	if slices.Contains(f.ExcludeIDs, run.ID) {
		return false
	}
	if f.Kind != "" && run.Kind != f.Kind {
		return false
	}
	if f.FlowID != nil && run.FlowID != *f.FlowID {
		return false
	}
	if len(f.FlowIDs) > 0 && !slices.Contains(f.FlowIDs, run.FlowID) {
		return false
	}
	if f.FlowRunID != nil && (run.FlowRunID == nil || *run.FlowRunID != *f.FlowRunID) {
		return false
	}
	if f.DeploymentID != nil && (run.DeploymentID == nil || *run.DeploymentID != *f.DeploymentID) {
		return false
	}
	if len(f.StateTypes) > 0 && !slices.Contains(f.StateTypes, run.StateType()) {
		return false
	}
	if f.StateName != "" && (run.State == nil || run.State.Name != f.StateName) {
		return false
	}
	if f.ScheduledBefore != nil {
		next := run.NextScheduledStartTime
		if next == nil || next.After(*f.ScheduledBefore) {
			return false
		}
	}
	for _, tag := range f.Tags {
		if !slices.Contains(run.Tags, tag) {
			return false
		}
	}
	return true
}

func sortRuns(runs []*domain.Run, order repo.RunSort) {
	timeOf := func(t *time.Time) time.Time {
		if t == nil {
			return time.Time{}
		}
		return *t
	}

	var less func(a, b *domain.Run) bool
	switch order {
	case repo.SortExpectedStartAsc:
		less = func(a, b *domain.Run) bool {
			return timeOf(a.ExpectedStartTime).Before(timeOf(b.ExpectedStartTime))
		}
	case repo.SortExpectedStartDesc:
		less = func(a, b *domain.Run) bool {
			return timeOf(a.ExpectedStartTime).After(timeOf(b.ExpectedStartTime))
		}
	case repo.SortNextScheduledAsc:
		less = func(a, b *domain.Run) bool {
			return timeOf(a.NextScheduledStartTime).Before(timeOf(b.NextScheduledStartTime))
		}
	default:
		less = func(a, b *domain.Run) bool {
			return a.CreatedAt.After(b.CreatedAt)
		}
	}

	sort.SliceStable(runs, func(i, j int) bool {
		if less(runs[i], runs[j]) {
			return true
		}
		if less(runs[j], runs[i]) {
			return false
		}
		return runs[i].ID.String() < runs[j].ID.String()
	})
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
