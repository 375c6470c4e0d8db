package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Weaver/internal/domain"
	"github.com/shaiso/Weaver/internal/engine"
	"github.com/shaiso/Weaver/internal/repo/memory"
)

func createScheduledRun(t *testing.T, store *memory.Store, flowName string, at time.Time) *domain.Run {
	t.Helper()
	ctx := context.Background()

	flow, err := store.ReadOrCreateFlow(ctx, flowName)
	if err != nil {
		t.Fatalf("ReadOrCreateFlow: %v", err)
	}
	run, err := store.CreateRun(ctx, &domain.Run{
		Kind:   domain.RunKindFlow,
		Name:   flowName + "-scheduled",
		FlowID: flow.ID,
		State:  domain.Scheduled(at, "Flow run scheduled"),
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	return run
}

func readState(t *testing.T, store *memory.Store, id uuid.UUID) *domain.State {
	t.Helper()
	run, err := store.ReadRun(context.Background(), id)
	if err != nil {
		t.Fatalf("ReadRun: %v", err)
	}
	return run.State
}

// blockingRunner завершает flow runs только после закрытия release.
type blockingRunner struct {
	release chan struct{}
	calls   atomic.Int32
}

func (r *blockingRunner) RunExisting(ctx context.Context, _ uuid.UUID) (*domain.State, error) {
	r.calls.Add(1)
	select {
	case <-r.release:
		return domain.Completed(nil, ""), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestAgent_SubmitsDueRuns(t *testing.T) {
	store := memory.New()
	e := engine.New(engine.Config{Store: store})
	e.RegisterFlows(engine.NewFlow("etl", func(ctx context.Context, p engine.Params) (any, error) {
		return "done", nil
	}))

	now := time.Now()
	due := createScheduledRun(t, store, "etl", now.Add(-time.Minute))
	soon := createScheduledRun(t, store, "etl", now.Add(5*time.Second))
	later := createScheduledRun(t, store, "etl", now.Add(time.Hour))

	agent := New(Config{Store: store, Runner: e, Prefetch: 10 * time.Second})
	defer agent.Stop()

	submitted, err := agent.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if submitted != 2 {
		t.Errorf("submitted = %d, want 2", submitted)
	}
	agent.Wait()

	for _, run := range []*domain.Run{due, soon} {
		if got := readState(t, store, run.ID).Type; got != domain.StateCompleted {
			t.Errorf("run %s state = %s, want COMPLETED", run.Name, got)
		}
	}
	if got := readState(t, store, later.ID).Type; got != domain.StateScheduled {
		t.Errorf("later run state = %s, want SCHEDULED", got)
	}

	states, err := store.ReadStates(context.Background(), due.ID)
	if err != nil {
		t.Fatalf("ReadStates: %v", err)
	}
	want := []domain.StateType{domain.StateScheduled, domain.StatePending, domain.StateRunning, domain.StateCompleted}
	if len(states) != len(want) {
		t.Fatalf("got %d states, want %d", len(states), len(want))
	}
	for i, s := range states {
		if s.Type != want[i] {
			t.Errorf("state %d = %s, want %s", i, s.Type, want[i])
		}
	}
}

func TestAgent_SubmissionFailed(t *testing.T) {
	store := memory.New()
	e := engine.New(engine.Config{Store: store})

	run := createScheduledRun(t, store, "unregistered", time.Now().Add(-time.Second))

	agent := New(Config{Store: store, Runner: e})
	defer agent.Stop()

	if _, err := agent.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	agent.Wait()

	state := readState(t, store, run.ID)
	if state.Type != domain.StateFailed {
		t.Fatalf("state = %s, want FAILED", state.Type)
	}
	if state.Message != SubmissionFailedMessage {
		t.Errorf("message = %q, want %q", state.Message, SubmissionFailedMessage)
	}
}

func TestAgent_FlowIDs(t *testing.T) {
	store := memory.New()
	runner := &blockingRunner{release: make(chan struct{})}
	close(runner.release)

	mine := createScheduledRun(t, store, "etl", time.Now().Add(-time.Second))
	other := createScheduledRun(t, store, "report", time.Now().Add(-time.Second))

	agent := New(Config{Store: store, Runner: runner, FlowIDs: []uuid.UUID{mine.FlowID}})
	defer agent.Stop()

	submitted, err := agent.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	agent.Wait()

	if submitted != 1 {
		t.Errorf("submitted = %d, want 1", submitted)
	}
	if got := readState(t, store, other.ID).Type; got != domain.StateScheduled {
		t.Errorf("other flow run state = %s, want SCHEDULED", got)
	}
}

func TestAgent_Limit(t *testing.T) {
	store := memory.New()
	runner := &blockingRunner{release: make(chan struct{})}

	past := time.Now().Add(-time.Minute)
	createScheduledRun(t, store, "etl", past)
	createScheduledRun(t, store, "etl", past.Add(time.Second))

	agent := New(Config{Store: store, Runner: runner, Limit: 1})
	defer agent.Stop()

	submitted, err := agent.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if submitted != 1 {
		t.Fatalf("submitted = %d, want 1", submitted)
	}
	if n := agent.inflight.len(); n != 1 {
		t.Errorf("in flight = %d, want 1", n)
	}

	// Слот занят: второй run ждёт.
	submitted, err = agent.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if submitted != 0 {
		t.Errorf("submitted while at limit = %d, want 0", submitted)
	}

	close(runner.release)
	agent.Wait()

	submitted, err = agent.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if submitted != 1 {
		t.Errorf("submitted after release = %d, want 1", submitted)
	}
	agent.Wait()

	if got := runner.calls.Load(); got != 2 {
		t.Errorf("runner calls = %d, want 2", got)
	}
}

func TestAgent_Stop(t *testing.T) {
	store := memory.New()
	runner := &blockingRunner{release: make(chan struct{})}
	run := createScheduledRun(t, store, "etl", time.Now().Add(-time.Minute))

	agent := New(Config{Store: store, Runner: runner})
	if _, err := agent.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	agent.Stop()

	if !agent.IsStopped() {
		t.Error("agent should be stopped")
	}
	if _, err := agent.RunOnce(context.Background()); !errors.Is(err, ErrAgentStopped) {
		t.Errorf("RunOnce after Stop: err = %v, want ErrAgentStopped", err)
	}
	// Прерванный runner вернул ошибку: run помечен FAILED.
	if got := readState(t, store, run.ID).Type; got != domain.StateFailed {
		t.Errorf("state = %s, want FAILED", got)
	}
}

func TestInflight(t *testing.T) {
	f := newInflight()
	id := uuid.New()

	if !f.add(id) {
		t.Fatal("first add should succeed")
	}
	if f.add(id) {
		t.Error("second add should fail")
	}
	if ids := f.ids(); len(ids) != 1 || ids[0] != id {
		t.Errorf("ids = %v", ids)
	}
	f.remove(id)
	if f.len() != 0 {
		t.Errorf("len = %d, want 0", f.len())
	}
}
