package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Weaver/internal/datadoc"
)

func at(base time.Time, s *State, offset time.Duration) *State {
	s.Timestamp = base.Add(offset)
	return s
}

func TestValidateTransition_RejectsStaleTimestamps(t *testing.T) {
	base := Now()
	for from, targets := range allowedTransitions {
		if from == "" {
			continue
		}
		for to := range targets {
			current := NewState(from, "", "")
			current.Timestamp = base

			for _, offset := range []time.Duration{0, -time.Second} {
				next := at(base, NewState(to, "", ""), offset)
				err := ValidateTransition(current, next)
				assert.ErrorIs(t, err, ErrStaleTimestamp, "%s → %s offset %s", from, to, offset)
			}

			next := at(base, NewState(to, "", ""), time.Microsecond)
			assert.NoError(t, ValidateTransition(current, next), "%s → %s", from, to)
		}
	}
}

func TestValidateTransition_TerminalStatesAreFinal(t *testing.T) {
	base := Now()
	for _, terminal := range []StateType{StateCompleted, StateFailed, StateCrashed, StateTimedOut, StateCancelled} {
		current := at(base, NewState(terminal, "", ""), 0)
		next := at(base, Running(), time.Second)
		assert.ErrorIs(t, ValidateTransition(current, next), ErrTerminalState, terminal)
	}
}

func TestValidateTransition_Table(t *testing.T) {
	base := Now()
	tests := []struct {
		from, to StateType
		ok       bool
	}{
		{"", StatePending, true},
		{"", StateScheduled, true},
		{"", StateRunning, false},
		{StateScheduled, StatePending, true},
		{StatePending, StateRunning, true},
		{StatePending, StateTimedOut, false},
		{StateRunning, StateScheduled, true},
		{StateRunning, StateRunning, false},
		{StateRunning, StatePending, false},
	}
	for _, tt := range tests {
		var current *State
		if tt.from != "" {
			current = at(base, NewState(tt.from, "", ""), 0)
		}
		err := ValidateTransition(current, at(base, NewState(tt.to, "", ""), time.Second))
		if tt.ok {
			assert.NoError(t, err, "%s → %s", tt.from, tt.to)
		} else {
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s → %s", tt.from, tt.to)
		}
	}
}

func TestNextTimestamp_Monotonic(t *testing.T) {
	future := NewState(StateRunning, "", "")
	future.Timestamp = Now().Add(time.Hour)

	next := NextTimestamp(future)
	assert.True(t, next.After(future.Timestamp))
	assert.Equal(t, time.Microsecond, next.Sub(future.Timestamp))
}

func TestRun_ApplyState_Bookkeeping(t *testing.T) {
	base := Now()
	run := &Run{ID: uuid.New(), Kind: RunKindTask}

	require.NoError(t, run.ApplyState(at(base, Pending(), 0)))
	require.NoError(t, run.ApplyState(at(base, Running(), time.Second)))
	require.NoError(t, run.ApplyState(at(base, AwaitingRetry(base, ""), 3*time.Second)))
	require.NoError(t, run.ApplyState(at(base, Running(), 4*time.Second)))
	require.NoError(t, run.ApplyState(at(base, Completed(1, ""), 10*time.Second)))

	assert.Equal(t, 2, run.RunCount)
	assert.Equal(t, 8*time.Second, run.TotalRunTime)
	require.NotNil(t, run.StartTime)
	assert.Equal(t, base.Add(time.Second), *run.StartTime)
	require.NotNil(t, run.EndTime)
	assert.Equal(t, base.Add(10*time.Second), *run.EndTime)
	assert.Equal(t, run.ID, run.State.Details.RunID)
	assert.True(t, run.IsFinished())

	err := run.ApplyState(at(base, Running(), 11*time.Second))
	assert.ErrorIs(t, err, ErrTerminalState)
	assert.Equal(t, 2, run.RunCount)
}

func TestRun_ApplyState_ScheduledSetsExpectedStart(t *testing.T) {
	when := Now().Add(time.Hour)
	run := &Run{ID: uuid.New(), Kind: RunKindFlow}

	require.NoError(t, run.ApplyState(Scheduled(when, "Flow run scheduled")))
	require.NotNil(t, run.ExpectedStartTime)
	assert.Equal(t, when, *run.ExpectedStartTime)
	require.NotNil(t, run.NextScheduledStartTime)
	assert.Equal(t, when, *run.NextScheduledStartTime)
}

func TestState_Result(t *testing.T) {
	boom := errors.New("boom")

	value, err := Completed(42, "").Result(true)
	require.NoError(t, err)
	assert.Equal(t, 42, value)

	_, err = Failed("failed", boom).Result(true)
	assert.ErrorIs(t, err, boom)

	value, err = Failed("failed", boom).Result(false)
	require.NoError(t, err)
	assert.Equal(t, boom, value)

	_, err = NotReady("upstream").Result(true)
	assert.ErrorIs(t, err, ErrStateNotCompleted)
}

func TestState_Result_NestedStates(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	children := []*State{Failed("", errA), Failed("", errB), Completed("ok", "")}
	parent := Failed("2/3 states failed.", children)

	_, err := parent.Result(true)
	assert.ErrorIs(t, err, errA)

	value, err := parent.Result(false)
	require.NoError(t, err)
	nested, ok := value.([]*State)
	require.True(t, ok)
	require.Len(t, nested, 3)

	_, err = nested[0].Result(true)
	assert.ErrorIs(t, err, errA)
	_, err = nested[1].Result(true)
	assert.ErrorIs(t, err, errB)
	v, err := nested[2].Result(true)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	wrapped := Failed("", Failed("", errB))
	_, err = wrapped.Result(true)
	assert.ErrorIs(t, err, errB)
}

func TestState_EncodeHydrate(t *testing.T) {
	ctx := context.Background()
	store := datadoc.NewInlineStore()

	for _, format := range datadoc.Formats() {
		t.Run(format, func(t *testing.T) {
			children := []*State{
				Failed("failed", errors.New("upstream exploded")),
				Completed(map[string]any{"stars": "10"}, ""),
			}
			encoded, err := Failed("1/2 states failed.", children).Encode(ctx, store, format)
			require.NoError(t, err)
			require.NotNil(t, encoded.Data)

			// Состояние, прочитанное из Record Store, не имеет результата в памяти.
			stored := *encoded
			stored.result, stored.hasResult = nil, false

			value, err := stored.Result(false)
			require.NoError(t, err)
			nested, ok := value.([]*State)
			require.True(t, ok)
			require.Len(t, nested, 2)

			_, err = nested[0].Result(true)
			var captured *CapturedError
			require.ErrorAs(t, err, &captured)
			assert.Equal(t, "upstream exploded", captured.Message)
			assert.Equal(t, "*errors.errorString", captured.Type)

			v, err := nested[1].Result(true)
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"stars": "10"}, v)

			hydrated, err := (&stored).Hydrate(ctx, store)
			require.NoError(t, err)
			assert.True(t, hydrated.HasData())
		})
	}
}

func TestCapture_PanicKeepsStack(t *testing.T) {
	captured := Capture(&PanicError{Value: "bad", Stack: "goroutine 1 [running]"})
	assert.Equal(t, "panic: bad", captured.Message)
	assert.Equal(t, "goroutine 1 [running]", captured.Traceback)
}

func TestCapture_ErrorChain(t *testing.T) {
	root := errors.New("root")
	captured := Capture(errors.Join(root))
	assert.Contains(t, captured.Traceback, "root")
	assert.ErrorIs(t, captured, root)
}

func TestSchedule_Validate(t *testing.T) {
	assert.NoError(t, IntervalSchedule(time.Hour, nil).Validate())
	assert.NoError(t, CronSchedule("0 9 * * *", "UTC").Validate())
	assert.ErrorIs(t, IntervalSchedule(0, nil).Validate(), ErrInvalidSchedule)
	assert.ErrorIs(t, CronSchedule("", "").Validate(), ErrInvalidSchedule)
	assert.ErrorIs(t, CronSchedule("* * * * *", "Mars/Olympus").Validate(), ErrInvalidSchedule)
	assert.ErrorIs(t, (&Schedule{Kind: "rrule"}).Validate(), ErrInvalidSchedule)
}
