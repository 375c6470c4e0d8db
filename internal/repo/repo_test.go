package repo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Weaver/internal/domain"
)

func TestRunWhere(t *testing.T) {
	flowID := uuid.New()
	before := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	where, args := runWhere(RunFilter{
		Kind:            domain.RunKindFlow,
		FlowID:          &flowID,
		StateTypes:      []domain.StateType{domain.StateScheduled},
		ScheduledBefore: &before,
		Tags:            []string{"auto-scheduled"},
	})

	assert.Equal(t,
		" WHERE kind = $1 AND flow_id = $2 AND state_type = ANY($3) AND next_scheduled_start_time <= $4 AND tags @> $5",
		where)
	require.Len(t, args, 5)
	assert.Equal(t, "flow", args[0])
	assert.Equal(t, []string{"SCHEDULED"}, args[2])

	where, args = runWhere(RunFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestRunOrder(t *testing.T) {
	assert.Equal(t, "created_at DESC, id", runOrder(""))
	assert.Equal(t, "next_scheduled_start_time ASC NULLS FIRST, id", runOrder(SortNextScheduledAsc))
}

func TestLevelNum(t *testing.T) {
	assert.Equal(t, 0, levelNum("INFO"))
	assert.Equal(t, 8, levelNum("ERROR"))
	assert.Equal(t, -4, levelNum("debug"))
	assert.Equal(t, 0, levelNum("loud"))
}

func TestLevelAtLeast(t *testing.T) {
	assert.True(t, LevelAtLeast("ERROR", "WARN"))
	assert.False(t, LevelAtLeast("DEBUG", "INFO"))
	assert.True(t, LevelAtLeast("DEBUG", ""))
}

func TestMarshalNullable(t *testing.T) {
	var s *domain.Schedule
	data, err := marshalNullable(s)
	require.NoError(t, err)
	assert.Nil(t, data)

	data, err = marshalNullable(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))
}

func TestPrepareRun(t *testing.T) {
	run := &domain.Run{Kind: domain.RunKindFlow, Name: "r", State: domain.Pending()}

	c, initial, err := prepareRun(run)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, c.ID)
	assert.Equal(t, c.ID, initial.Details.RunID)
	assert.Equal(t, domain.StatePending, c.StateType())
	assert.Equal(t, uuid.Nil, run.State.Details.RunID)
}

// Тесты ниже работают с настоящей базой: DB_URL=postgresql://... go test ./internal/repo/
func openStore(t *testing.T) *Postgres {
	t.Helper()

	dsn := os.Getenv("DB_URL")
	if dsn == "" {
		t.Skip("DB_URL is not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	return NewPostgres(pool)
}

func TestPostgresRunLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	flow, err := store.ReadOrCreateFlow(ctx, "pg-lifecycle-"+uuid.NewString())
	require.NoError(t, err)

	run, err := store.CreateRun(ctx, &domain.Run{
		Kind:           domain.RunKindFlow,
		Name:           "lifecycle",
		FlowID:         flow.ID,
		IdempotencyKey: "key-1",
		State:          domain.Pending(),
	})
	require.NoError(t, err)

	again, err := store.CreateRun(ctx, &domain.Run{
		Kind:           domain.RunKindFlow,
		Name:           "duplicate",
		FlowID:         flow.ID,
		IdempotencyKey: "key-1",
		State:          domain.Pending(),
	})
	require.NoError(t, err)
	assert.Equal(t, run.ID, again.ID)

	_, err = store.AppendState(ctx, run.ID, domain.Running())
	require.NoError(t, err)

	done, err := store.AppendState(ctx, run.ID, domain.Completed(nil, "ok"))
	require.NoError(t, err)
	assert.Equal(t, 1, done.RunCount)
	assert.NotNil(t, done.EndTime)

	_, err = store.AppendState(ctx, run.ID, domain.Running())
	assert.ErrorIs(t, err, ErrInvalidState)

	states, err := store.ReadStates(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, states, 3)
	assert.Equal(t, domain.StateCompleted, states[2].Type)
}

func TestPostgresInsertScheduledRuns(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	flow, err := store.ReadOrCreateFlow(ctx, "pg-scheduled-"+uuid.NewString())
	require.NoError(t, err)

	at := time.Now().UTC().Add(time.Hour)
	mk := func(key string) *domain.Run {
		return &domain.Run{
			Kind:           domain.RunKindFlow,
			Name:           key,
			FlowID:         flow.ID,
			IdempotencyKey: key,
			State:          domain.Scheduled(at, "Flow run scheduled"),
		}
	}

	n, err := store.InsertScheduledRuns(ctx, []*domain.Run{mk("a"), mk("b")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.InsertScheduledRuns(ctx, []*domain.Run{mk("a"), mk("c")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := store.CountRuns(ctx, RunFilter{FlowID: &flow.ID, StateTypes: []domain.StateType{domain.StateScheduled}})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
