package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/Weaver/internal/domain"
	"github.com/shaiso/Weaver/internal/repo"
)

func flowRun(flowID uuid.UUID, key string, at time.Time) *domain.Run {
	return &domain.Run{
		ID:             uuid.New(),
		Kind:           domain.RunKindFlow,
		Name:           "run",
		FlowID:         flowID,
		IdempotencyKey: key,
		State:          domain.Scheduled(at, "Flow run scheduled"),
	}
}

func TestCreateRun_IdempotencyKey(t *testing.T) {
	s := New()
	ctx := context.Background()
	flowID := uuid.New()
	at := time.Now().Add(time.Hour)

	first, err := s.CreateRun(ctx, flowRun(flowID, "k", at))
	require.NoError(t, err)
	assert.Equal(t, domain.StateScheduled, first.StateType())
	assert.Equal(t, first.ID, first.State.Details.RunID)
	require.NotNil(t, first.ExpectedStartTime)

	second, err := s.CreateRun(ctx, flowRun(flowID, "k", at))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := s.CreateRun(ctx, flowRun(uuid.New(), "k", at))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestAppendState_RejectsStaleAndTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()

	run, err := s.CreateRun(ctx, &domain.Run{Kind: domain.RunKindTask, State: domain.Pending()})
	require.NoError(t, err)

	stale := domain.Running()
	stale.Timestamp = run.State.Timestamp
	_, err = s.AppendState(ctx, run.ID, stale)
	assert.ErrorIs(t, err, repo.ErrInvalidState)
	assert.ErrorIs(t, err, domain.ErrStaleTimestamp)

	running := domain.Running()
	running.Timestamp = domain.NextTimestamp(run.State)
	run, err = s.AppendState(ctx, run.ID, running)
	require.NoError(t, err)
	assert.Equal(t, 1, run.RunCount)

	done := domain.Completed(1, "")
	done.Timestamp = domain.NextTimestamp(run.State)
	run, err = s.AppendState(ctx, run.ID, done)
	require.NoError(t, err)
	require.NotNil(t, run.EndTime)

	again := domain.Running()
	again.Timestamp = domain.NextTimestamp(run.State)
	_, err = s.AppendState(ctx, run.ID, again)
	assert.ErrorIs(t, err, domain.ErrTerminalState)

	history, err := s.ReadStates(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.StateCompleted, history[2].Type)

	_, err = s.AppendState(ctx, uuid.New(), domain.Pending())
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestInsertScheduledRuns_SkipsConflicts(t *testing.T) {
	s := New()
	ctx := context.Background()
	flowID := uuid.New()
	at := time.Now().Add(time.Hour)

	n, err := s.InsertScheduledRuns(ctx, []*domain.Run{flowRun(flowID, "a", at), flowRun(flowID, "b", at)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.InsertScheduledRuns(ctx, []*domain.Run{flowRun(flowID, "a", at), flowRun(flowID, "c", at)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := s.CountRuns(ctx, repo.RunFilter{FlowID: &flowID})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestFindCachedState(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	run, err := s.CreateRun(ctx, &domain.Run{Kind: domain.RunKindTask, State: domain.Pending()})
	require.NoError(t, err)

	exp := now.Add(time.Minute)
	done := domain.Completed("v", "")
	done.Details.CacheKey = "key"
	done.Details.CacheExpiration = &exp
	done.Timestamp = domain.NextTimestamp(run.State)
	_, err = s.AppendState(ctx, run.ID, done)
	require.NoError(t, err)

	cached, err := s.FindCachedState(ctx, "key", now)
	require.NoError(t, err)
	assert.Equal(t, run.ID, cached.Details.RunID)

	_, err = s.FindCachedState(ctx, "key", now.Add(2*time.Minute))
	assert.ErrorIs(t, err, repo.ErrNotFound)

	_, err = s.FindCachedState(ctx, "other", now)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestListRuns_FiltersAndSorts(t *testing.T) {
	s := New()
	ctx := context.Background()
	flowID := uuid.New()
	base := time.Now().Add(time.Hour).UTC()

	for i := 3; i >= 1; i-- {
		r := flowRun(flowID, uuid.NewString(), base.Add(time.Duration(i)*time.Hour))
		r.Tags = []string{"auto-scheduled"}
		_, err := s.CreateRun(ctx, r)
		require.NoError(t, err)
	}
	_, err := s.CreateRun(ctx, &domain.Run{Kind: domain.RunKindFlow, FlowID: flowID, State: domain.Pending()})
	require.NoError(t, err)

	before := base.Add(2 * time.Hour)
	runs, err := s.ListRuns(ctx, repo.RunFilter{
		StateTypes:      []domain.StateType{domain.StateScheduled},
		ScheduledBefore: &before,
		Tags:            []string{"auto-scheduled"},
		Sort:            repo.SortNextScheduledAsc,
	})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.True(t, runs[0].NextScheduledStartTime.Before(*runs[1].NextScheduledStartTime))

	runs, err = s.ListRuns(ctx, repo.RunFilter{FlowID: &flowID, Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = s.ListRuns(ctx, repo.RunFilter{ExcludeIDs: []uuid.UUID{runs[0].ID}, FlowID: &flowID})
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	runs, err = s.ListRuns(ctx, repo.RunFilter{FlowIDs: []uuid.UUID{uuid.New()}})
	require.NoError(t, err)
	assert.Empty(t, runs)

	runs, err = s.ListRuns(ctx, repo.RunFilter{FlowIDs: []uuid.UUID{uuid.New(), flowID}})
	require.NoError(t, err)
	assert.Len(t, runs, 4)
}

func TestDeployments_UpsertByName(t *testing.T) {
	s := New()
	ctx := context.Background()
	flow, err := s.ReadOrCreateFlow(ctx, "etl")
	require.NoError(t, err)

	again, err := s.ReadOrCreateFlow(ctx, "etl")
	require.NoError(t, err)
	assert.Equal(t, flow.ID, again.ID)

	d := &domain.Deployment{Name: "hourly", FlowID: flow.ID, IsScheduleActive: true,
		Schedule: domain.IntervalSchedule(time.Hour, nil)}
	require.NoError(t, s.CreateDeployment(ctx, d))

	update := &domain.Deployment{Name: "hourly", FlowID: flow.ID, Schedule: domain.IntervalSchedule(2*time.Hour, nil)}
	require.NoError(t, s.CreateDeployment(ctx, update))
	assert.Equal(t, d.ID, update.ID)

	require.NoError(t, s.SetScheduleActive(ctx, d.ID, true))
	active := true
	list, err := s.ListDeployments(ctx, repo.DeploymentFilter{ScheduleActive: &active})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2*time.Hour, list[0].Schedule.Interval)

	assert.ErrorIs(t, s.SetScheduleActive(ctx, uuid.New(), false), repo.ErrNotFound)
}

func TestReadFlowByName(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.ReadFlowByName(ctx, "etl")
	assert.ErrorIs(t, err, repo.ErrNotFound)

	created, err := s.ReadOrCreateFlow(ctx, "etl")
	require.NoError(t, err)

	found, err := s.ReadFlowByName(ctx, "etl")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
}

func TestLogs_Filter(t *testing.T) {
	s := New()
	ctx := context.Background()
	flowRunID := uuid.New()
	taskRunID := uuid.New()
	now := time.Now()

	require.NoError(t, s.WriteLogs(ctx, []domain.Log{
		{Name: "weaver.flow_runs", Level: "INFO", Message: "b", Timestamp: now.Add(time.Second), FlowRunID: flowRunID},
		{Name: "weaver.task_runs", Level: "DEBUG", Message: "a", Timestamp: now, FlowRunID: flowRunID, TaskRunID: &taskRunID},
		{Name: "weaver.flow_runs", Level: "ERROR", Message: "c", Timestamp: now, FlowRunID: uuid.New()},
	}))

	logs, err := s.ReadLogs(ctx, repo.LogFilter{FlowRunID: &flowRunID})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "a", logs[0].Message)

	logs, err = s.ReadLogs(ctx, repo.LogFilter{FlowRunID: &flowRunID, MinLevel: "INFO"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "b", logs[0].Message)

	logs, err = s.ReadLogs(ctx, repo.LogFilter{TaskRunID: &taskRunID})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}
