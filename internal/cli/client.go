package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/Weaver/internal/domain"
	"github.com/shaiso/Weaver/internal/repo"
)

// ErrInvalidArgument — некорректный аргумент команды.
var ErrInvalidArgument = errors.New("invalid argument")

// FlowRun — flow run с именем flow для вывода.
type FlowRun struct {
	*domain.Run
	FlowName string `json:"flow_name"`
}

// FlowRunDetails — flow run вместе с его task runs.
type FlowRunDetails struct {
	FlowRun
	TaskRuns []*domain.Run `json:"task_runs"`
}

// ListRunsOpts — фильтры flow-run ls.
type ListRunsOpts struct {
	Flow  string
	State string
	Limit int
}

// Client выполняет команды CLI напрямую над Record Store.
type Client struct {
	store repo.Store

	flowNames map[uuid.UUID]string
}

// NewClient создаёт Client.
func NewClient(store repo.Store) *Client {
	return &Client{store: store, flowNames: make(map[uuid.UUID]string)}
}

// ListFlowRuns возвращает flow runs, новые первыми.
func (c *Client) ListFlowRuns(ctx context.Context, opts ListRunsOpts) ([]FlowRun, error) {
	filter := repo.RunFilter{
		Kind:  domain.RunKindFlow,
		Sort:  repo.SortCreatedDesc,
		Limit: opts.Limit,
	}

	if opts.Flow != "" {
		flow, err := c.store.ReadFlowByName(ctx, opts.Flow)
		if errors.Is(err, repo.ErrNotFound) {
			return []FlowRun{}, nil
		}
		if err != nil {
			return nil, err
		}
		filter.FlowID = &flow.ID
	}

	if opts.State != "" {
		st, ok := domain.ParseStateType(strings.ToUpper(opts.State))
		if !ok {
			return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidArgument, opts.State)
		}
		filter.StateTypes = []domain.StateType{st}
	}

	runs, err := c.store.ListRuns(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list flow runs: %w", err)
	}

	out := make([]FlowRun, len(runs))
	for i, run := range runs {
		out[i] = FlowRun{Run: run, FlowName: c.flowName(ctx, run.FlowID)}
	}
	return out, nil
}

// InspectFlowRun возвращает flow run и его task runs.
func (c *Client) InspectFlowRun(ctx context.Context, rawID string) (*FlowRunDetails, error) {
	id, err := parseID(rawID)
	if err != nil {
		return nil, err
	}

	run, err := c.store.ReadRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Kind != domain.RunKindFlow {
		return nil, fmt.Errorf("%w: %s is a %s run", ErrInvalidArgument, id, run.Kind)
	}

	taskRuns, err := c.store.ListRuns(ctx, repo.RunFilter{
		Kind:      domain.RunKindTask,
		FlowRunID: &id,
		Sort:      repo.SortExpectedStartAsc,
	})
	if err != nil {
		return nil, fmt.Errorf("list task runs: %w", err)
	}

	return &FlowRunDetails{
		FlowRun:  FlowRun{Run: run, FlowName: c.flowName(ctx, run.FlowID)},
		TaskRuns: taskRuns,
	}, nil
}

// States возвращает историю состояний run.
func (c *Client) States(ctx context.Context, rawID string) ([]*domain.State, error) {
	id, err := parseID(rawID)
	if err != nil {
		return nil, err
	}
	return c.store.ReadStates(ctx, id)
}

// ListDeployments возвращает deployments.
func (c *Client) ListDeployments(ctx context.Context) ([]*domain.Deployment, error) {
	deployments, err := c.store.ListDeployments(ctx, repo.DeploymentFilter{})
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}

	for _, d := range deployments {
		d.FlowName = c.flowName(ctx, d.FlowID)
	}
	return deployments, nil
}

// ApplyDeployment создаёт или обновляет deployment из манифеста.
func (c *Client) ApplyDeployment(ctx context.Context, m Manifest) (*domain.Deployment, error) {
	d, err := m.Deployment()
	if err != nil {
		return nil, err
	}

	flow, err := c.store.ReadOrCreateFlow(ctx, m.Flow)
	if err != nil {
		return nil, fmt.Errorf("read flow %q: %w", m.Flow, err)
	}
	d.FlowID = flow.ID

	if err := c.store.CreateDeployment(ctx, d); err != nil {
		return nil, fmt.Errorf("apply deployment %q: %w", d.Name, err)
	}
	d.FlowName = flow.Name
	return d, nil
}

// SetScheduleActive приостанавливает или возобновляет расписание deployment.
func (c *Client) SetScheduleActive(ctx context.Context, rawID string, active bool) error {
	id, err := parseID(rawID)
	if err != nil {
		return err
	}
	return c.store.SetScheduleActive(ctx, id, active)
}

// Logs возвращает логи flow run или task run.
func (c *Client) Logs(ctx context.Context, rawID, minLevel string, limit int) ([]domain.Log, error) {
	id, err := parseID(rawID)
	if err != nil {
		return nil, err
	}

	run, err := c.store.ReadRun(ctx, id)
	if err != nil {
		return nil, err
	}

	filter := repo.LogFilter{MinLevel: strings.ToUpper(minLevel), Limit: limit}
	if run.Kind == domain.RunKindTask {
		filter.TaskRunID = &id
	} else {
		filter.FlowRunID = &id
	}
	return c.store.ReadLogs(ctx, filter)
}

// flowName возвращает имя flow, кэшируя ответы Record Store.
func (c *Client) flowName(ctx context.Context, id uuid.UUID) string {
	if name, ok := c.flowNames[id]; ok {
		return name
	}
	name := ""
	if flow, err := c.store.ReadFlow(ctx, id); err == nil {
		name = flow.Name
	}
	c.flowNames[id] = name
	return name
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: id %q: %v", ErrInvalidArgument, raw, err)
	}
	return id, nil
}
