package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunKind — вид run.
type RunKind string

const (
	RunKindFlow RunKind = "flow"
	RunKindTask RunKind = "task"
)

// Run — экземпляр выполнения flow или task.
//
// Flow run и task run имеют одинаковую форму и различаются ссылками:
// flow run ссылается на flow (и, для subflow, на родительский task run),
// task run — на flow run, внутри которого он вызван.
//
// Состояния добавляет только Engine через Record Store; ApplyState
// обновляет учётные поля (run_count, start/end time, total_run_time).
type Run struct {
	ID   uuid.UUID `json:"id"`
	Kind RunKind   `json:"kind"`
	Name string    `json:"name"`

	// FlowID — flow, который выполняет run (только flow run).
	FlowID uuid.UUID `json:"flow_id,omitempty"`

	// FlowRunID — flow run, внутри которого вызван task run.
	FlowRunID *uuid.UUID `json:"flow_run_id,omitempty"`

	// DeploymentID — deployment, создавший run по расписанию.
	DeploymentID *uuid.UUID `json:"deployment_id,omitempty"`

	// ParentTaskRunID — task run в родительском flow (только subflow).
	ParentTaskRunID *uuid.UUID `json:"parent_task_run_id,omitempty"`

	// TaskKey и DynamicKey идентифицируют вызов задачи внутри flow run.
	TaskKey    string `json:"task_key,omitempty"`
	DynamicKey string `json:"dynamic_key,omitempty"`

	// IdempotencyKey — ключ идемпотентности, уникален в пределах flow.
	// Для scheduled runs: "scheduled {deployment_id} {date}".
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	Parameters map[string]any `json:"parameters,omitempty"`
	Tags       []string       `json:"tags,omitempty"`

	// RunCount — сколько раз run входил в RUNNING.
	RunCount int `json:"run_count"`

	ExpectedStartTime *time.Time `json:"expected_start_time,omitempty"`

	// NextScheduledStartTime — scheduled_time текущего SCHEDULED состояния.
	NextScheduledStartTime *time.Time `json:"next_scheduled_start_time,omitempty"`

	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// TotalRunTime — сумма завершённых интервалов RUNNING.
	TotalRunTime time.Duration `json:"total_run_time"`

	// State — текущее состояние (последнее добавленное).
	State *State `json:"state,omitempty"`

	Policy RunPolicy `json:"policy"`

	// TaskInputs — для каждого параметра task run список upstream runs,
	// от которых он зависит.
	TaskInputs map[string][]RunRef `json:"task_inputs,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// RunPolicy — политика выполнения run.
type RunPolicy struct {
	MaxRetries       int           `json:"max_retries,omitempty"`
	RetryDelay       time.Duration `json:"retry_delay,omitempty"`
	CacheKeyTemplate string        `json:"cache_key_template,omitempty"`
	CacheExpiration  time.Duration `json:"cache_expiration,omitempty"`
	Timeout          time.Duration `json:"timeout,omitempty"`
}

// RunRef — ссылка на upstream run.
type RunRef struct {
	ID uuid.UUID `json:"id"`
}

// StateType возвращает тип текущего состояния ("" если состояния нет).
func (r *Run) StateType() StateType {
	if r.State == nil {
		return ""
	}
	return r.State.Type
}

// IsFinished возвращает true, если run в терминальном состоянии.
func (r *Run) IsFinished() bool {
	return r.State != nil && r.State.Type.IsTerminal()
}

// Upstreams возвращает уникальные upstream run ids из TaskInputs.
func (r *Run) Upstreams() []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, refs := range r.TaskInputs {
		for _, ref := range refs {
			if !seen[ref.ID] {
				seen[ref.ID] = true
				ids = append(ids, ref.ID)
			}
		}
	}
	return ids
}

// ApplyState проверяет переход и делает s текущим состоянием run.
//
// Учёт:
//   - вход в RUNNING увеличивает RunCount, первый вход задаёт StartTime;
//   - выход из RUNNING добавляет интервал к TotalRunTime;
//   - терминальное состояние задаёт EndTime;
//   - SCHEDULED обновляет NextScheduledStartTime.
//
// Record Store вызывает ApplyState атомарно с записью состояния.
func (r *Run) ApplyState(s *State) error {
	if err := ValidateTransition(r.State, s); err != nil {
		return err
	}

	s.Details.RunID = r.ID

	if r.State != nil && r.State.Type == StateRunning {
		r.TotalRunTime += s.Timestamp.Sub(r.State.Timestamp)
	}

	switch {
	case s.Type == StateRunning:
		r.RunCount++
		if r.StartTime == nil {
			t := s.Timestamp
			r.StartTime = &t
		}
		r.NextScheduledStartTime = nil
	case s.Type == StateScheduled:
		r.NextScheduledStartTime = s.Details.ScheduledTime
		if r.ExpectedStartTime == nil {
			r.ExpectedStartTime = s.Details.ScheduledTime
		}
	case s.Type.IsTerminal():
		t := s.Timestamp
		r.EndTime = &t
		r.NextScheduledStartTime = nil
	}

	r.State = s
	return nil
}

// Duration возвращает суммарное время выполнения.
func (r *Run) Duration() time.Duration {
	return r.TotalRunTime
}
