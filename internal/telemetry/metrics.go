package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsFinishedTotal — завершённые runs по виду и типу состояния.
	RunsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weaver_runs_finished_total",
		Help: "Runs that reached a final state",
	}, []string{"kind", "state"})

	// RunAttemptsTotal — входы в RUNNING.
	RunAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weaver_run_attempts_total",
		Help: "Execution attempts of run bodies",
	}, []string{"kind"})

	// RunRetriesTotal — повторы после ошибки тела.
	RunRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weaver_run_retries_total",
		Help: "Retries scheduled after a failed attempt",
	}, []string{"kind"})

	// CacheHitsTotal — task runs, завершённые из кэша.
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weaver_task_cache_hits_total",
		Help: "Task runs completed from a cached state",
	})

	// RunDuration — длительность выполнения runs.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "weaver_run_duration_seconds",
		Help:    "Total running time of finished runs",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// SchedulerInsertedRuns — runs, созданные scheduler.
	SchedulerInsertedRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weaver_scheduler_inserted_runs_total",
		Help: "Scheduled flow runs inserted by the scheduler",
	})

	// SchedulerCycleDuration — длительность одного цикла scheduler.
	SchedulerCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "weaver_scheduler_cycle_duration_seconds",
		Help:    "Duration of one scheduling cycle",
		Buckets: prometheus.DefBuckets,
	})

	// AgentSubmissionsTotal — flow runs, отправленные agent, по результату.
	AgentSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weaver_agent_submissions_total",
		Help: "Scheduled flow runs submitted by the agent",
	}, []string{"status"})

	// WorkerItemsTotal — work items, обработанные weaver-worker.
	WorkerItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weaver_worker_work_items_total",
		Help: "Work items processed by the worker",
	}, []string{"status"})

	// LogsDroppedTotal — логи runs, отброшенные BatchSink.
	LogsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weaver_run_logs_dropped_total",
		Help: "Run logs dropped because of size or a full queue",
	})
)
