// Weaver Agent — выполняет запланированные flow runs.
//
// Agent:
//   - Забирает наступившие SCHEDULED flow runs из Record Store
//   - Переводит их в PENDING и выполняет через Engine
//   - Отправляет задачи в кластер воркеров, если задан cluster.address
//
// Несколько agents могут работать параллельно с одним Record Store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Weaver/internal/bridge"
	"github.com/shaiso/Weaver/internal/config"
	"github.com/shaiso/Weaver/internal/datadoc"
	"github.com/shaiso/Weaver/internal/engine"
	"github.com/shaiso/Weaver/internal/lifecycle"
	"github.com/shaiso/Weaver/internal/orchestrator"
	"github.com/shaiso/Weaver/internal/repo"
	"github.com/shaiso/Weaver/internal/scheduler"
	"github.com/shaiso/Weaver/internal/steps"
	"github.com/shaiso/Weaver/internal/taskrunner"
	"github.com/shaiso/Weaver/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log, nil)
	logger.Info("starting weaver-agent")

	if err := run(cfg, logger); err != nil {
		logger.Error("weaver-agent failed", "error", err)
		os.Exit(1)
	}
	logger.Info("weaver-agent stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	if cfg.Database.Migrate {
		if err := repo.Migrate(ctx, pool); err != nil {
			return err
		}
	}
	logger.Info("database connected")
	store := repo.NewPostgres(pool)

	results, closeResults, err := resultStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeResults()

	// Логи runs пишутся в Record Store
	cfg.Logs.Writer = store
	cfg.Logs.Logger = logger
	sink := telemetry.NewBatchSink(cfg.Logs)
	sink.Start(context.WithoutCancel(ctx))

	e := engine.New(engine.Config{
		Store:        store,
		Results:      results,
		ResultFormat: cfg.Results.Format,
		LogSink:      sink,
		Logger:       logger,
	})

	var opts []engine.Option
	// Без cluster.address LocalCluster поднимается, только если нужен его dashboard.
	if cfg.Cluster.Address != "" || cfg.Cluster.DashboardAddress != "" {
		opts = append(opts, engine.WithTaskRunner(func() taskrunner.TaskRunner {
			return taskrunner.NewDistributed(taskrunner.DistributedConfig{
				Address:          cfg.Cluster.Address,
				Workers:          cfg.Cluster.Workers,
				DashboardAddress: cfg.Cluster.DashboardAddress,
				Logger:           logger,
			})
		}))
		logger.Info("tasks are dispatched to cluster", "address", cfg.Cluster.Address)
	}
	flows := steps.DefaultRegistry().DefaultFlows(opts...)
	e.RegisterFlows(flows...)

	flowIDs, err := servedFlows(ctx, store, flows, cfg.Agent.Flows)
	if err != nil {
		sink.Close()
		return err
	}

	agent := orchestrator.New(orchestrator.Config{
		Store:      store,
		Runner:     e,
		FlowIDs:    flowIDs,
		Prefetch:   cfg.Agent.Prefetch(),
		Limit:      cfg.Agent.Limit,
		SubmitRate: cfg.Agent.SubmissionRate,
		Logger:     logger,
	})

	// agent дожидается своих runs до сброса логов
	shutdown := lifecycle.New(logger)
	_ = shutdown.Register("agent", func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			agent.Wait()
			close(done)
		}()
		err := bridge.Wait(ctx, done)
		agent.Stop()
		return err
	})
	_ = shutdown.Register("log sink", func(ctx context.Context) error {
		err := sink.Flush(ctx)
		sink.Close()
		return err
	})

	go serveHTTP(ctx, cancel, cfg.HTTP.Addr, logger)

	loop := scheduler.NewLoopService(agent, scheduler.LoopConfig{
		Interval: cfg.Agent.LoopInterval(),
		Logger:   logger,
	})
	runErr := loop.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	return errors.Join(runErr, shutdown.Shutdown(shutdownCtx))
}

// resultStore создаёт хранилище результатов по конфигурации.
func resultStore(ctx context.Context, cfg config.Config) (datadoc.Store, func(), error) {
	if cfg.Results.Backend != config.ResultsRedis {
		return datadoc.NewInlineStore(), func() {}, nil
	}

	client, err := datadoc.DialRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	store := datadoc.NewRedisStore(datadoc.RedisConfig{Client: client, TTL: cfg.Results.TTL})
	return store, func() { _ = client.Close() }, nil
}

// servedFlows возвращает id flows, которые обслуживает agent.
// Пустой names — все зарегистрированные flows.
func servedFlows(ctx context.Context, store repo.FlowStore, flows []*engine.Flow, names []string) ([]uuid.UUID, error) {
	registered := make([]string, 0, len(flows))
	for _, f := range flows {
		registered = append(registered, f.Name())
	}
	if len(names) == 0 {
		names = registered
	}

	ids := make([]uuid.UUID, 0, len(names))
	for _, name := range names {
		if !slices.Contains(registered, name) {
			return nil, fmt.Errorf("%w: %s", engine.ErrUnknownFlow, name)
		}
		flow, err := store.ReadOrCreateFlow(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("resolve flow %s: %w", name, err)
		}
		ids = append(ids, flow.ID)
	}
	return ids, nil
}

func serveHTTP(ctx context.Context, cancel context.CancelFunc, addr string, logger *slog.Logger) {
	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	logger.Info("listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server error", "error", err)
		cancel()
	}
}

func configPath() string {
	if v := os.Getenv("WEAVER_CONFIG"); v != "" {
		return v
	}
	return "weaver.yaml"
}
