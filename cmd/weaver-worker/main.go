// Weaver Worker — выполняет task runs распределённого task runner.
//
// Worker:
//   - Получает work items из RabbitMQ
//   - Выполняет встроенные задачи weaver.<type> (http, delay, transform, ...)
//   - Записывает состояния task runs в Record Store
//   - Отправляет результат в очередь клиента
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Weaver/internal/config"
	"github.com/shaiso/Weaver/internal/datadoc"
	"github.com/shaiso/Weaver/internal/engine"
	"github.com/shaiso/Weaver/internal/lifecycle"
	"github.com/shaiso/Weaver/internal/mq"
	"github.com/shaiso/Weaver/internal/repo"
	"github.com/shaiso/Weaver/internal/steps"
	"github.com/shaiso/Weaver/internal/telemetry"
	"github.com/shaiso/Weaver/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log, nil)
	logger.Info("starting weaver-worker")

	if err := run(cfg, logger); err != nil {
		logger.Error("weaver-worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("weaver-worker stopped")
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

	// RabbitMQ
	mqURL := cfg.RabbitMQ.URL
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}
	mqConn, err := mq.NewConnection(mqURL, logger)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	// Логи task runs пишутся в Record Store
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
	e.RegisterTasks(steps.DefaultRegistry().DefaultTasks()...)

	w := worker.New(worker.Config{
		Publisher:   mq.NewPublisher(mqConn, logger),
		Conn:        mqConn,
		Env:         e.Env(),
		Concurrency: cfg.Cluster.Workers,
		Prefetch:    cfg.Cluster.Prefetch,
		Logger:      logger,
	})
	if err := w.Start(ctx); err != nil {
		sink.Close()
		return fmt.Errorf("start worker: %w", err)
	}

	shutdown := lifecycle.New(logger)
	_ = shutdown.Register("worker", func(context.Context) error {
		w.Stop()
		return nil
	})
	_ = shutdown.Register("log sink", func(ctx context.Context) error {
		err := sink.Flush(ctx)
		sink.Close()
		return err
	})

	go serveHTTP(ctx, cancel, cfg.HTTP.Addr, logger)

	// Ожидаем сигнал завершения
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	return shutdown.Shutdown(shutdownCtx)
}

// resultStore создаёт хранилище результатов по конфигурации.
// Backend должен совпадать с backend agents.
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
