// Weaver Scheduler — заранее создаёт flow runs для deployments.
//
// Scheduler:
//   - Читает активные deployments из Record Store
//   - Вычисляет ближайшие даты их расписаний
//   - Вставляет SCHEDULED flow runs с ключами идемпотентности
//
// Параллельные scheduler не создают дубликатов, поэтому лидер не выбирается.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Weaver/internal/config"
	"github.com/shaiso/Weaver/internal/repo"
	"github.com/shaiso/Weaver/internal/scheduler"
	"github.com/shaiso/Weaver/internal/telemetry"
)

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log, nil)
	logger.Info("starting weaver-scheduler")

	if err := run(cfg, logger); err != nil {
		logger.Error("weaver-scheduler failed", "error", err)
		os.Exit(1)
	}
	logger.Info("weaver-scheduler stopped")
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

	s := scheduler.New(scheduler.Config{
		Store:               repo.NewPostgres(pool),
		DeploymentBatchSize: cfg.Scheduler.DeploymentBatchSize,
		MaxRuns:             cfg.Scheduler.MaxRuns,
		MaxScheduledTime:    cfg.Scheduler.MaxScheduledTime,
		InsertBatchSize:     cfg.Scheduler.InsertBatchSize,
		Logger:              logger,
	})

	go serveHTTP(ctx, cancel, cfg.HTTP.Addr, logger)

	loop := scheduler.NewLoopService(s, scheduler.LoopConfig{
		Interval: cfg.Scheduler.LoopInterval(),
		Loops:    cfg.Scheduler.LoopCount,
		Logger:   logger,
	})
	return loop.Run(ctx)
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
