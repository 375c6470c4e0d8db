package taskrunner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const defaultQueueSize = 1024

// LocalClusterConfig — конфигурация LocalCluster.
type LocalClusterConfig struct {
	// Workers — число горутин-воркеров (default: runtime.NumCPU()).
	Workers int

	// QueueSize — ёмкость очереди work items (default: 1024).
	QueueSize int

	// DashboardAddress — адрес HTTP dashboard ("" — без dashboard).
	// Если адрес занят, dashboard поднимается на свободном порту.
	DashboardAddress string

	// Env — окружение воркеров.
	Env Env

	Logger *slog.Logger
}

// LocalCluster — временный кластер из горутин в текущем процессе.
//
// Work items проходят через ту же сериализацию, что и в удалённом
// кластере, поэтому всё, что уходит в LocalCluster, можно отправить
// и в AMQPCluster.
type LocalCluster struct {
	id      string
	workers int
	logger  *slog.Logger

	items   chan []byte
	results chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	server        *http.Server
	dashboardAddr string

	registry   *prometheus.Registry
	dispatched prometheus.Counter
	processed  *prometheus.CounterVec

	closeOnce sync.Once
	closeErr  error
}

var _ Cluster = (*LocalCluster)(nil)

// NewLocalCluster запускает воркеры и (опционально) dashboard.
func NewLocalCluster(ctx context.Context, cfg LocalClusterConfig) (*LocalCluster, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(cctx)

	c := &LocalCluster{
		id:       uuid.NewString(),
		workers:  cfg.Workers,
		logger:   logger.With("component", "local_cluster"),
		items:    make(chan []byte, cfg.QueueSize),
		results:  make(chan []byte, cfg.QueueSize),
		ctx:      gctx,
		cancel:   cancel,
		group:    group,
		registry: prometheus.NewRegistry(),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weaver_cluster_work_items_dispatched_total",
			Help: "Work items dispatched to the local cluster.",
		}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weaver_cluster_work_items_processed_total",
			Help: "Work items processed by local cluster workers.",
		}, []string{"status"}),
	}
	c.registry.MustRegister(c.dispatched, c.processed)

	if cfg.DashboardAddress != "" {
		if err := c.startDashboard(cfg.DashboardAddress); err != nil {
			cancel()
			return nil, err
		}
	}

	for i := 0; i < cfg.Workers; i++ {
		group.Go(func() error {
			c.work(gctx, cfg.Env)
			return nil
		})
	}

	c.logger.Info("local cluster started", "workers", cfg.Workers, "dashboard", c.dashboardAddr)
	return c, nil
}

// startDashboard поднимает HTTP dashboard. Занятый адрес — не фатальная
// ошибка: dashboard переезжает на свободный порт того же хоста.
func (c *LocalCluster) startDashboard(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		host, _, splitErr := net.SplitHostPort(addr)
		if splitErr != nil {
			host = ""
		}
		fallback := net.JoinHostPort(host, "0")
		c.logger.Warn("dashboard address unavailable, using a free port",
			"address", addr,
			"fallback", fallback,
			"error", err,
		)
		ln, err = net.Listen("tcp", fallback)
		if err != nil {
			return &InfrastructureError{Resource: "dashboard " + addr, Err: err}
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", c.handleStatus)

	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	c.dashboardAddr = ln.Addr().String()

	c.group.Go(func() error {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("dashboard server failed", "error", err)
			return err
		}
		return nil
	})
	return nil
}

func (c *LocalCluster) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      c.id,
		"workers": c.workers,
		"queued":  len(c.items),
	})
}

// work — цикл воркера.
func (c *LocalCluster) work(ctx context.Context, env Env) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-c.items:
			out, err := ExecuteWorkItem(ctx, env, payload)
			if err != nil {
				c.processed.WithLabelValues("rejected").Inc()
				c.logger.Error("rejected work item", "error", err)
				continue
			}
			c.processed.WithLabelValues("done").Inc()

			select {
			case c.results <- out:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Address реализует Cluster.
func (c *LocalCluster) Address() string {
	if c.dashboardAddr != "" {
		return "local://" + c.dashboardAddr
	}
	return "local://" + c.id
}

// DashboardAddress возвращает фактический адрес dashboard ("" если выключен).
func (c *LocalCluster) DashboardAddress() string {
	return c.dashboardAddr
}

// Dispatch реализует Cluster.
func (c *LocalCluster) Dispatch(ctx context.Context, _ uuid.UUID, payload []byte) error {
	select {
	case c.items <- payload:
		c.dispatched.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClusterClosed
	}
}

// Results реализует Cluster.
func (c *LocalCluster) Results() <-chan []byte {
	return c.results
}

// Close реализует Cluster: останавливает dashboard и воркеры.
// Выполняемые тела получают отменённый контекст.
func (c *LocalCluster) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.server != nil {
			if err := c.server.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		c.cancel()
		if err := c.group.Wait(); err != nil {
			errs = append(errs, err)
		}
		close(c.results)
		c.closeErr = errors.Join(errs...)
		c.logger.Info("local cluster stopped")
	})
	return c.closeErr
}
