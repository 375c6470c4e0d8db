package taskrunner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Weaver/internal/bridge"
	"github.com/shaiso/Weaver/internal/domain"
)

// Cluster — транспорт до воркеров распределённого runner.
type Cluster interface {
	// Address — адрес кластера для Settings.
	Address() string

	// Dispatch отправляет сериализованный WorkItem.
	Dispatch(ctx context.Context, itemID uuid.UUID, payload []byte) error

	// Results — сериализованные WorkResult. Канал закрывается в Close.
	Results() <-chan []byte

	// Close останавливает кластер (или отключается от него).
	Close(ctx context.Context) error
}

// ClusterFactory создаёт Cluster при Start.
type ClusterFactory func(ctx context.Context, env Env) (Cluster, error)

// DistributedConfig — конфигурация Distributed.
type DistributedConfig struct {
	// Address — адрес существующего кластера ("amqp://..."). Пустой адрес
	// означает временный LocalCluster на время Start/release.
	Address string

	// Workers — число воркеров LocalCluster (default: runtime.NumCPU()).
	Workers int

	// DashboardAddress — адрес HTTP dashboard LocalCluster ("" — без dashboard).
	DashboardAddress string

	// Cluster переопределяет выбор кластера по Address.
	Cluster ClusterFactory

	// PollInterval — период опроса Record Store для перенесённых Future.
	PollInterval time.Duration

	Logger *slog.Logger
}

// Distributed — runner, отправляющий вызовы в кластер воркеров.
type Distributed struct {
	cfg    DistributedConfig
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	env     Env
	cluster Cluster
	pending map[uuid.UUID]*slot
	address string

	collected chan struct{}
}

var _ TaskRunner = (*Distributed)(nil)

// slot — ожидающий результат run.
type slot struct {
	once  sync.Once
	done  chan struct{}
	state *domain.State
	err   error
}

func newSlot() *slot {
	return &slot{done: make(chan struct{})}
}

func (s *slot) complete(state *domain.State, err error) {
	s.once.Do(func() {
		s.state, s.err = state, err
		close(s.done)
	})
}

// NewDistributed создаёт Distributed runner.
func NewDistributed(cfg DistributedConfig) *Distributed {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Distributed{
		cfg:     cfg,
		logger:  logger,
		address: cfg.Address,
	}
}

// Start реализует TaskRunner: поднимает LocalCluster или подключается
// к существующему кластеру.
func (r *Distributed) Start(ctx context.Context, env Env) (func(context.Context) error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil, ErrAlreadyStarted
	}

	cluster, err := r.newCluster(bridge.Detach(ctx), env)
	if err != nil {
		return nil, err
	}

	r.started = true
	r.env = env
	r.cluster = cluster
	r.address = cluster.Address()
	r.pending = make(map[uuid.UUID]*slot)
	r.collected = make(chan struct{})

	go r.collect(cluster.Results(), r.collected)

	r.logger.Info("distributed task runner started", "address", r.address)

	return r.release, nil
}

func (r *Distributed) newCluster(ctx context.Context, env Env) (Cluster, error) {
	switch {
	case r.cfg.Cluster != nil:
		return r.cfg.Cluster(ctx, env)
	case r.cfg.Address == "":
		return NewLocalCluster(ctx, LocalClusterConfig{
			Workers:          r.cfg.Workers,
			DashboardAddress: r.cfg.DashboardAddress,
			Env:              env,
			Logger:           r.logger,
		})
	case strings.HasPrefix(r.cfg.Address, "amqp://"), strings.HasPrefix(r.cfg.Address, "amqps://"):
		return NewAMQPCluster(ctx, AMQPClusterConfig{URL: r.cfg.Address, Logger: r.logger})
	default:
		return nil, &InfrastructureError{
			Resource: "cluster",
			Err:      fmt.Errorf("unsupported address %q", r.cfg.Address),
		}
	}
}

// release закрывает кластер; ожидающие Future получают ErrClusterClosed.
func (r *Distributed) release(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	cluster, collected := r.cluster, r.collected
	r.mu.Unlock()

	err := cluster.Close(ctx)

	select {
	case <-collected:
	case <-ctx.Done():
	}

	r.mu.Lock()
	for _, s := range r.pending {
		s.complete(nil, ErrClusterClosed)
	}
	r.started = false
	r.cluster = nil
	r.mu.Unlock()

	r.logger.Info("distributed task runner stopped", "address", r.address)
	return err
}

// collect разбирает результаты кластера.
func (r *Distributed) collect(results <-chan []byte, done chan<- struct{}) {
	defer close(done)

	for payload := range results {
		res, err := DecodeWorkResult(payload)
		if err != nil {
			r.logger.Error("failed to decode work result", "error", err)
			continue
		}

		r.mu.Lock()
		s := r.pending[res.RunID]
		r.mu.Unlock()

		if s == nil {
			r.logger.Warn("result for unknown run", "run_id", res.RunID, "item_id", res.ItemID)
			continue
		}

		if res.Error != "" {
			s.complete(nil, fmt.Errorf("%w: %s", ErrWorkFailed, res.Error))
		} else {
			s.complete(res.State, nil)
		}
	}
}

// Submit реализует TaskRunner.
func (r *Distributed) Submit(ctx context.Context, run *domain.Run, call Call) (*Future, error) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil, ErrNotStarted
	}
	cluster, env := r.cluster, r.env
	r.mu.Unlock()

	item := WorkItem{
		ID:      uuid.New(),
		RunID:   run.ID,
		Handler: call.Handler,
		Kwargs:  call.Kwargs,
	}
	payload, err := EncodeWorkItem(item)
	if err != nil {
		return nil, fmt.Errorf("encode work item for run %s: %w", run.ID, err)
	}

	s := newSlot()
	r.mu.Lock()
	r.pending[run.ID] = s
	r.mu.Unlock()

	if err := cluster.Dispatch(ctx, item.ID, payload); err != nil {
		r.mu.Lock()
		delete(r.pending, run.ID)
		r.mu.Unlock()
		return nil, fmt.Errorf("dispatch run %s: %w", run.ID, err)
	}

	r.logger.Debug("work item dispatched", "run_id", run.ID, "item_id", item.ID, "handler", item.Handler)

	return NewFuture(run.ID, call.Asynchronous, r, env), nil
}

// Wait реализует TaskRunner. Для Future без ожидающего результата
// (перенесённых из другого процесса) опрашивается Record Store.
func (r *Distributed) Wait(ctx context.Context, f *Future, timeout time.Duration) (*domain.State, error) {
	r.mu.Lock()
	s := r.pending[f.RunID]
	r.mu.Unlock()

	if s == nil {
		return pollState(ctx, f.states, f.RunID, timeout, r.cfg.PollInterval)
	}

	ok, err := waitSlot(ctx, s.done, timeout)
	if err != nil || !ok {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.state, nil
}

// Settings реализует TaskRunner.
func (r *Distributed) Settings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Settings{Kind: KindDistributed, Address: r.address}
}
