package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Weaver/internal/mq"
	"github.com/shaiso/Weaver/internal/taskrunner"
)

const (
	defaultPrefetch    = 5
	defaultConcurrency = 1
)

// ResultPublisher публикует результаты work items. Реализуется *mq.Publisher.
type ResultPublisher interface {
	PublishResult(ctx context.Context, id, replyTo string, body []byte) error
}

// Config — конфигурация Worker.
type Config struct {
	Publisher ResultPublisher
	Conn      *mq.Connection

	// Env — окружение выполнения, обычно engine.Env().
	Env taskrunner.Env

	// Concurrency — work items, выполняемые одновременно (default: 1).
	// Каждый обработчик подписывается на tasks.submitted отдельно.
	Concurrency int

	// Prefetch — work items без подтверждения на обработчик (default: 5).
	Prefetch int

	Logger *slog.Logger
}

// Worker выполняет work items из tasks.submitted и отвечает клиенту в
// очередь из reply_to. Состояния task runs пишутся в общий Record Store.
type Worker struct {
	publisher   ResultPublisher
	conn        *mq.Connection
	env         taskrunner.Env
	concurrency int
	prefetch    int
	logger      *slog.Logger

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = defaultPrefetch
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	env := cfg.Env
	if env.Logger == nil {
		env.Logger = logger
	}

	return &Worker{
		publisher:   cfg.Publisher,
		conn:        cfg.Conn,
		env:         env,
		concurrency: cfg.Concurrency,
		prefetch:    cfg.Prefetch,
		logger:      logger.With("component", "worker"),
	}
}

// Start объявляет топологию и запускает обработчики в фоне.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.stopped:
		return ErrWorkerStopped
	case w.cancel != nil:
		return ErrWorkerRunning
	}

	if err := mq.SetupTopology(ctx, w.conn); err != nil {
		return err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	for range w.concurrency {
		consumer := mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    mq.QueueTasksSubmitted,
			Handler:  w.handleWorkSubmitted,
			Prefetch: w.prefetch,
		})
		g.Go(func() error { return consumer.Run(gctx) })
	}

	go func() {
		defer close(w.done)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("work consumers stopped", "error", err)
		}
	}()

	w.logger.Info("worker started", "concurrency", w.concurrency, "prefetch", w.prefetch)
	return nil
}

// Stop отменяет обработчики и ждёт их выхода.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	w.logger.Info("stopping worker")
	cancel()
	<-done
	w.logger.Info("worker stopped")
}

// IsStopped сообщает, вызывался ли Stop.
func (w *Worker) IsStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}
