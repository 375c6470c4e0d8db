package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaiso/Weaver/internal/domain"
)

// LogWriter записывает пачку логов (repo.LogStore).
type LogWriter interface {
	WriteLogs(ctx context.Context, logs []domain.Log) error
}

// BatchSinkConfig — конфигурация BatchSink.
type BatchSinkConfig struct {
	Writer LogWriter `yaml:"-"`

	// BatchSize — размер пачки (default: 100).
	BatchSize int `yaml:"batch_size"`

	// BatchInterval — период сброса неполной пачки (default: 2s).
	BatchInterval time.Duration `yaml:"batch_interval"`

	// MaxLogSize — максимальный размер сообщения в байтах (default: 1MB).
	MaxLogSize int `yaml:"max_log_size"`

	// QueueSize — размер очереди (default: 10000).
	QueueSize int `yaml:"-"`

	// Logger — логгер для собственных сообщений sink. Он не должен
	// писать обратно в этот же sink.
	Logger *slog.Logger `yaml:"-"`
}

// BatchSink — LogSink, который пишет логи в Record Store пачками
// из фоновой горутины.
type BatchSink struct {
	cfg    BatchSinkConfig
	logger *slog.Logger

	queue   chan domain.Log
	flushes chan chan struct{}
	dropped atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ LogSink = (*BatchSink)(nil)

// NewBatchSink создаёт новый BatchSink.
func NewBatchSink(cfg BatchSinkConfig) *BatchSink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 2 * time.Second
	}
	if cfg.MaxLogSize <= 0 {
		cfg.MaxLogSize = 1_000_000
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 10_000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &BatchSink{
		cfg:     cfg,
		logger:  logger,
		queue:   make(chan domain.Log, cfg.QueueSize),
		flushes: make(chan chan struct{}),
	}
}

// Start запускает фоновую запись.
func (s *BatchSink) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Close останавливает запись и сбрасывает накопленные логи.
func (s *BatchSink) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	s.wg.Wait()
}

// Emit ставит лог в очередь. Слишком большие записи и записи при
// переполненной очереди отбрасываются.
func (s *BatchSink) Emit(l domain.Log) {
	if len(l.Message) > s.cfg.MaxLogSize {
		s.logger.Warn("run log dropped: message too large",
			"flow_run_id", l.FlowRunID,
			"size", len(l.Message),
			"max_size", s.cfg.MaxLogSize,
		)
		s.drop()
		return
	}

	select {
	case s.queue <- l:
	default:
		s.drop()
	}
}

func (s *BatchSink) drop() {
	s.dropped.Add(1)
	LogsDroppedTotal.Inc()
}

// Dropped возвращает число отброшенных логов.
func (s *BatchSink) Dropped() int64 {
	return s.dropped.Load()
}

// Flush ждёт записи всего, что уже в очереди.
func (s *BatchSink) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.flushes <- done:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *BatchSink) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.BatchInterval)
	defer ticker.Stop()

	batch := make([]domain.Log, 0, s.cfg.BatchSize)
	write := func() {
		if len(batch) == 0 {
			return
		}
		s.write(append([]domain.Log(nil), batch...))
		batch = batch[:0]
	}
	drain := func() {
		for {
			select {
			case l := <-s.queue:
				batch = append(batch, l)
				if len(batch) >= s.cfg.BatchSize {
					write()
				}
			default:
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			write()
			return

		case l := <-s.queue:
			batch = append(batch, l)
			if len(batch) >= s.cfg.BatchSize {
				write()
			}

		case <-ticker.C:
			write()

		case done := <-s.flushes:
			drain()
			write()
			close(done)
		}
	}
}

func (s *BatchSink) write(batch []domain.Log) {
	if s.cfg.Writer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.cfg.Writer.WriteLogs(ctx, batch); err != nil {
		s.logger.Error("failed to write run logs", "count", len(batch), "error", err)
	}
}
