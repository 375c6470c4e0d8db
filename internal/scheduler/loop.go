package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// DefaultLoopInterval — период LoopService по умолчанию.
const DefaultLoopInterval = 60 * time.Second

// Service — периодическая процедура обслуживания.
type Service interface {
	Name() string
	RunOnce(ctx context.Context) (int, error)
}

// LoopConfig — конфигурация LoopService.
type LoopConfig struct {
	// Interval — период между началами циклов (default: 60s).
	Interval time.Duration

	// Loops — число циклов; 0 — до отмены ctx.
	Loops int

	Logger *slog.Logger
}

// LoopService периодически вызывает Service.RunOnce.
//
// Следующий цикл начинается через Interval после начала предыдущего;
// если цикл длился дольше, следующий начинается сразу. Ошибки цикла
// логируются и не останавливают сервис.
type LoopService struct {
	svc    Service
	cfg    LoopConfig
	logger *slog.Logger
}

// NewLoopService создаёт LoopService.
func NewLoopService(svc Service, cfg LoopConfig) *LoopService {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultLoopInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LoopService{
		svc:    svc,
		cfg:    cfg,
		logger: logger.With("service", svc.Name()),
	}
}

// Run выполняет циклы до отмены ctx или исчерпания Loops.
func (l *LoopService) Run(ctx context.Context) error {
	for i := 1; ; i++ {
		start := time.Now()

		l.logger.Debug("running loop service")
		if _, err := l.svc.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Error("loop service cycle failed", "error", err)
		}

		elapsed := time.Since(start)
		if elapsed > l.cfg.Interval {
			l.logger.Warn("loop service cycle took longer than its interval",
				"elapsed", elapsed,
				"interval", l.cfg.Interval,
			)
		}

		if l.cfg.Loops > 0 && i >= l.cfg.Loops {
			l.logger.Debug("loop service exiting", "loops", i)
			return nil
		}

		wait := time.Until(start.Add(l.cfg.Interval))
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
