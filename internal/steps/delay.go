package steps

import (
	"context"
	"fmt"
	"time"
)

// StepTypeDelay — тип шага задержки.
const StepTypeDelay = "delay"

// DelayStep приостанавливает task run.
//
// Конфигурация — одно из:
//
//	{"duration": "1m30s"}              // или число секунд: {"duration": 90}
//	{"until": "2026-03-01T12:00:00Z"}  // RFC3339; прошедшее время — без ожидания
//
// Outputs: {"slept_ms": 90000}
type DelayStep struct {
	now func() time.Time
}

// NewDelayStep создаёт DelayStep.
func NewDelayStep() *DelayStep {
	return &DelayStep{now: time.Now}
}

func (s *DelayStep) Type() string { return StepTypeDelay }

// Execute ждёт заданное время или отмену ctx.
func (s *DelayStep) Execute(ctx context.Context, req *Request) (Outputs, error) {
	d, err := s.wait(req.Config)
	if err != nil {
		return nil, err
	}

	req.Logger.Debug("delay step sleeping", "duration", d)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
	case <-timer.C:
		return Outputs{"slept_ms": d.Milliseconds()}, nil
	}
}

func (s *DelayStep) wait(cfg Config) (time.Duration, error) {
	if until := cfg.String("until"); until != "" {
		at, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return 0, invalidConfig(StepTypeDelay, "until: %v", err)
		}
		return max(0, at.Sub(s.now())), nil
	}

	d, err := cfg.Duration("duration")
	if err != nil {
		return 0, invalidConfig(StepTypeDelay, "%v", err)
	}
	if d <= 0 {
		return 0, invalidConfig(StepTypeDelay, "positive duration or until required")
	}
	return d, nil
}
