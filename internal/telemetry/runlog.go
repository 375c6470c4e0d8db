package telemetry

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Weaver/internal/domain"
)

// LogSink принимает логи runs. Emit не должен блокировать вызывающего.
type LogSink interface {
	Emit(l domain.Log)
}

// RunHandler — slog.Handler, который передаёт next все записи, а записи
// с flow_run_id дополнительно отправляет в LogSink.
type RunHandler struct {
	next slog.Handler
	sink LogSink

	// attrs — атрибуты верхнего уровня, добавленные через With.
	attrs []slog.Attr
	// grouped — после WithGroup атрибуты уже не верхнего уровня.
	grouped bool
}

var _ slog.Handler = (*RunHandler)(nil)

// NewRunHandler оборачивает next.
func NewRunHandler(next slog.Handler, sink LogSink) *RunHandler {
	return &RunHandler{next: next, sink: sink}
}

// Enabled реализует slog.Handler.
func (h *RunHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle реализует slog.Handler.
func (h *RunHandler) Handle(ctx context.Context, r slog.Record) error {
	if l, ok := h.runLog(r); ok {
		h.sink.Emit(l)
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs реализует slog.Handler.
func (h *RunHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.next = h.next.WithAttrs(attrs)
	if !h.grouped {
		c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	}
	return &c
}

// WithGroup реализует slog.Handler.
func (h *RunHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.next = h.next.WithGroup(name)
	if name != "" {
		c.grouped = true
	}
	return &c
}

// runLog собирает domain.Log из записи; false — запись не относится к run.
func (h *RunHandler) runLog(r slog.Record) (domain.Log, bool) {
	var (
		flowRun, taskRun string
		name             = "weaver"
	)
	visit := func(a slog.Attr) {
		switch a.Key {
		case KeyFlowRunID:
			flowRun = a.Value.String()
		case KeyTaskRunID:
			taskRun = a.Value.String()
		case KeyLogger:
			name = a.Value.String()
		}
	}
	for _, a := range h.attrs {
		visit(a)
	}
	if !h.grouped {
		r.Attrs(func(a slog.Attr) bool {
			visit(a)
			return true
		})
	}

	flowRunID, err := uuid.Parse(flowRun)
	if err != nil {
		return domain.Log{}, false
	}

	l := domain.Log{
		Name:      name,
		Level:     r.Level.String(),
		Message:   r.Message,
		Timestamp: r.Time.UTC(),
		FlowRunID: flowRunID,
	}
	if id, err := uuid.Parse(taskRun); err == nil {
		l.TaskRunID = &id
	}
	return l, true
}
