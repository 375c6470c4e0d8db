package telemetry

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaiso/Weaver/internal/domain"
)

// tracerName — instrumentation scope для spans Weaver.
const tracerName = "github.com/shaiso/Weaver"

// Tracer возвращает tracer глобального TracerProvider.
// Без настроенного provider spans ничего не стоят (noop).
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartRunSpan открывает span run ("weaver.flow_run" или "weaver.task_run").
func StartRunSpan(ctx context.Context, tracer trace.Tracer, kind domain.RunKind, runID uuid.UUID, name string) (context.Context, trace.Span) {
	if tracer == nil {
		tracer = Tracer()
	}
	return tracer.Start(ctx, "weaver."+string(kind)+"_run",
		trace.WithAttributes(
			attribute.String("weaver.run.id", runID.String()),
			attribute.String("weaver.run.name", name),
			attribute.String("weaver.run.kind", string(kind)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndRunSpan записывает финальное состояние и закрывает span.
func EndRunSpan(span trace.Span, s *domain.State) {
	defer span.End()

	if s == nil {
		return
	}
	span.SetAttributes(
		attribute.String("weaver.run.state", string(s.Type)),
		attribute.String("weaver.run.state_name", s.Name),
	)
	switch {
	case s.IsCompleted():
		span.SetStatus(codes.Ok, "")
	case s.Type.IsFailure():
		span.SetStatus(codes.Error, s.Message)
	}
}

// RecordFinished обновляет метрики завершённого run.
func RecordFinished(run *domain.Run) {
	if run == nil || run.State == nil {
		return
	}
	kind := string(run.Kind)
	RunsFinishedTotal.WithLabelValues(kind, string(run.State.Type)).Inc()
	RunDuration.WithLabelValues(kind).Observe(run.TotalRunTime.Seconds())
}
