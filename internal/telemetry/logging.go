package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// LogConfig — настройки логирования.
type LogConfig struct {
	// Level — DEBUG, INFO, WARN, ERROR (по умолчанию INFO).
	Level string `yaml:"level"`

	// Format — "json" (по умолчанию) или "text".
	Format string `yaml:"format"`
}

// ParseLevel переводит имя уровня в slog.Level.
// Неизвестное значение — INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewHandler создаёт slog.Handler по настройкам.
func NewHandler(w io.Writer, cfg LogConfig) slog.Handler {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if cfg.Format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// SetupLogger инициализирует глобальный логгер.
//
// Если sink не nil, записи с flow_run_id дополнительно уходят в него
// (см. RunHandler).
func SetupLogger(cfg LogConfig, sink LogSink) *slog.Logger {
	handler := NewHandler(os.Stdout, cfg)
	if sink != nil {
		handler = NewRunHandler(handler, sink)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// Ключи атрибутов, по которым логи связываются с runs.
const (
	KeyRunID        = "run_id"
	KeyFlowRunID    = "flow_run_id"
	KeyTaskRunID    = "task_run_id"
	KeyDeploymentID = "deployment_id"
	KeyLogger       = "logger"
)

type ctxKey string

const (
	// CtxLogger — ключ для логгера в контексте.
	CtxLogger ctxKey = "logger"
)

// WithLogger добавляет логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, CtxLogger, logger)
}

// FromContext извлекает логгер из контекста.
// Если логгер не найден, возвращает глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(CtxLogger).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithFlowRun возвращает логгер flow run.
func WithFlowRun(logger *slog.Logger, flowRunID uuid.UUID) *slog.Logger {
	return logger.With(
		KeyLogger, "weaver.flow_run",
		KeyRunID, flowRunID.String(),
		KeyFlowRunID, flowRunID.String(),
	)
}

// WithTaskRun возвращает логгер task run внутри flow run.
func WithTaskRun(logger *slog.Logger, flowRunID, taskRunID uuid.UUID) *slog.Logger {
	return logger.With(
		KeyLogger, "weaver.task_run",
		KeyRunID, taskRunID.String(),
		KeyFlowRunID, flowRunID.String(),
		KeyTaskRunID, taskRunID.String(),
	)
}

// WithDeploymentID возвращает логгер с добавленным deployment_id.
func WithDeploymentID(logger *slog.Logger, id uuid.UUID) *slog.Logger {
	return logger.With(KeyDeploymentID, id.String())
}
