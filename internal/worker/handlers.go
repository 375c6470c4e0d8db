package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/Weaver/internal/mq"
	"github.com/shaiso/Weaver/internal/taskrunner"
	"github.com/shaiso/Weaver/internal/telemetry"
)

// handleWorkSubmitted выполняет work item и публикует результат.
//
// Work item без reply_to или нечитаемый отклоняется в DLQ: ответить на
// него некому. Ошибка публикации возвращает его в очередь.
func (w *Worker) handleWorkSubmitted(ctx context.Context, msg mq.Message) error {
	if msg.ReplyTo == "" {
		return w.reject(fmt.Errorf("%w: work item %s has no reply_to", mq.ErrReject, msg.ID))
	}
	if msg.Type != mq.MessageTypeWorkSubmitted {
		return w.reject(fmt.Errorf("%w: unexpected %s in work queue", mq.ErrReject, msg.Type))
	}

	logger := w.logger.With("item_id", msg.ID)
	logger.Debug("received work item", "reply_to", msg.ReplyTo)

	result, err := taskrunner.ExecuteWorkItem(ctx, w.env, msg.Body)
	if err != nil {
		logger.Error("failed to decode work item", "error", err)
		return w.reject(fmt.Errorf("%w: %v", mq.ErrReject, err))
	}

	if err := w.publisher.PublishResult(ctx, msg.ID, msg.ReplyTo, result); err != nil {
		telemetry.WorkerItemsTotal.WithLabelValues("publish_failed").Inc()
		return fmt.Errorf("publish result: %w", err)
	}

	telemetry.WorkerItemsTotal.WithLabelValues("completed").Inc()
	return nil
}

func (w *Worker) reject(err error) error {
	telemetry.WorkerItemsTotal.WithLabelValues("rejected").Inc()
	return err
}
