package mq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher публикует сообщения кластера.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// Publish отправляет msg в exchange с ключом key. Сообщения persistent.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, key RoutingKey, msg Message) error {
	err := p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return ch.PublishWithContext(ctx, string(exchange), string(key), false, false, msg.publishing())
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s/%s: %w", msg.Type, exchange, key, err)
	}

	p.logger.Debug("published message", "exchange", exchange, "routing_key", key, "message_id", msg.ID, "type", msg.Type)
	return nil
}

// PublishWork отправляет закодированный work item воркерам. Результат
// вернётся в exchange результатов с ключом replyTo.
func (p *Publisher) PublishWork(ctx context.Context, id, replyTo string, body []byte) error {
	return p.Publish(ctx, ExchangeTasks, RoutingKeySubmitted, Message{
		ID:        id,
		Type:      MessageTypeWorkSubmitted,
		ReplyTo:   replyTo,
		Body:      body,
		Timestamp: time.Now(),
	})
}

// PublishResult отправляет закодированный результат клиенту, чья очередь
// указана в reply_to work item.
func (p *Publisher) PublishResult(ctx context.Context, id, replyTo string, body []byte) error {
	return p.Publish(ctx, ExchangeResults, RoutingKey(replyTo), Message{
		ID:        id,
		Type:      MessageTypeWorkCompleted,
		Body:      body,
		Timestamp: time.Now(),
	})
}
