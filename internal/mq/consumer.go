package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler обрабатывает сообщение. nil — ack; ошибка, обёртывающая
// ErrReject, — сообщение уходит в DLQ; любая другая — возврат в очередь.
type Handler func(ctx context.Context, msg Message) error

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	Queue   Queue
	Handler Handler

	// Prefetch — сообщений без подтверждения (default: 1).
	Prefetch int

	// Declare вызывается перед каждой подпиской. Нужен очередям, которые
	// исчезают вместе с соединением.
	Declare func(ch *amqp.Channel) error
}

// Consumer читает очередь и переподписывается после восстановления
// соединения.
type Consumer struct {
	conn   *Connection
	logger *slog.Logger
	cfg    ConsumerConfig
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		conn:   conn,
		logger: logger.With("queue", cfg.Queue),
		cfg:    cfg,
	}
}

// Run читает сообщения до отмены ctx или закрытия соединения.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		_, ch, renewed := c.conn.current()

		deliveries, err := c.subscribe(ch)
		if err != nil {
			c.logger.Error("failed to subscribe", "error", err)
		} else {
			c.logger.Info("consumer started")
			c.drain(ctx, deliveries)
			if ctx.Err() == nil {
				c.logger.Warn("deliveries closed, waiting for reconnect")
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.done:
			return ErrClosed
		case <-renewed:
		}
	}
}

func (c *Consumer) subscribe(ch *amqp.Channel) (<-chan amqp.Delivery, error) {
	if ch == nil {
		return nil, ErrNoChannel
	}
	if c.cfg.Declare != nil {
		if err := c.cfg.Declare(ch); err != nil {
			return nil, fmt.Errorf("declare %s: %w", c.cfg.Queue, err)
		}
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	// Ручной ack, тег выбирает сервер.
	deliveries, err := ch.Consume(string(c.cfg.Queue), "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}
	return deliveries, nil
}

// drain обрабатывает доставки, пока канал открыт.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.settle(d, c.handle(ctx, d))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) error {
	msg, err := messageFrom(d)
	if err != nil {
		return err
	}
	c.logger.Debug("received message", "message_id", msg.ID, "type", msg.Type)
	return c.cfg.Handler(ctx, msg)
}

// settle подтверждает доставку по результату обработки.
func (c *Consumer) settle(d amqp.Delivery, err error) {
	var ackErr error
	switch {
	case err == nil:
		ackErr = d.Ack(false)
	case errors.Is(err, ErrReject):
		c.logger.Error("message rejected", "message_id", d.MessageId, "error", err)
		ackErr = d.Nack(false, false)
	default:
		c.logger.Warn("message requeued", "message_id", d.MessageId, "error", err)
		ackErr = d.Nack(false, true)
	}
	if ackErr != nil {
		c.logger.Warn("failed to settle delivery", "message_id", d.MessageId, "error", ackErr)
	}
}
