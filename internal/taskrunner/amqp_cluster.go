package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Weaver/internal/mq"
)

// AMQPClusterConfig — конфигурация AMQPCluster.
type AMQPClusterConfig struct {
	// URL — адрес RabbitMQ.
	URL string

	// Prefetch — сколько результатов получать без подтверждения (default: 16).
	Prefetch int

	Logger *slog.Logger
}

// AMQPCluster — клиент существующего кластера воркеров weaver-worker.
//
// Work items публикуются в weaver.tasks, результаты приходят в очередь
// results.<client id>, которая удаляется после отключения клиента.
type AMQPCluster struct {
	url      string
	clientID string
	logger   *slog.Logger

	conn      *mq.Connection
	publisher *mq.Publisher
	consumer  *mq.Consumer

	results chan []byte
	cancel  context.CancelFunc
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

var _ Cluster = (*AMQPCluster)(nil)

// NewAMQPCluster подключается к RabbitMQ и начинает принимать результаты.
func NewAMQPCluster(ctx context.Context, cfg AMQPClusterConfig) (*AMQPCluster, error) {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 16
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := mq.NewConnection(cfg.URL, logger)
	if err != nil {
		return nil, &InfrastructureError{Resource: "amqp", Err: err}
	}

	if err := mq.SetupTopology(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, &InfrastructureError{Resource: "amqp topology", Err: err}
	}

	clientID := uuid.NewString()
	declare := func(ch *amqp.Channel) error {
		return mq.DeclareResultsQueue(ch, clientID)
	}
	if err := conn.WithChannel(ctx, declare); err != nil {
		_ = conn.Close()
		return nil, &InfrastructureError{Resource: "amqp results queue", Err: err}
	}

	c := &AMQPCluster{
		url:       cfg.URL,
		clientID:  clientID,
		logger:    logger.With("component", "amqp_cluster", "client_id", clientID),
		conn:      conn,
		publisher: mq.NewPublisher(conn, logger),
		results:   make(chan []byte, defaultQueueSize),
		done:      make(chan struct{}),
	}
	c.consumer = mq.NewConsumer(conn, logger, mq.ConsumerConfig{
		Queue:    mq.ResultsQueue(clientID),
		Handler:  c.handleResult,
		Prefetch: cfg.Prefetch,
		Declare:  declare,
	})

	cctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go func() {
		defer close(c.done)
		if err := c.consumer.Run(cctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("results consumer stopped", "error", err)
		}
	}()

	return c, nil
}

// handleResult передаёт результат в Results.
func (c *AMQPCluster) handleResult(ctx context.Context, msg mq.Message) error {
	if msg.Type != mq.MessageTypeWorkCompleted {
		return fmt.Errorf("%w: unexpected %s in results queue", mq.ErrReject, msg.Type)
	}

	select {
	case c.results <- msg.Body:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Address реализует Cluster.
func (c *AMQPCluster) Address() string {
	return c.url
}

// Dispatch реализует Cluster.
func (c *AMQPCluster) Dispatch(ctx context.Context, itemID uuid.UUID, payload []byte) error {
	return c.publisher.PublishWork(ctx, itemID.String(), string(mq.ResultsQueue(c.clientID)), payload)
}

// Results реализует Cluster.
func (c *AMQPCluster) Results() <-chan []byte {
	return c.results
}

// Close реализует Cluster: останавливает приём результатов и закрывает соединение.
func (c *AMQPCluster) Close(context.Context) error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		close(c.results)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
