package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type (
	Exchange   string
	Queue      string
	RoutingKey string
)

const (
	ExchangeTasks   Exchange = "weaver.tasks"
	ExchangeResults Exchange = "weaver.results"
	ExchangeDLQ     Exchange = "weaver.dlq"

	QueueTasksSubmitted Queue = "tasks.submitted"
	QueueDLQTasks       Queue = "dlq.tasks"

	RoutingKeySubmitted RoutingKey = "submitted"
	RoutingKeyDLQTasks  RoutingKey = "tasks"
)

// ResultsQueue — очередь результатов клиента кластера. Имя очереди
// служит и ключом маршрутизации в weaver.results.
func ResultsQueue(clientID string) Queue {
	return Queue("results." + clientID)
}

// queueSpec описывает очередь и её привязку.
type queueSpec struct {
	name     Queue
	exchange Exchange
	key      RoutingKey

	durable    bool
	autoDelete bool
	args       amqp.Table
}

func (q queueSpec) declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(string(q.name), q.durable, q.autoDelete, false, false, q.args); err != nil {
		return fmt.Errorf("declare queue %s: %w", q.name, err)
	}
	if err := ch.QueueBind(string(q.name), string(q.key), string(q.exchange), false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", q.name, q.exchange, err)
	}
	return nil
}

// sharedQueues — очереди, общие для всех процессов кластера.
//
//	weaver.tasks   ─submitted→ tasks.submitted ─(dead letter)→ weaver.dlq ─tasks→ dlq.tasks
//	weaver.results ─results.<client>→ results.<client> (auto-delete)
var sharedQueues = []queueSpec{
	{
		name:     QueueTasksSubmitted,
		exchange: ExchangeTasks,
		key:      RoutingKeySubmitted,
		durable:  true,
		args: amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQTasks),
		},
	},
	{
		name:     QueueDLQTasks,
		exchange: ExchangeDLQ,
		key:      RoutingKeyDLQTasks,
		durable:  true,
	},
}

// SetupTopology объявляет exchanges и общие очереди. Объявление
// идемпотентно, его выполняют и воркеры, и клиенты.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeTasks, ExchangeResults, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(string(ex), amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}
		for _, q := range sharedQueues {
			if err := q.declare(ch); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeclareResultsQueue объявляет очередь результатов клиента. Очередь
// удаляется, когда у неё не остаётся consumers.
func DeclareResultsQueue(ch *amqp.Channel, clientID string) error {
	name := ResultsQueue(clientID)
	return queueSpec{
		name:       name,
		exchange:   ExchangeResults,
		key:        RoutingKey(name),
		autoDelete: true,
	}.declare(ch)
}
