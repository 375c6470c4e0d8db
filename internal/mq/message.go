package mq

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения, передаётся в свойстве AMQP type.
type MessageType string

const (
	MessageTypeWorkSubmitted MessageType = "work.submitted"
	MessageTypeWorkCompleted MessageType = "work.completed"
)

// ContentType тела сообщений: work items и результаты кодируются msgpack
// в taskrunner, mq передаёт их без изменений.
const ContentType = "application/msgpack"

// Message — сообщение кластера. Метаданные лежат в свойствах AMQP,
// Body — закодированный work item или результат.
type Message struct {
	ID        string
	Type      MessageType
	ReplyTo   string
	Body      []byte
	Timestamp time.Time
}

func (m *Message) publishing() amqp.Publishing {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return amqp.Publishing{
		ContentType:  ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    m.ID,
		Type:         string(m.Type),
		ReplyTo:      m.ReplyTo,
		Timestamp:    ts,
		Body:         m.Body,
	}
}

// messageFrom восстанавливает Message из доставки. Доставка без id или
// с неизвестным типом отклоняется.
func messageFrom(d amqp.Delivery) (Message, error) {
	msg := Message{
		ID:        d.MessageId,
		Type:      MessageType(d.Type),
		ReplyTo:   d.ReplyTo,
		Body:      d.Body,
		Timestamp: d.Timestamp,
	}
	if msg.ID == "" {
		return msg, fmt.Errorf("%w: message without id", ErrReject)
	}
	switch msg.Type {
	case MessageTypeWorkSubmitted, MessageTypeWorkCompleted:
	default:
		return msg, fmt.Errorf("%w: unknown message type %q", ErrReject, d.Type)
	}
	if d.ContentType != "" && d.ContentType != ContentType {
		return msg, fmt.Errorf("%w: unexpected content type %q", ErrReject, d.ContentType)
	}
	return msg, nil
}
