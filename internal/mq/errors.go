package mq

import "errors"

var (
	// ErrNoChannel — соединение ещё не установлено или переподключается.
	ErrNoChannel = errors.New("mq: no channel available")

	// ErrReject — сообщение некорректно и не будет доставлено повторно.
	// Обработчик возвращает его обёрнутым, consumer отправляет сообщение в DLQ.
	ErrReject = errors.New("mq: reject message")

	// ErrClosed — соединение закрыто через Close.
	ErrClosed = errors.New("mq: connection closed")
)
