package mq

import "errors"

var (
	// ErrNoChannel — соединение ещё не установлено или закрыто.
	ErrNoChannel = errors.New("no amqp channel available")

	// ErrDeliveriesClosed — брокер закрыл канал доставки.
	ErrDeliveriesClosed = errors.New("deliveries channel closed")
)
