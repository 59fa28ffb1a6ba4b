package channel

import "errors"

var (
	// ErrUnknownProvider — провайдер не зарегистрирован.
	ErrUnknownProvider = errors.New("unknown channel provider")

	// ErrIntegration — сообщение нельзя отправить с текущими настройками интеграции.
	ErrIntegration = errors.New("channel integration invalid")

	// ErrDelivery — провайдер отклонил сообщение или недоступен.
	ErrDelivery = errors.New("channel delivery failed")
)
