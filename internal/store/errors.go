package store

import "errors"

var (
	// ErrInvalidProviderConfig — явно указанный провайдер настроен некорректно.
	ErrInvalidProviderConfig = errors.New("invalid cache provider config")

	// ErrBackendUnavailable — хранилище не стало доступным за отведённое время.
	ErrBackendUnavailable = errors.New("backend unavailable")
)
