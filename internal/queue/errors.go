package queue

import "errors"

var (
	// ErrLockLost — блокировка job истекла и была снята (job возвращён в очередь).
	ErrLockLost = errors.New("job lock lost")

	// ErrInvalidEnvelope — envelope без ID.
	ErrInvalidEnvelope = errors.New("invalid job envelope")
)
