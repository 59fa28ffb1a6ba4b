package scheduler

import "errors"

var (
	// ErrNilJob — в AddJob передан nil.
	ErrNilJob = errors.New("nil job")

	// ErrEnqueueFailed — job не удалось передать в очередь.
	ErrEnqueueFailed = errors.New("enqueue failed")
)
