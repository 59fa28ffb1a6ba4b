package worker

import "errors"

var (
	// ErrUnknownStepType — нет executor'а для типа шага.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrMissingProvider — message шаг без провайдера канала.
	ErrMissingProvider = errors.New("message step has no provider")
)
