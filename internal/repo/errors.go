package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidTransition — текущий статус job не допускает запрошенный
	// (job отменён или уже завершён).
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrWindowClosed — digest окно больше не в DELAYED, событие не добавлено.
	ErrWindowClosed = errors.New("digest window closed")
)
