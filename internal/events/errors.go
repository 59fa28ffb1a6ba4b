package events

import "errors"

var (
	// ErrInvalidCommand — команда trigger не прошла валидацию.
	ErrInvalidCommand = errors.New("invalid trigger command")

	// ErrTemplateInactive — шаблон выключен.
	ErrTemplateInactive = errors.New("template is inactive")
)
