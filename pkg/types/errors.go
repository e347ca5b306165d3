package types

import "errors"

// Validation errors surfaced to clients as error events
var (
	ErrInvalidIdentity    = errors.New("identity must carry a positive user ID and a known role")
	ErrMissingMessageType = errors.New("missing message type")
	ErrInvalidFrame       = errors.New("invalid JSON format")
	ErrMissingFocusScore  = errors.New("invalid focus score")
	ErrMissingElapsedTime = errors.New("invalid elapsed time")
	ErrInvalidControlType = errors.New("invalid control type")
	ErrInvalidChatMessage = errors.New("invalid chat message")
	ErrEmptyChatMessage   = errors.New("message cannot be empty")
	ErrChatMessageTooLong = errors.New("message too long")
	ErrInvalidFieldType   = errors.New("invalid field type")
)
