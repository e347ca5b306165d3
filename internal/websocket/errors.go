package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilMember      = errors.New("member cannot be nil")
	ErrAlreadyInGroup = errors.New("member already belongs to another session group")
)

// Handler-related errors
var (
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrAuthTimeout      = errors.New("authorization timed out")
)
