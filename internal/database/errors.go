package database

import "errors"

// Store errors
var (
	ErrClosed              = errors.New("database manager is closed")
	ErrWriteTimeout        = errors.New("write operation timeout")
	ErrActiveSessionExists = errors.New("classroom already has an active session")
	ErrClassroomNotFound   = errors.New("classroom not found")
	ErrUnknownDriver       = errors.New("unknown database driver")
)
