package session

import "errors"

// Session lifecycle errors
var (
	ErrNotClassroomInstructor = errors.New("only the classroom's instructor can manage its sessions")
	ErrInvalidClassroom       = errors.New("invalid classroom id")
)
