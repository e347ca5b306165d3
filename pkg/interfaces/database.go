package interfaces

import (
	"context"
	"time"

	"classpulse/pkg/types"
)

// Store handles all persistence the hub needs
// ARCHITECTURAL DISCOVERY: single interface for all persistence operations so the
// SQLite and in-memory implementations are interchangeable
type Store interface {
	// GetSession returns ErrSessionNotFound when no session has the ID
	GetSession(ctx context.Context, sessionID int64) (*types.Session, error)

	// SaveSession inserts the session when its ID is zero (assigning the ID) and updates it otherwise
	SaveSession(ctx context.Context, session *types.Session) error

	// CloseSession marks an active session ended at the given time
	// FUNCTIONAL DISCOVERY: the update is conditional on the session still being active,
	// so of several concurrent callers exactly one gets true
	CloseSession(ctx context.Context, sessionID int64, endTime time.Time) (bool, error)

	// ActiveSessions lists the classroom's active sessions
	ActiveSessions(ctx context.Context, classroomID int64) ([]*types.Session, error)

	// Performance operations
	UpsertPerformance(ctx context.Context, sessionID, studentID int64, update types.PerformanceUpdate) error
	BulkMarkUnattended(ctx context.Context, sessionID int64) error
	RecentPerformances(ctx context.Context, sessionID int64, since time.Time) ([]*types.PerformanceRecord, error)

	// Classroom membership
	CountEnrolledStudents(ctx context.Context, classroomID int64) (int, error)
	IsInstructorOf(ctx context.Context, userID, classroomID int64) (bool, error)
	IsEnrolled(ctx context.Context, userID, classroomID int64) (bool, error)

	// HealthCheck verifies database connectivity
	HealthCheck(ctx context.Context) error

	// Close flushes pending writes and releases resources
	Close() error
}
