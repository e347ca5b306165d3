package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/logger"
	"classpulse/pkg/metrics"
	"classpulse/pkg/types"
)

// Manager implements the SessionLifecycle interface
// ARCHITECTURAL DISCOVERY: The store is the only source of truth for session state;
// the manager keeps no cache, so connections, the admin API and the ticker all see
// the same IsActive flag
type Manager struct {
	store       interfaces.Store
	broadcaster interfaces.Broadcaster
	now         func() time.Time
	log         logger.Logger

	startMu sync.Mutex // serializes StartSession
}

var _ interfaces.SessionLifecycle = (*Manager)(nil)

// NewManager creates a session lifecycle controller
func NewManager(store interfaces.Store, broadcaster interfaces.Broadcaster, log logger.Logger) *Manager {
	return &Manager{
		store:       store,
		broadcaster: broadcaster,
		now:         time.Now,
		log:         log,
	}
}

// SetClock replaces time.Now
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// StartSession ends every active session of the classroom and opens a new one
// FUNCTIONAL DISCOVERY: Starts are serialized so two concurrent requests cannot both
// observe "no active session" and leave the classroom with two
func (m *Manager) StartSession(ctx context.Context, classroomID int64, requester types.Participant) (*types.Session, error) {
	if classroomID <= 0 {
		return nil, ErrInvalidClassroom
	}
	if !requester.IsInstructor() {
		return nil, ErrNotClassroomInstructor
	}

	m.startMu.Lock()
	defer m.startMu.Unlock()

	owns, err := m.store.IsInstructorOf(ctx, requester.UserID, classroomID)
	if err != nil {
		return nil, fmt.Errorf("check classroom ownership: %w", err)
	}
	if !owns {
		return nil, ErrNotClassroomInstructor
	}

	active, err := m.store.ActiveSessions(ctx, classroomID)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	for _, previous := range active {
		ended, err := m.EndSession(ctx, previous.ID, &requester)
		if err != nil {
			return nil, fmt.Errorf("end previous session %d: %w", previous.ID, err)
		}
		m.log.Info(ctx, "Ended previous session before starting a new one",
			logger.Int64("classroom_id", classroomID),
			logger.Int64("session_id", previous.ID),
			logger.Bool("ended", ended))
	}

	session := &types.Session{
		ClassroomID: classroomID,
		StartTime:   m.now().UTC(),
		IsActive:    true,
	}
	if err := m.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	metrics.RecordSessionStarted()
	m.log.Info(ctx, "Session started",
		logger.Int64("classroom_id", classroomID),
		logger.Int64("session_id", session.ID),
		logger.Int64("instructor_id", requester.UserID))
	return session, nil
}

// EndSession ends an active session and announces it once
// The store update is conditional, so only the caller that flips IsActive gets true
// and broadcasts session.ended; everyone else gets false with a nil error
func (m *Manager) EndSession(ctx context.Context, sessionID int64, by *types.Participant) (bool, error) {
	endTime := m.now().UTC()

	ended, err := m.store.CloseSession(ctx, sessionID, endTime)
	if err != nil {
		return false, fmt.Errorf("close session %d: %w", sessionID, err)
	}
	if !ended {
		return false, nil
	}

	if err := m.store.BulkMarkUnattended(ctx, sessionID); err != nil {
		m.log.Error(ctx, "Failed to mark performances unattended",
			logger.Int64("session_id", sessionID), logger.Error(err))
	}

	var sentBy *int64
	if by != nil {
		id := by.UserID
		sentBy = &id
	}
	m.broadcaster.Broadcast(sessionID, types.SessionEnded(endTime, sentBy, m.now()))

	metrics.RecordSessionEnded()
	m.log.Info(ctx, "Session ended", logger.Int64("session_id", sessionID))
	return true, nil
}

// EndSessionAs ends the session on behalf of requester, who must own its classroom
func (m *Manager) EndSessionAs(ctx context.Context, sessionID int64, requester types.Participant) (bool, error) {
	if !requester.IsInstructor() {
		return false, ErrNotClassroomInstructor
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	owns, err := m.store.IsInstructorOf(ctx, requester.UserID, session.ClassroomID)
	if err != nil {
		return false, fmt.Errorf("check classroom ownership: %w", err)
	}
	if !owns {
		return false, ErrNotClassroomInstructor
	}

	return m.EndSession(ctx, sessionID, &requester)
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID int64) (*types.Session, error) {
	return m.store.GetSession(ctx, sessionID)
}

// ListActiveSessions returns the classroom's active sessions
func (m *Manager) ListActiveSessions(ctx context.Context, classroomID int64) ([]*types.Session, error) {
	return m.store.ActiveSessions(ctx, classroomID)
}
