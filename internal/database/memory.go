package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

type classroom struct {
	name         string
	instructorID int64
	students     map[int64]bool
}

type performanceKey struct {
	sessionID int64
	studentID int64
}

// MemoryStore is an in-process interfaces.Store used for development and tests
// It follows the same rules as the SQLite store: one active session per classroom,
// conditional close, and field-wise performance upserts
type MemoryStore struct {
	mu           sync.RWMutex
	now          func() time.Time
	classrooms   map[int64]*classroom
	sessions     map[int64]*types.Session
	performances map[performanceKey]*types.PerformanceRecord
	nextClass    int64
	nextSession  int64
	failures     map[string]error
	closed       bool
}

var _ interfaces.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:          time.Now,
		classrooms:   make(map[int64]*classroom),
		sessions:     make(map[int64]*types.Session),
		performances: make(map[performanceKey]*types.PerformanceRecord),
		failures:     make(map[string]error),
	}
}

// SetClock replaces the time source used to stamp performance records
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailOperation makes every call of the named operation return err until cleared with a nil err
func (s *MemoryStore) FailOperation(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// failure must be called with mu held
func (s *MemoryStore) failure(op string) error {
	if s.closed {
		return ErrClosed
	}
	return s.failures[op]
}

// CreateClassroom registers a classroom owned by the instructor
func (s *MemoryStore) CreateClassroom(ctx context.Context, name string, instructorID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("create_classroom"); err != nil {
		return 0, err
	}
	s.nextClass++
	s.classrooms[s.nextClass] = &classroom{name: name, instructorID: instructorID, students: make(map[int64]bool)}
	return s.nextClass, nil
}

// Enroll adds a student to the classroom roster
func (s *MemoryStore) Enroll(ctx context.Context, classroomID, studentID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("enroll"); err != nil {
		return err
	}
	c, ok := s.classrooms[classroomID]
	if !ok {
		return fmt.Errorf("classroom %d: %w", classroomID, ErrClassroomNotFound)
	}
	c.students[studentID] = true
	return nil
}

// Performance returns a copy of one record, for assertions
func (s *MemoryStore) Performance(sessionID, studentID int64) (types.PerformanceRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.performances[performanceKey{sessionID, studentID}]
	if !ok {
		return types.PerformanceRecord{}, false
	}
	return *p, true
}

func copySession(session *types.Session) *types.Session {
	c := *session
	if session.EndTime != nil {
		end := *session.EndTime
		c.EndTime = &end
	}
	return &c
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID int64) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("get_session"); err != nil {
		return nil, err
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return copySession(session), nil
}

func (s *MemoryStore) SaveSession(ctx context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("save_session"); err != nil {
		return err
	}
	if _, ok := s.classrooms[session.ClassroomID]; !ok {
		return fmt.Errorf("classroom %d: %w", session.ClassroomID, ErrClassroomNotFound)
	}
	if session.IsActive {
		for id, other := range s.sessions {
			if id != session.ID && other.ClassroomID == session.ClassroomID && other.IsActive {
				return fmt.Errorf("classroom %d: %w", session.ClassroomID, ErrActiveSessionExists)
			}
		}
	}

	if session.ID == 0 {
		s.nextSession++
		session.ID = s.nextSession
	} else if _, ok := s.sessions[session.ID]; !ok {
		return interfaces.ErrSessionNotFound
	}
	s.sessions[session.ID] = copySession(session)
	return nil
}

func (s *MemoryStore) CloseSession(ctx context.Context, sessionID int64, endTime time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("close_session"); err != nil {
		return false, err
	}
	session, ok := s.sessions[sessionID]
	if !ok {
		return false, interfaces.ErrSessionNotFound
	}
	if !session.IsActive {
		return false, nil
	}
	end := endTime
	session.EndTime = &end
	session.IsActive = false
	return true, nil
}

func (s *MemoryStore) ActiveSessions(ctx context.Context, classroomID int64) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("active_sessions"); err != nil {
		return nil, err
	}
	var active []*types.Session
	for _, session := range s.sessions {
		if session.ClassroomID == classroomID && session.IsActive {
			active = append(active, copySession(session))
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].StartTime.After(active[j].StartTime) })
	return active, nil
}

func (s *MemoryStore) UpsertPerformance(ctx context.Context, sessionID, studentID int64, update types.PerformanceUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("upsert_performance"); err != nil {
		return err
	}
	if _, ok := s.sessions[sessionID]; !ok {
		return interfaces.ErrSessionNotFound
	}

	key := performanceKey{sessionID, studentID}
	record, ok := s.performances[key]
	if !ok {
		record = &types.PerformanceRecord{SessionID: sessionID, StudentID: studentID, Timestamp: s.now()}
		s.performances[key] = record
	}
	if update.Attended != nil {
		record.Attended = *update.Attended
	}
	if update.FocusScore != nil {
		record.FocusScore = types.ClampFocusScore(*update.FocusScore)
		record.Timestamp = s.now()
	}
	return nil
}

func (s *MemoryStore) BulkMarkUnattended(ctx context.Context, sessionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("bulk_mark_unattended"); err != nil {
		return err
	}
	for key, record := range s.performances {
		if key.sessionID == sessionID {
			record.Attended = false
		}
	}
	return nil
}

func (s *MemoryStore) RecentPerformances(ctx context.Context, sessionID int64, since time.Time) ([]*types.PerformanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("recent_performances"); err != nil {
		return nil, err
	}
	var records []*types.PerformanceRecord
	for key, record := range s.performances {
		if key.sessionID == sessionID && !record.Timestamp.Before(since) {
			c := *record
			records = append(records, &c)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.Before(records[j].Timestamp) })
	return records, nil
}

func (s *MemoryStore) CountEnrolledStudents(ctx context.Context, classroomID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("count_enrolled"); err != nil {
		return 0, err
	}
	if c, ok := s.classrooms[classroomID]; ok {
		return len(c.students), nil
	}
	return 0, nil
}

func (s *MemoryStore) IsInstructorOf(ctx context.Context, userID, classroomID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("is_instructor_of"); err != nil {
		return false, err
	}
	c, ok := s.classrooms[classroomID]
	return ok && c.instructorID == userID, nil
}

func (s *MemoryStore) IsEnrolled(ctx context.Context, userID, classroomID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("is_enrolled"); err != nil {
		return false, err
	}
	c, ok := s.classrooms[classroomID]
	return ok && c.students[userID], nil
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure("health_check")
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
