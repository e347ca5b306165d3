package types

import (
	"time"
)

// Role identifies what a participant may do inside a session
type Role string

const (
	RoleInstructor Role = "instructor"
	RoleStudent    Role = "student"
)

// Valid reports whether the role is one of the two known roles
func (r Role) Valid() bool {
	return r == RoleInstructor || r == RoleStudent
}

// Participant is the authenticated identity attached to one connection
// It is resolved once while the connection is authorizing and never changes afterwards
type Participant struct {
	UserID      int64  `json:"user_id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"display_name"`
}

// IsStudent reports whether the participant joined as a student
func (p Participant) IsStudent() bool {
	return p.Role == RoleStudent
}

// IsInstructor reports whether the participant joined as an instructor
func (p Participant) IsInstructor() bool {
	return p.Role == RoleInstructor
}

// Session is a live classroom meeting
// FUNCTIONAL DISCOVERY: only EndTime and IsActive change after creation, and only once
type Session struct {
	ID          int64      `json:"id"`
	ClassroomID int64      `json:"classroom_id"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	IsActive    bool       `json:"is_active"`
}

// Elapsed returns how long the session ran (ended) or has been running (active)
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}

// PerformanceRecord is the per-(session, student) attendance and focus row
type PerformanceRecord struct {
	SessionID  int64     `json:"session_id"`
	StudentID  int64     `json:"student_id"`
	Attended   bool      `json:"attended"`
	FocusScore float64   `json:"focus_score"`
	Timestamp  time.Time `json:"timestamp"`
}

// PerformanceUpdate carries the fields of an upsert; nil fields keep their stored value
// (or the zero default when the record is created)
type PerformanceUpdate struct {
	Attended   *bool
	FocusScore *float64
}

// Attendance builds an update that only touches the attended flag
func Attendance(attended bool) PerformanceUpdate {
	return PerformanceUpdate{Attended: &attended}
}

// FocusReading builds an update that records a focus score and marks the student present
func FocusReading(score float64) PerformanceUpdate {
	attended := true
	return PerformanceUpdate{Attended: &attended, FocusScore: &score}
}

// FocusDistribution buckets recent focus scores
type FocusDistribution struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Stats is the aggregated view of a session broadcast in session.stats events
type Stats struct {
	TotalParticipants  int               `json:"total_participants"`
	ActiveParticipants int               `json:"active_participants"`
	AverageFocusScore  float64           `json:"average_focus_score"`
	SessionDuration    float64           `json:"session_duration"`
	FocusDistribution  FocusDistribution `json:"focus_distribution"`
}
