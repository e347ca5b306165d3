package types

import (
	"time"
)

// Outbound event types as seen by clients
const (
	EventConnectionEstablished = "connection.established"
	EventSessionJoined         = "session.joined"
	EventSessionLeft           = "session.left"
	EventFocusUpdate           = "focus.update"
	EventFocusUpdateAck        = "focus.update.ack"
	EventTimerUpdate           = "timer.update"
	EventSessionControl        = "session.control"
	EventSessionEnded          = "session.ended"
	EventChatMessage           = "chat.message"
	EventSessionStats          = "session.stats"
	EventPong                  = "pong"
	EventError                 = "error"
)

// Event is one outbound frame
// ARCHITECTURAL DISCOVERY: a single flat shape keeps every frame JSON-serializable;
// pointer fields distinguish "absent" from meaningful zero values (a 0.0 focus score)
type Event struct {
	Type        string      `json:"type"`
	Message     string      `json:"message,omitempty"`
	SessionID   int64       `json:"session_id,omitempty"`
	UserID      int64       `json:"user_id,omitempty"`
	UserName    string      `json:"user_name,omitempty"`
	UserRole    Role        `json:"user_role,omitempty"`
	FocusScore  *float64    `json:"focus_score,omitempty"`
	ElapsedTime *float64    `json:"elapsed_time,omitempty"`
	ControlType ControlType `json:"control_type,omitempty"`
	SentBy      *int64      `json:"sent_by,omitempty"`
	SentByName  string      `json:"sent_by_name,omitempty"`
	EndTime     *time.Time  `json:"end_time,omitempty"`
	Stats       *Stats      `json:"stats,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// NewEvent stamps an event of the given type with the current time
func NewEvent(eventType string, now time.Time) *Event {
	return &Event{Type: eventType, Timestamp: now}
}

// ErrorEvent is the reply sent to a single client when its frame is rejected
func ErrorEvent(message string, now time.Time) *Event {
	ev := NewEvent(EventError, now)
	ev.Message = message
	return ev
}

// ParticipantEvent describes something a participant did (joined, left, chatted, focused)
func ParticipantEvent(eventType string, p Participant, now time.Time) *Event {
	ev := NewEvent(eventType, now)
	ev.UserID = p.UserID
	ev.UserName = p.DisplayName
	ev.UserRole = p.Role
	return ev
}

// ConnectionEstablished confirms a successful handshake to the connecting client
func ConnectionEstablished(sessionID int64, p Participant, now time.Time) *Event {
	ev := ParticipantEvent(EventConnectionEstablished, p, now)
	ev.SessionID = sessionID
	ev.Message = "WebSocket connection established successfully"
	return ev
}

// TimerUpdate reports elapsed seconds; sentBy is nil for the autonomous ticker
func TimerUpdate(elapsedSeconds float64, sentBy *int64, now time.Time) *Event {
	ev := NewEvent(EventTimerUpdate, now)
	ev.ElapsedTime = &elapsedSeconds
	ev.SentBy = sentBy
	return ev
}

// SessionEnded announces that a session is over
func SessionEnded(endTime time.Time, sentBy *int64, now time.Time) *Event {
	ev := NewEvent(EventSessionEnded, now)
	ev.Message = "Session has ended"
	ev.EndTime = &endTime
	ev.SentBy = sentBy
	return ev
}

// SessionStats wraps freshly computed statistics
func SessionStats(stats *Stats, now time.Time) *Event {
	ev := NewEvent(EventSessionStats, now)
	ev.Stats = stats
	return ev
}
