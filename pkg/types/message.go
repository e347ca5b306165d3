package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageKind is the closed set of inbound frame kinds a connection understands
// Adding a kind means adding a constant here and a case in the router's dispatch switch
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindPing
	KindFocusUpdate
	KindTimerUpdate
	KindSessionControl
	KindChatMessage
	KindRequestSessionStats
)

var kindNames = map[MessageKind]string{
	KindUnknown:             "unknown",
	KindPing:                "ping",
	KindFocusUpdate:         "focus_update",
	KindTimerUpdate:         "timer_update",
	KindSessionControl:      "session_control",
	KindChatMessage:         "chat_message",
	KindRequestSessionStats: "request_session_stats",
}

// kindLookup is keyed by the normalized form, see normalizeType
var kindLookup = map[string]MessageKind{
	"ping":                KindPing,
	"focusupdate":         KindFocusUpdate,
	"timerupdate":         KindTimerUpdate,
	"sessioncontrol":      KindSessionControl,
	"chatmessage":         KindChatMessage,
	"requestsessionstats": KindRequestSessionStats,
}

func (k MessageKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// ParseMessageKind maps a client supplied type string onto a MessageKind
// Matching ignores case and the separators '_', '.', '-' and spaces, so
// "focus.update", "FOCUS_UPDATE" and "focusUpdate" are the same kind
func ParseMessageKind(raw string) MessageKind {
	if kind, ok := kindLookup[normalizeType(raw)]; ok {
		return kind
	}
	return KindUnknown
}

func normalizeType(raw string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '_', '.', '-', ' ':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(raw)))
}

// ControlType is the instructor command carried by session_control frames
type ControlType string

const (
	ControlStart  ControlType = "start"
	ControlPause  ControlType = "pause"
	ControlResume ControlType = "resume"
	ControlEnd    ControlType = "end"
)

// Valid reports whether the control type is one of start, pause, resume, end
func (c ControlType) Valid() bool {
	switch c {
	case ControlStart, ControlPause, ControlResume, ControlEnd:
		return true
	default:
		return false
	}
}

// PastTense renders the control for human readable notices
func (c ControlType) PastTense() string {
	switch c {
	case ControlStart:
		return "started"
	case ControlPause:
		return "paused"
	case ControlResume:
		return "resumed"
	case ControlEnd:
		return "ended"
	default:
		return string(c)
	}
}

// InboundMessage is one JSON frame received from a client
// Only the fields relevant to the frame's kind are read
type InboundMessage struct {
	Type        string      `json:"type"`
	FocusScore  *float64    `json:"focus_score,omitempty"`
	Focus       *float64    `json:"focus,omitempty"`
	ElapsedTime *float64    `json:"elapsed_time,omitempty"`
	ControlType ControlType `json:"control_type,omitempty"`
	Message     *string     `json:"message,omitempty"`
}

// DecodeInbound parses a raw frame and resolves its kind
// A frame whose fields have the wrong JSON type still reports its kind so
// callers can log it, together with an ErrInvalidFieldType error
func DecodeInbound(frame []byte) (*InboundMessage, MessageKind, error) {
	var msg InboundMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			switch {
			case typeErr.Field == "":
				return nil, KindUnknown, ErrInvalidFrame
			case typeErr.Field == "type", strings.TrimSpace(msg.Type) == "":
				return nil, KindUnknown, ErrMissingMessageType
			}
			return &msg, ParseMessageKind(msg.Type), fmt.Errorf("%w: %s", ErrInvalidFieldType, typeErr.Field)
		}
		return nil, KindUnknown, ErrInvalidFrame
	}

	if strings.TrimSpace(msg.Type) == "" {
		return nil, KindUnknown, ErrMissingMessageType
	}

	return &msg, ParseMessageKind(msg.Type), nil
}

// Score returns the submitted focus score, preferring focus_score over the legacy focus field
func (m *InboundMessage) Score() (float64, error) {
	switch {
	case m.FocusScore != nil:
		return *m.FocusScore, nil
	case m.Focus != nil:
		return *m.Focus, nil
	default:
		return 0, ErrMissingFocusScore
	}
}

// Elapsed returns the instructor supplied elapsed time in seconds
func (m *InboundMessage) Elapsed() (float64, error) {
	if m.ElapsedTime == nil {
		return 0, ErrMissingElapsedTime
	}
	return *m.ElapsedTime, nil
}
