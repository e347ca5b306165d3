package types

import (
	"math"
	"strings"
	"unicode/utf8"
)

// MaxChatMessageLength bounds chat messages, counted in characters after trimming
const MaxChatMessageLength = 1000

// Validate checks the fixed shape required of an authenticated identity
// FUNCTIONAL DISCOVERY: a missing role or user ID is an authentication failure,
// never something to probe for later while handling messages
func (p Participant) Validate() error {
	if p.UserID <= 0 || !p.Role.Valid() {
		return ErrInvalidIdentity
	}
	return nil
}

// ClampFocusScore forces a score into [0, 1]; NaN is treated as 0
func ClampFocusScore(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(0, math.Min(1, score))
}

// NormalizeChatMessage trims the message and enforces the length bounds
func NormalizeChatMessage(raw *string) (string, error) {
	if raw == nil {
		return "", ErrInvalidChatMessage
	}

	trimmed := strings.TrimSpace(*raw)
	if trimmed == "" {
		return "", ErrEmptyChatMessage
	}
	if utf8.RuneCountInString(trimmed) > MaxChatMessageLength {
		return "", ErrChatMessageTooLong
	}
	return trimmed, nil
}
