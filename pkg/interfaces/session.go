package interfaces

import (
	"context"

	"classpulse/pkg/types"
)

// SessionLifecycle starts and ends classroom sessions
type SessionLifecycle interface {
	// StartSession ends any active session of the classroom and opens a new one
	StartSession(ctx context.Context, classroomID int64, requester types.Participant) (*types.Session, error)

	// EndSession reports false with a nil error when the session had already ended
	// FUNCTIONAL DISCOVERY: only the caller that actually ends the session broadcasts
	// session.ended, so concurrent end requests produce a single notification
	EndSession(ctx context.Context, sessionID int64, by *types.Participant) (bool, error)

	GetSession(ctx context.Context, sessionID int64) (*types.Session, error)
}

// StatsAggregator computes live statistics for a session
type StatsAggregator interface {
	ComputeStats(ctx context.Context, sessionID int64) (*types.Stats, error)
}

// TokenVerifier resolves a bearer token into the participant it was issued to
// Errors wrap ErrMissingToken or ErrInvalidToken
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (types.Participant, error)
}
