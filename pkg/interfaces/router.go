package interfaces

import (
	"context"

	"classpulse/pkg/types"
)

// Broadcaster fans an event out to every connection in a session's group
type Broadcaster interface {
	// Broadcast returns the number of members the event was queued for
	Broadcast(sessionID int64, event *types.Event) int
}

// MessageRouter handles inbound frames from active connections
// TECHNICAL DISCOVERY: frames from one connection are dispatched on that connection's
// read goroutine, so a client's messages are handled in the order they were sent
type MessageRouter interface {
	Dispatch(ctx context.Context, client Client, frame []byte)

	// BroadcastStats computes fresh statistics and sends them to the whole group
	BroadcastStats(ctx context.Context, sessionID int64) error

	// Forget drops any per-connection state the router keeps
	Forget(client Client)
}
