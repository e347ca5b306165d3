package interfaces

import "classpulse/pkg/types"

// Member is anything the connection-group registry can deliver frames to
// ARCHITECTURAL DISCOVERY: the registry serializes an event once and hands every
// member the same bytes, so members accept pre-encoded frames
type Member interface {
	// ID is unique per connection, not per user: one user may hold several connections
	ID() string

	// Enqueue queues an encoded frame without blocking
	// FUNCTIONAL DISCOVERY: a full buffer must fail fast so one slow reader
	// cannot stall delivery to the rest of its group
	Enqueue(frame []byte) error
}

// Client is the view of an active connection that message handlers work with
type Client interface {
	Member

	// Participant is the identity resolved while the connection was authorizing
	Participant() types.Participant

	// SessionID is the session whose group the connection joined
	SessionID() int64

	// Send encodes and queues an event for this connection only
	Send(event *types.Event) error

	// StopTicker stops the connection's elapsed-time ticker and waits for it to exit
	StopTicker()
}
