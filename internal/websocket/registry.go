package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/logger"
	"classpulse/pkg/metrics"
	"classpulse/pkg/types"
)

// group is the set of live connections of one session
type group struct {
	mu      sync.Mutex
	members map[string]interfaces.Member
}

// Registry maps sessions to their connection groups
// ARCHITECTURAL DISCOVERY: Two lock levels. The registry RWMutex guards the group map and
// memberships, each group's mutex guards its member set and serializes its broadcasts,
// so fan-out in one session never waits on another session
type Registry struct {
	mu          sync.RWMutex
	groups      map[int64]*group
	memberships map[string]int64 // member ID -> session ID
	log         logger.Logger
}

// RegistryStats is a point-in-time view used by the health endpoint
type RegistryStats struct {
	Groups      int `json:"groups"`
	Connections int `json:"connections"`
}

var _ interfaces.Broadcaster = (*Registry)(nil)

// NewRegistry creates an empty registry
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		groups:      make(map[int64]*group),
		memberships: make(map[string]int64),
		log:         log,
	}
}

// Join adds member to the session's group, creating the group on first join
// Joining the group a member is already in is a no-op
func (r *Registry) Join(sessionID int64, member interfaces.Member) error {
	if member == nil {
		return ErrNilMember
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.memberships[member.ID()]; ok {
		if current == sessionID {
			return nil
		}
		return ErrAlreadyInGroup
	}

	g, ok := r.groups[sessionID]
	if !ok {
		g = &group{members: make(map[string]interfaces.Member)}
		r.groups[sessionID] = g
	}

	g.mu.Lock()
	g.members[member.ID()] = member
	g.mu.Unlock()

	r.memberships[member.ID()] = sessionID
	metrics.UpdateGroupsActive(len(r.groups))
	return nil
}

// Leave removes member from the session's group
// FUNCTIONAL DISCOVERY: A group is pruned as soon as its last member leaves; the next
// Join recreates it, so an empty group never lingers until the session ends
func (r *Registry) Leave(sessionID int64, member interfaces.Member) {
	if member == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.memberships[member.ID()]; !ok || current != sessionID {
		return
	}
	delete(r.memberships, member.ID())

	g, ok := r.groups[sessionID]
	if !ok {
		return
	}

	g.mu.Lock()
	delete(g.members, member.ID())
	empty := len(g.members) == 0
	g.mu.Unlock()

	if empty {
		delete(r.groups, sessionID)
	}
	metrics.UpdateGroupsActive(len(r.groups))
}

// Broadcast queues the event on every member of the session's group and
// returns how many members accepted it
// TECHNICAL DISCOVERY: The event is encoded once and the group lock is held for the whole
// fan-out, so every member sees the group's broadcasts in the same order. Enqueue never
// blocks; a member with a full buffer misses this event and closes itself
func (r *Registry) Broadcast(sessionID int64, event *types.Event) int {
	frame, err := json.Marshal(event)
	if err != nil {
		r.log.Error(context.Background(), "Failed to encode broadcast event",
			logger.String("event_type", event.Type),
			logger.Int64("session_id", sessionID),
			logger.Error(err))
		return 0
	}

	r.mu.RLock()
	g, ok := r.groups[sessionID]
	if !ok {
		r.mu.RUnlock()
		return 0
	}

	g.mu.Lock()
	delivered, dropped := 0, 0
	for id, member := range g.members {
		if err := member.Enqueue(frame); err != nil {
			dropped++
			r.log.Debug(context.Background(), "Broadcast skipped member",
				logger.String("connection_id", id),
				logger.String("event_type", event.Type),
				logger.Error(err))
			continue
		}
		delivered++
	}
	g.mu.Unlock()
	r.mu.RUnlock()

	metrics.RecordBroadcast(event.Type, delivered, dropped)
	return delivered
}

// Count returns the number of members in the session's group
func (r *Registry) Count(sessionID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[sessionID]
	if !ok {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// GroupOf reports the session a member currently belongs to
func (r *Registry) GroupOf(member interfaces.Member) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok := r.memberships[member.ID()]
	return sessionID, ok
}

// Stats summarizes the registry
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RegistryStats{Groups: len(r.groups), Connections: len(r.memberships)}
}
