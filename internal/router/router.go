package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/logger"
	"classpulse/pkg/metrics"
	"classpulse/pkg/types"
)

// Router implements the MessageRouter interface
// ARCHITECTURAL DISCOVERY: Routing decides who may do what; delivery belongs to the
// broadcaster and persistence to the store, so the router holds no connection state
// beyond rate-limit counters
type Router struct {
	broadcaster interfaces.Broadcaster
	store       interfaces.Store
	lifecycle   interfaces.SessionLifecycle
	stats       interfaces.StatsAggregator
	limiter     *RateLimiter
	now         func() time.Time
	log         logger.Logger
}

var _ interfaces.MessageRouter = (*Router)(nil)

// Option configures a Router
type Option func(*Router)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithRateLimit allows perMinute inbound messages per connection; zero disables limiting
func WithRateLimit(perMinute int) Option {
	return func(r *Router) {
		if perMinute <= 0 {
			r.limiter = nil
			return
		}
		r.limiter = NewRateLimiter(perMinute, time.Minute, func() time.Time { return r.now() })
	}
}

// NewRouter creates a message router
// FUNCTIONAL DISCOVERY: Dependency injection enables testing with mock components
func NewRouter(
	broadcaster interfaces.Broadcaster,
	store interfaces.Store,
	lifecycle interfaces.SessionLifecycle,
	stats interfaces.StatsAggregator,
	log logger.Logger,
	opts ...Option,
) *Router {
	r := &Router{
		broadcaster: broadcaster,
		store:       store,
		lifecycle:   lifecycle,
		stats:       stats,
		now:         time.Now,
		log:         log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// requiredRole returns the role a kind is restricted to, or "" when any participant may send it
func requiredRole(kind types.MessageKind) (types.Role, error) {
	switch kind {
	case types.KindFocusUpdate:
		return types.RoleStudent, ErrStudentsOnly
	case types.KindTimerUpdate:
		return types.RoleInstructor, ErrInstructorsOnlyTimer
	case types.KindSessionControl:
		return types.RoleInstructor, ErrInstructorsOnly
	default:
		return "", nil
	}
}

// fieldError maps a wrongly typed field onto the validation error of the kind
func fieldError(kind types.MessageKind, err error) error {
	switch kind {
	case types.KindFocusUpdate:
		return types.ErrMissingFocusScore
	case types.KindTimerUpdate:
		return types.ErrMissingElapsedTime
	case types.KindSessionControl:
		return types.ErrInvalidControlType
	case types.KindChatMessage:
		return types.ErrInvalidChatMessage
	default:
		return err
	}
}

// Dispatch handles one inbound frame from client
// Every failure is reported to the sender only; nothing here closes the connection
func (r *Router) Dispatch(ctx context.Context, client interfaces.Client, frame []byte) {
	kind := types.KindUnknown
	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordMessageError(kind.String(), "panic")
			r.log.Error(ctx, "Message handler panicked",
				logger.String("connection_id", client.ID()),
				logger.String("kind", kind.String()),
				logger.Any("panic", rec))
			r.reply(ctx, client, ErrInternal)
		}
	}()

	if r.limiter != nil && !r.limiter.Allow(client.ID()) {
		metrics.RecordMessageError("any", "rate_limited")
		r.reply(ctx, client, ErrRateLimitExceeded)
		return
	}

	msg, kind, err := types.DecodeInbound(frame)
	if err != nil && !errors.Is(err, types.ErrInvalidFieldType) {
		metrics.RecordMessageError(kind.String(), "invalid_frame")
		r.reply(ctx, client, err)
		return
	}
	metrics.RecordMessage(kind.String())

	participant := client.Participant()
	if role, roleErr := requiredRole(kind); role != "" && participant.Role != role {
		metrics.RecordMessageError(kind.String(), "forbidden")
		r.log.Warn(ctx, "Role violation",
			logger.String("connection_id", client.ID()),
			logger.Int64("user_id", participant.UserID),
			logger.String("role", string(participant.Role)),
			logger.String("kind", kind.String()))
		r.reply(ctx, client, roleErr)
		return
	}

	if err != nil {
		metrics.RecordMessageError(kind.String(), "invalid_field")
		r.reply(ctx, client, fieldError(kind, err))
		return
	}

	switch kind {
	case types.KindPing:
		_ = client.Send(types.NewEvent(types.EventPong, r.now()))
	case types.KindFocusUpdate:
		r.handleFocusUpdate(ctx, client, msg)
	case types.KindTimerUpdate:
		r.handleTimerUpdate(ctx, client, msg)
	case types.KindSessionControl:
		r.handleSessionControl(ctx, client, msg)
	case types.KindChatMessage:
		r.handleChatMessage(ctx, client, msg)
	case types.KindRequestSessionStats:
		if err := r.BroadcastStats(ctx, client.SessionID()); err != nil {
			r.reply(ctx, client, ErrStatsUnavailable)
		}
	case types.KindUnknown:
		metrics.RecordMessageError(kind.String(), "unknown_type")
		r.reply(ctx, client, fmt.Errorf("unknown message type: %s", msg.Type))
	}
}

func (r *Router) handleFocusUpdate(ctx context.Context, client interfaces.Client, msg *types.InboundMessage) {
	score, err := msg.Score()
	if err != nil {
		r.reply(ctx, client, err)
		return
	}
	score = types.ClampFocusScore(score)

	participant := client.Participant()
	sessionID := client.SessionID()
	if err := r.store.UpsertPerformance(ctx, sessionID, participant.UserID, types.FocusReading(score)); err != nil {
		metrics.RecordMessageError(types.KindFocusUpdate.String(), "store")
		r.log.Error(ctx, "Failed to record focus score",
			logger.Int64("session_id", sessionID),
			logger.Int64("user_id", participant.UserID),
			logger.Error(err))
		r.reply(ctx, client, ErrFocusUpdateFailed)
		return
	}

	event := types.ParticipantEvent(types.EventFocusUpdate, participant, r.now())
	event.FocusScore = &score
	r.broadcaster.Broadcast(sessionID, event)

	if err := r.BroadcastStats(ctx, sessionID); err != nil {
		r.log.Warn(ctx, "Failed to refresh stats after focus update",
			logger.Int64("session_id", sessionID), logger.Error(err))
	}

	ack := types.NewEvent(types.EventFocusUpdateAck, r.now())
	ack.Message = "Focus score updated successfully"
	_ = client.Send(ack)
}

func (r *Router) handleTimerUpdate(ctx context.Context, client interfaces.Client, msg *types.InboundMessage) {
	elapsed, err := msg.Elapsed()
	if err != nil {
		r.reply(ctx, client, err)
		return
	}

	sentBy := client.Participant().UserID
	r.broadcaster.Broadcast(client.SessionID(), types.TimerUpdate(elapsed, &sentBy, r.now()))
}

func (r *Router) handleSessionControl(ctx context.Context, client interfaces.Client, msg *types.InboundMessage) {
	if !msg.ControlType.Valid() {
		r.reply(ctx, client, types.ErrInvalidControlType)
		return
	}

	participant := client.Participant()
	sessionID := client.SessionID()

	// FUNCTIONAL DISCOVERY: The lifecycle controller broadcasts session.ended itself and
	// only when this call actually ended the session, so a repeated end yields no
	// second notification
	if msg.ControlType == types.ControlEnd {
		ended, err := r.lifecycle.EndSession(ctx, sessionID, &participant)
		if err != nil || !ended {
			r.log.Warn(ctx, "Session end request failed",
				logger.Int64("session_id", sessionID),
				logger.Bool("already_ended", err == nil && !ended),
				logger.Error(err))
			r.reply(ctx, client, ErrEndSessionFailed)
			return
		}
		client.StopTicker()
	}

	event := types.NewEvent(types.EventSessionControl, r.now())
	event.ControlType = msg.ControlType
	event.SentBy = &participant.UserID
	event.SentByName = participant.DisplayName
	event.Message = fmt.Sprintf("Session %s by instructor", msg.ControlType.PastTense())
	r.broadcaster.Broadcast(sessionID, event)
}

func (r *Router) handleChatMessage(ctx context.Context, client interfaces.Client, msg *types.InboundMessage) {
	text, err := types.NormalizeChatMessage(msg.Message)
	if err != nil {
		r.reply(ctx, client, err)
		return
	}

	event := types.ParticipantEvent(types.EventChatMessage, client.Participant(), r.now())
	event.Message = text
	r.broadcaster.Broadcast(client.SessionID(), event)
}

// BroadcastStats computes fresh statistics and sends them to the whole group
func (r *Router) BroadcastStats(ctx context.Context, sessionID int64) error {
	stats, err := r.stats.ComputeStats(ctx, sessionID)
	if err != nil {
		r.log.Error(ctx, "Failed to compute session stats",
			logger.Int64("session_id", sessionID), logger.Error(err))
		return err
	}
	r.broadcaster.Broadcast(sessionID, types.SessionStats(stats, r.now()))
	return nil
}

// Forget drops the connection's rate-limit state
func (r *Router) Forget(client interfaces.Client) {
	if r.limiter != nil {
		r.limiter.Forget(client.ID())
	}
}

// CleanupRateLimits removes idle rate-limit entries and returns how many were dropped
func (r *Router) CleanupRateLimits() int {
	if r.limiter == nil {
		return 0
	}
	return r.limiter.Cleanup()
}

func (r *Router) reply(ctx context.Context, client interfaces.Client, err error) {
	if sendErr := client.Send(types.ErrorEvent(err.Error(), r.now())); sendErr != nil {
		r.log.Debug(ctx, "Failed to send error reply",
			logger.String("connection_id", client.ID()), logger.Error(sendErr))
	}
}
