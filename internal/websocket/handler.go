package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"classpulse/internal/auth"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/logger"
	"classpulse/pkg/metrics"
	"classpulse/pkg/types"
)

// Close codes sent to clients whose connection cannot be admitted or kept
const (
	CloseGeneric         = 4000
	CloseUnauthenticated = 4001
	CloseSendFailed      = 4002
	CloseUnauthorized    = 4003
)

// maxFrameSize bounds inbound frames; the largest legitimate frame is a chat message
const maxFrameSize = 64 * 1024

// SessionParam is the chi URL parameter carrying the session ID
const SessionParam = "sessionID"

// Handler admits WebSocket connections into session groups and runs their read loops
// ARCHITECTURAL DISCOVERY: Multi-stage admission (upgrade -> authorize -> join -> confirm)
// where every rejection after the upgrade is a close code the client can act on
type Handler struct {
	registry *Registry
	store    interfaces.Store
	verifier interfaces.TokenVerifier
	router   interfaces.MessageRouter
	cfg      Config
	now      func() time.Time
	log      logger.Logger
	upgrader websocket.Upgrader

	mu           sync.Mutex
	conns        map[string]*Connection
	shuttingDown bool
	wg           sync.WaitGroup
}

// NewHandler creates a handler with its dependencies injected
func NewHandler(
	registry *Registry,
	store interfaces.Store,
	verifier interfaces.TokenVerifier,
	router interfaces.MessageRouter,
	cfg Config,
	log logger.Logger,
) *Handler {
	h := &Handler{
		registry: registry,
		store:    store,
		verifier: verifier,
		router:   router,
		cfg:      cfg,
		now:      cfg.clock(),
		log:      log,
		conns:    make(map[string]*Connection),
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket serves GET /ws/session/{sessionID}
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// TECHNICAL DISCOVERY: Close codes only exist on an open socket, so the upgrade
	// happens before any check and every rejection is delivered as a close frame
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.RecordConnection("upgrade_failed")
		h.log.Warn(r.Context(), "WebSocket upgrade failed", logger.Error(err))
		return
	}

	// Shutdown sets shuttingDown under mu before it waits, so Add never races with Wait
	h.mu.Lock()
	if h.shuttingDown {
		h.mu.Unlock()
		metrics.RecordConnection("shutting_down")
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.cfg.WriteTimeout))
		_ = ws.Close()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	conn := NewConnection(ws, h.cfg, h.log)
	h.track(conn)
	defer h.untrack(conn)

	conn.setState(StateAuthorizing)
	sessionID, participant, code, err := h.authorize(r)
	if err != nil {
		h.reject(r.Context(), conn, code, err)
		return
	}

	if !h.activate(r.Context(), conn, sessionID, participant) {
		return
	}

	h.readLoop(conn)
	h.teardown(conn)
}

// authorize resolves the participant and checks their access to the session
// The returned close code is meaningful only with a non-nil error
func (h *Handler) authorize(r *http.Request) (int64, types.Participant, int, error) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.AuthTimeout)
	defer cancel()

	sessionID, err := strconv.ParseInt(chi.URLParam(r, SessionParam), 10, 64)
	if err != nil || sessionID <= 0 {
		return 0, types.Participant{}, CloseUnauthorized, ErrInvalidSessionID
	}

	participant, err := h.identify(ctx, r)
	if err != nil {
		if errors.Is(err, interfaces.ErrMissingToken) {
			return 0, types.Participant{}, CloseUnauthorized, err
		}
		return 0, types.Participant{}, CloseUnauthenticated, err
	}

	session, err := h.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return 0, types.Participant{}, CloseUnauthorized, err
		}
		return 0, types.Participant{}, CloseGeneric, fmt.Errorf("load session: %w", err)
	}

	var allowed bool
	if participant.IsInstructor() {
		allowed, err = h.store.IsInstructorOf(ctx, participant.UserID, session.ClassroomID)
	} else {
		allowed, err = h.store.IsEnrolled(ctx, participant.UserID, session.ClassroomID)
	}
	if err != nil {
		return 0, types.Participant{}, CloseGeneric, fmt.Errorf("check session access: %w", err)
	}
	if !allowed {
		return 0, types.Participant{}, CloseUnauthorized, interfaces.ErrUnauthorized
	}

	return sessionID, participant, 0, nil
}

// identify prefers an identity attached upstream and falls back to the token query parameter
func (h *Handler) identify(ctx context.Context, r *http.Request) (types.Participant, error) {
	participant, err := auth.FromContext(r.Context())
	if err != nil {
		token := r.URL.Query().Get("token")
		if token == "" {
			if errors.Is(err, auth.ErrNoIdentity) {
				return types.Participant{}, interfaces.ErrMissingToken
			}
			return types.Participant{}, err
		}
		if participant, err = h.verify(ctx, token); err != nil {
			return types.Participant{}, err
		}
	}

	if err := participant.Validate(); err != nil {
		return types.Participant{}, fmt.Errorf("%w: %w", interfaces.ErrInvalidToken, err)
	}
	return participant, nil
}

// verify bounds the verifier call by ctx even when the verifier ignores it
func (h *Handler) verify(ctx context.Context, token string) (types.Participant, error) {
	type result struct {
		participant types.Participant
		err         error
	}
	done := make(chan result, 1)
	go func() {
		p, err := h.verifier.VerifyToken(ctx, token)
		done <- result{p, err}
	}()

	select {
	case res := <-done:
		return res.participant, res.err
	case <-ctx.Done():
		return types.Participant{}, fmt.Errorf("%w: %w", ErrAuthTimeout, ctx.Err())
	}
}

func (h *Handler) reject(ctx context.Context, conn *Connection, code int, err error) {
	outcome := "error"
	switch code {
	case CloseUnauthenticated:
		outcome = "unauthenticated"
	case CloseUnauthorized:
		outcome = "unauthorized"
	}
	metrics.RecordConnection(outcome)
	h.log.Warn(ctx, "WebSocket connection rejected",
		logger.String("connection_id", conn.ID()),
		logger.Int("close_code", code),
		logger.Error(err))

	conn.setState(StateClosing)
	conn.CloseWithCode(code, closeReason(code))
	conn.setState(StateClosed)
}

func closeReason(code int) string {
	switch code {
	case CloseUnauthenticated:
		return "authentication failed"
	case CloseUnauthorized:
		return "not authorized for this session"
	case CloseSendFailed:
		return "failed to send confirmation"
	default:
		return "connection setup failed"
	}
}

// activate joins the session group and announces the participant
// It reports false when the connection was closed instead
func (h *Handler) activate(ctx context.Context, conn *Connection, sessionID int64, p types.Participant) bool {
	conn.bind(sessionID, p)
	log := h.log.With(
		logger.String("connection_id", conn.ID()),
		logger.Int64("session_id", sessionID),
		logger.Int64("user_id", p.UserID))

	if err := h.registry.Join(sessionID, conn); err != nil {
		metrics.RecordConnection("error")
		log.Error(ctx, "Failed to join session group", logger.Error(err))
		conn.CloseWithCode(CloseGeneric, closeReason(CloseGeneric))
		conn.setState(StateClosed)
		return false
	}
	conn.setState(StateActive)

	if err := conn.SendNow(types.ConnectionEstablished(sessionID, p, h.now())); err != nil {
		metrics.RecordConnection("send_failed")
		log.Error(ctx, "Failed to send connection confirmation", logger.Error(err))
		h.registry.Leave(sessionID, conn)
		conn.setState(StateClosing)
		conn.CloseWithCode(CloseSendFailed, closeReason(CloseSendFailed))
		conn.setState(StateClosed)
		return false
	}

	metrics.RecordConnection("accepted")
	metrics.ConnectionOpened()

	if p.IsStudent() {
		if err := h.store.UpsertPerformance(ctx, sessionID, p.UserID, types.Attendance(true)); err != nil {
			log.Error(ctx, "Failed to record attendance", logger.Error(err))
		}
		h.registry.Broadcast(sessionID, types.ParticipantEvent(types.EventSessionJoined, p, h.now()))
	}

	conn.setTicker(StartTicker(conn.ctx, h.cfg.TickInterval, h.timerTick(sessionID)))

	if err := h.router.BroadcastStats(ctx, sessionID); err != nil {
		log.Warn(ctx, "Failed to broadcast initial stats", logger.Error(err))
	}

	log.Info(ctx, "Participant connected", logger.String("role", string(p.Role)))
	return true
}

// timerTick reloads the session each tick and broadcasts its elapsed time while it is active
func (h *Handler) timerTick(sessionID int64) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		session, err := h.store.GetSession(ctx, sessionID)
		if err != nil {
			if errors.Is(err, interfaces.ErrSessionNotFound) || ctx.Err() != nil {
				return false
			}
			h.log.Warn(ctx, "Timer tick could not load session",
				logger.Int64("session_id", sessionID), logger.Error(err))
			return true
		}
		if !session.IsActive {
			return false
		}

		now := h.now()
		h.registry.Broadcast(sessionID, types.TimerUpdate(session.Elapsed(now).Seconds(), nil, now))
		return true
	}
}

// readLoop dispatches inbound frames in arrival order until the socket fails or closes
func (h *Handler) readLoop(conn *Connection) {
	ws := conn.conn
	ws.SetReadLimit(maxFrameSize)

	// Socket deadlines follow the wall clock, not the injectable one
	extend := func() error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	}
	if err := extend(); err != nil {
		return
	}
	// TECHNICAL DISCOVERY: The pong handler runs inside ReadMessage on this goroutine,
	// so resetting the deadline there needs no extra synchronization
	ws.SetPongHandler(func(string) error { return extend() })
	conn.startPinger(h.cfg.PingInterval)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.log.Debug(conn.ctx, "WebSocket read ended", logger.String("connection_id", conn.ID()), logger.Error(err))
			}
			return
		}
		if err := extend(); err != nil {
			return
		}

		if messageType != websocket.TextMessage {
			metrics.RecordMessageError("binary", "unsupported_frame")
			_ = conn.Send(types.ErrorEvent("binary frames are not supported", h.now()))
			continue
		}

		h.router.Dispatch(conn.ctx, conn, data)
	}
}

// teardown releases everything the connection holds
// FUNCTIONAL DISCOVERY: Every step runs even when an earlier one fails or panics
func (h *Handler) teardown(conn *Connection) {
	conn.setState(StateClosing)
	sessionID := conn.SessionID()
	p := conn.Participant()
	log := h.log.With(
		logger.String("connection_id", conn.ID()),
		logger.Int64("session_id", sessionID),
		logger.Int64("user_id", p.UserID))

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.WriteTimeout)
	defer cancel()

	step := func(name string, fn func() error) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error(ctx, "Teardown step panicked", logger.String("step", name), logger.Any("panic", rec))
			}
		}()
		if err := fn(); err != nil {
			log.Warn(ctx, "Teardown step failed", logger.String("step", name), logger.Error(err))
		}
	}

	step("stop_ticker", func() error { conn.StopTicker(); return nil })
	step("leave_group", func() error { h.registry.Leave(sessionID, conn); return nil })
	if p.IsStudent() {
		step("mark_absent", func() error {
			return h.store.UpsertPerformance(ctx, sessionID, p.UserID, types.Attendance(false))
		})
		step("announce_left", func() error {
			h.registry.Broadcast(sessionID, types.ParticipantEvent(types.EventSessionLeft, p, h.now()))
			return nil
		})
	}
	step("forget", func() error { h.router.Forget(conn); return nil })
	step("close", conn.Close)

	conn.setState(StateClosed)
	metrics.ConnectionClosed()
	log.Info(ctx, "Participant disconnected")
}

func (h *Handler) track(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn.ID()] = conn
}

func (h *Handler) untrack(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn.ID())
}

// Shutdown closes every live connection with 1001 (going away) and waits for their
// teardown to finish or ctx to expire
// New upgrades are refused with 1001 once Shutdown has begun
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shuttingDown = true
	live := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		live = append(live, conn)
	}
	h.mu.Unlock()

	for _, conn := range live {
		go conn.CloseWithCode(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
