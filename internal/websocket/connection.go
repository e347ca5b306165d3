package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/logger"
	"classpulse/pkg/types"
)

// State is a connection's position in its lifecycle
type State int32

const (
	StateConnecting State = iota
	StateAuthorizing
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection wraps one upgraded socket
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions,
// so every data frame goes through writeCh to a single writer goroutine; only control
// frames (ping, close) are written directly, which gorilla allows concurrently
type Connection struct {
	id           string
	conn         *websocket.Conn
	writeCh      chan outbound
	writeTimeout time.Duration
	log          logger.Logger

	state atomic.Int32

	mu          sync.RWMutex // protects identity and ticker
	participant types.Participant
	sessionID   int64
	ticker      *Ticker

	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
	writerDone chan struct{}
}

var _ interfaces.Client = (*Connection)(nil)

// NewConnection wraps conn and starts its writer goroutine
func NewConnection(conn *websocket.Conn, cfg Config, log logger.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		writeCh:      make(chan outbound, cfg.BufferSize),
		writeTimeout: cfg.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
		writerDone:   make(chan struct{}),
	}
	c.log = log.With(logger.String("connection_id", c.id))
	c.state.Store(int32(StateConnecting))

	go c.writeLoop()

	return c
}

// outbound is one queued frame; written is non-nil when the sender waits for the write result
type outbound struct {
	data    []byte
	written chan<- error
}

func (c *Connection) writeLoop() {
	defer close(c.writerDone)

	for {
		select {
		case out := <-c.writeCh:
			err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err == nil {
				err = c.conn.WriteMessage(websocket.TextMessage, out.data)
			}
			if out.written != nil {
				out.written <- err
			}
			if err != nil {
				c.log.Debug(c.ctx, "Write failed, stopping writer", logger.Error(err))
				go c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// ID is unique per connection
func (c *Connection) ID() string { return c.id }

// State returns the current lifecycle state
func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// Done is closed once the connection is shutting down
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// Participant returns the identity resolved during authorization
func (c *Connection) Participant() types.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.participant
}

// SessionID returns the session the connection joined
func (c *Connection) SessionID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Connection) bind(sessionID int64, p types.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.participant = p
}

// Enqueue queues a pre-encoded frame without blocking
// FUNCTIONAL DISCOVERY: A full buffer means the client cannot keep up; the connection
// is closed as a slow consumer instead of stalling the broadcaster
func (c *Connection) Enqueue(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- outbound{data: frame}:
		return nil
	default:
		c.log.Warn(c.ctx, "Send buffer full, closing slow consumer", logger.Int("buffer_size", cap(c.writeCh)))
		go c.CloseWithCode(websocket.CloseTryAgainLater, "send buffer full")
		return ErrSendBufferFull
	}
}

// Send encodes the event and queues it for this connection only
func (c *Connection) Send(event *types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	return c.Enqueue(data)
}

// SendNow writes the event and waits for the write to complete
// Used for the handshake confirmation, whose failure must close the connection
func (c *Connection) SendNow(event *types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}

	written := make(chan error, 1)
	timeout := time.NewTimer(c.writeTimeout)
	defer timeout.Stop()

	select {
	case c.writeCh <- outbound{data: data, written: written}:
	case <-c.ctx.Done():
		return ErrConnectionClosed
	case <-timeout.C:
		return ErrSendBufferFull
	}

	select {
	case err := <-written:
		return err
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

func (c *Connection) setTicker(t *Ticker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticker = t
}

// StopTicker stops the elapsed-time ticker and waits for it to exit
func (c *Connection) StopTicker() {
	c.mu.RLock()
	t := c.ticker
	c.mu.RUnlock()
	if t != nil {
		t.Stop()
	}
}

// startPinger sends pings every interval until the connection closes
func (c *Connection) startPinger(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
					go c.Close()
					return
				}
			case <-c.ctx.Done():
				return
			}
		}
	}()
}

// CloseWithCode sends a close frame carrying code and closes the socket
func (c *Connection) CloseWithCode(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(c.writeTimeout))
	_ = c.Close()
}

// Close stops the writer and closes the socket, which unblocks the read loop
// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
		<-c.writerDone
	})
	return err
}
