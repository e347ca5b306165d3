package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classpulse/pkg/types"
)

// TestClient represents a WebSocket participant for scenario tests
type TestClient struct {
	Token     string
	SessionID int64
	ServerURL string

	conn   *websocket.Conn
	events chan types.Event
	done   chan struct{}

	mu       sync.Mutex
	received []types.Event
	closeErr error
}

// NewTestClient creates a client that has not connected yet
func NewTestClient(token string, sessionID int64, serverURL string) *TestClient {
	return &TestClient{
		Token:     token,
		SessionID: sessionID,
		ServerURL: serverURL,
		events:    make(chan types.Event, 512),
		done:      make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts collecting events
func (tc *TestClient) Connect(ctx context.Context) error {
	u, err := url.Parse(tc.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = fmt.Sprintf("/ws/session/%d", tc.SessionID)
	query := u.Query()
	query.Set("token", tc.Token)
	u.RawQuery = query.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	tc.conn = conn

	go tc.readLoop()
	return nil
}

func (tc *TestClient) readLoop() {
	defer close(tc.done)
	defer close(tc.events)

	for {
		_, data, err := tc.conn.ReadMessage()
		if err != nil {
			tc.mu.Lock()
			tc.closeErr = err
			tc.mu.Unlock()
			return
		}
		var ev types.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		tc.mu.Lock()
		tc.received = append(tc.received, ev)
		tc.mu.Unlock()

		select {
		case tc.events <- ev:
		default:
			// Scenario assertions read from received; the channel only paces waiters
		}
	}
}

// Send writes one JSON frame
func (tc *TestClient) Send(frame map[string]interface{}) error {
	return tc.conn.WriteJSON(frame)
}

// WaitFor returns the next event of eventType that satisfies match
func (tc *TestClient) WaitFor(eventType string, timeout time.Duration, match func(types.Event) bool) (types.Event, error) {
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-tc.events:
			if !ok {
				return types.Event{}, fmt.Errorf("connection closed while waiting for %s: %v", eventType, tc.CloseError())
			}
			if ev.Type == eventType && (match == nil || match(ev)) {
				return ev, nil
			}
		case <-deadline:
			return types.Event{}, fmt.Errorf("timed out waiting for %s", eventType)
		}
	}
}

// Count returns how many events of eventType have been received so far
func (tc *TestClient) Count(eventType string) int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	n := 0
	for _, ev := range tc.received {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// CloseError is the error that ended the read loop, if it has ended
func (tc *TestClient) CloseError() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.closeErr
}

// Close sends a normal close frame and waits for the read loop to exit
func (tc *TestClient) Close() {
	if tc.conn == nil {
		return
	}
	_ = tc.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = tc.conn.Close()
	<-tc.done
}
