package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"classpulse/internal/app"
	"classpulse/internal/auth"
	"classpulse/internal/config"
	"classpulse/pkg/types"
)

const (
	instructorID = 1
	aliceID      = 2
	bobID        = 3
	waitTimeout  = 5 * time.Second
)

type classroom struct {
	app       *app.Application
	cfg       *config.Config
	verifier  *auth.JWTVerifier
	baseURL   string
	sessionID int64
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// startClassroom runs the full service on a fresh SQLite database with one
// instructor, two enrolled students and a started session
func startClassroom(t *testing.T) *classroom {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "classpulse.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = freePort(t)
	cfg.LogLevel = "error"
	cfg.Auth.JWTSecret = "integration-secret"
	cfg.WebSocket.TickInterval = 200 * time.Millisecond

	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}

	classroomID, err := application.Store().CreateClassroom(ctx, "Chemistry 101", instructorID)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{aliceID, bobID} {
		if err := application.Store().Enroll(ctx, classroomID, id); err != nil {
			t.Fatal(err)
		}
	}

	if err := application.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	})

	verifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		t.Fatal(err)
	}

	c := &classroom{app: application, cfg: cfg, verifier: verifier, baseURL: "http://" + application.GetAddr()}

	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/api/classrooms/%d/sessions", c.baseURL, classroomID), nil)
	req.Header.Set("Authorization", "Bearer "+c.token(t, instructorID, types.RoleInstructor))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected session to be created, got %d", resp.StatusCode)
	}
	var created struct {
		Session types.Session `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	c.sessionID = created.Session.ID
	return c
}

func (c *classroom) token(t *testing.T, id int64, role types.Role) string {
	t.Helper()
	token, err := c.verifier.Sign(types.Participant{UserID: id, Role: role, DisplayName: fmt.Sprintf("user-%d", id)}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func (c *classroom) connect(t *testing.T, id int64, role types.Role) *TestClient {
	t.Helper()
	client := NewTestClient(c.token(t, id, role), c.sessionID, c.baseURL)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect user %d: %v", id, err)
	}
	t.Cleanup(client.Close)
	if _, err := client.WaitFor(types.EventConnectionEstablished, waitTimeout, nil); err != nil {
		t.Fatal(err)
	}
	return client
}

func fromUser(id int64) func(types.Event) bool {
	return func(ev types.Event) bool { return ev.UserID == id }
}

func TestClassroomScenario_FocusAndStats(t *testing.T) {
	c := startClassroom(t)

	instructor := c.connect(t, instructorID, types.RoleInstructor)
	alice := c.connect(t, aliceID, types.RoleStudent)
	if _, err := instructor.WaitFor(types.EventSessionJoined, waitTimeout, fromUser(aliceID)); err != nil {
		t.Fatal(err)
	}
	bob := c.connect(t, bobID, types.RoleStudent)
	if _, err := alice.WaitFor(types.EventSessionJoined, waitTimeout, fromUser(bobID)); err != nil {
		t.Fatal(err)
	}

	if err := alice.Send(map[string]interface{}{"type": "focus_update", "focus_score": 0.9}); err != nil {
		t.Fatal(err)
	}
	if _, err := alice.WaitFor(types.EventFocusUpdateAck, waitTimeout, nil); err != nil {
		t.Fatal(err)
	}
	if err := bob.Send(map[string]interface{}{"type": "focus_update", "focus_score": 0.3}); err != nil {
		t.Fatal(err)
	}
	if _, err := bob.WaitFor(types.EventFocusUpdateAck, waitTimeout, nil); err != nil {
		t.Fatal(err)
	}

	// Joining records a zero score, so the stats sent after Alice's update alone also
	// show one high and one low score; only Bob's update brings the average to 0.6
	stats, err := instructor.WaitFor(types.EventSessionStats, waitTimeout, func(ev types.Event) bool {
		return ev.Stats != nil && ev.Stats.FocusDistribution.High == 1 && ev.Stats.FocusDistribution.Low == 1 &&
			ev.Stats.AverageFocusScore == 0.6
	})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Stats.TotalParticipants != 2 || stats.Stats.ActiveParticipants != 2 {
		t.Errorf("unexpected participant counts: %+v", stats.Stats)
	}
	if stats.Stats.AverageFocusScore != 0.6 {
		t.Errorf("Expected average 0.6, got %v", stats.Stats.AverageFocusScore)
	}

	// Instructors cannot submit focus scores
	if err := instructor.Send(map[string]interface{}{"type": "focus_update", "focus_score": 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := instructor.WaitFor(types.EventError, waitTimeout, nil); err != nil {
		t.Fatal(err)
	}

	// Chat reaches everyone
	if err := bob.Send(map[string]interface{}{"type": "chat_message", "message": "  question  "}); err != nil {
		t.Fatal(err)
	}
	chat, err := alice.WaitFor(types.EventChatMessage, waitTimeout, fromUser(bobID))
	if err != nil {
		t.Fatal(err)
	}
	if chat.Message != "question" {
		t.Errorf("Expected trimmed chat, got %q", chat.Message)
	}

	// Leaving is announced and lowers the active count
	bob.Close()
	if _, err := instructor.WaitFor(types.EventSessionLeft, waitTimeout, fromUser(bobID)); err != nil {
		t.Fatal(err)
	}
	if err := instructor.Send(map[string]interface{}{"type": "request_session_stats"}); err != nil {
		t.Fatal(err)
	}
	if _, err := instructor.WaitFor(types.EventSessionStats, waitTimeout, func(ev types.Event) bool {
		return ev.Stats != nil && ev.Stats.ActiveParticipants == 1
	}); err != nil {
		t.Fatal(err)
	}
}

func TestClassroomScenario_InstructorEndsSession(t *testing.T) {
	c := startClassroom(t)

	instructor := c.connect(t, instructorID, types.RoleInstructor)
	alice := c.connect(t, aliceID, types.RoleStudent)

	if _, err := alice.WaitFor(types.EventTimerUpdate, waitTimeout, nil); err != nil {
		t.Fatal(err)
	}

	if err := instructor.Send(map[string]interface{}{"type": "session_control", "control_type": "end"}); err != nil {
		t.Fatal(err)
	}

	ended, err := alice.WaitFor(types.EventSessionEnded, waitTimeout, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ended.SentBy == nil || *ended.SentBy != instructorID || ended.EndTime == nil {
		t.Errorf("unexpected session.ended event: %+v", ended)
	}
	control, err := alice.WaitFor(types.EventSessionControl, waitTimeout, nil)
	if err != nil {
		t.Fatal(err)
	}
	if control.Message != "Session ended by instructor" {
		t.Errorf("unexpected control message %q", control.Message)
	}

	// A second end is refused and never re-announced
	if err := instructor.Send(map[string]interface{}{"type": "session_control", "control_type": "end"}); err != nil {
		t.Fatal(err)
	}
	if _, err := instructor.WaitFor(types.EventError, waitTimeout, nil); err != nil {
		t.Fatal(err)
	}
	if got := alice.Count(types.EventSessionEnded); got != 1 {
		t.Errorf("Expected exactly one session.ended, got %d", got)
	}

	record, err := c.app.Store().RecentPerformances(context.Background(), c.sessionID, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range record {
		if r.Attended {
			t.Errorf("student %d still marked attended after session end", r.StudentID)
		}
	}

	// Ended sessions still admit participants
	late := NewTestClient(c.token(t, aliceID, types.RoleStudent), c.sessionID, c.baseURL)
	if err := late.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer late.Close()
	if _, err := late.WaitFor(types.EventConnectionEstablished, waitTimeout, nil); err != nil {
		t.Fatal(err)
	}
}
