package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"classpulse/internal/auth"
	"classpulse/internal/database"
	"classpulse/internal/session"
	"classpulse/internal/stats"
	"classpulse/internal/websocket"
	"classpulse/pkg/logger"
	"classpulse/pkg/types"
)

const (
	instructorID = 10
	studentID    = 20
	outsiderID   = 30
)

type fixture struct {
	server      *Server
	store       *database.MemoryStore
	manager     *session.Manager
	verifier    *auth.JWTVerifier
	classroomID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store := database.NewMemoryStore()
	classroomID, err := store.CreateClassroom(ctx, "Physics", instructorID)
	if err != nil {
		t.Fatalf("CreateClassroom: %v", err)
	}
	if err := store.Enroll(ctx, classroomID, studentID); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	verifier, err := auth.NewJWTVerifier("api-test-secret", "classpulse")
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}

	log := logger.Discard()
	registry := websocket.NewRegistry(log)
	manager := session.NewManager(store, registry, log)

	server := NewServer(Dependencies{
		Lifecycle: manager,
		Stats:     stats.NewAggregator(store, stats.DefaultRecentWindow, log),
		Store:     store,
		Registry:  registry,
		Verifier:  verifier,
		Log:       log,
	})

	return &fixture{server: server, store: store, manager: manager, verifier: verifier, classroomID: classroomID}
}

func (f *fixture) token(t *testing.T, id int64, role types.Role) string {
	t.Helper()
	token, err := f.verifier.Sign(types.Participant{UserID: id, Role: role}, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return token
}

func (f *fixture) do(t *testing.T, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func (f *fixture) startSession(t *testing.T) *types.Session {
	t.Helper()
	instructor := types.Participant{UserID: instructorID, Role: types.RoleInstructor}
	sess, err := f.manager.StartSession(context.Background(), f.classroomID, instructor)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return sess
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

// FUNCTIONAL VALIDATION TEST: POST /api/classrooms/{id}/sessions
func TestServer_StartSession(t *testing.T) {
	f := newFixture(t)
	path := fmt.Sprintf("/api/classrooms/%d/sessions", f.classroomID)

	w := f.do(t, http.MethodPost, path, f.token(t, instructorID, types.RoleInstructor))
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	var resp SessionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Session == nil || !resp.Session.IsActive || resp.Session.ClassroomID != f.classroomID {
		t.Errorf("unexpected session in response: %+v", resp.Session)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}
}

func TestServer_StartSessionAuthorization(t *testing.T) {
	f := newFixture(t)
	path := fmt.Sprintf("/api/classrooms/%d/sessions", f.classroomID)

	tests := []struct {
		name     string
		token    string
		expected int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"student", f.token(t, studentID, types.RoleStudent), http.StatusForbidden},
		{"other instructor", f.token(t, outsiderID, types.RoleInstructor), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, path, tt.token)
			if w.Code != tt.expected {
				t.Errorf("Expected status %d, got %d", tt.expected, w.Code)
			}
		})
	}

	active, _ := f.store.ActiveSessions(context.Background(), f.classroomID)
	if len(active) != 0 {
		t.Errorf("no session should have been started, found %d", len(active))
	}
}

func TestServer_StartSessionInvalidClassroom(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/classrooms/abc/sessions", f.token(t, instructorID, types.RoleInstructor))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

// FUNCTIONAL VALIDATION TEST: GET /api/sessions/{id}
func TestServer_GetSession(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t)
	path := fmt.Sprintf("/api/sessions/%d", sess.ID)

	t.Run("enrolled student", func(t *testing.T) {
		w := f.do(t, http.MethodGet, path, f.token(t, studentID, types.RoleStudent))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
		}
		var resp SessionResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Session.ID != sess.ID {
			t.Errorf("Expected session %d, got %d", sess.ID, resp.Session.ID)
		}
		if resp.ConnectionCount != 0 {
			t.Errorf("Expected no connections, got %d", resp.ConnectionCount)
		}
	})

	t.Run("outsider", func(t *testing.T) {
		w := f.do(t, http.MethodGet, path, f.token(t, outsiderID, types.RoleStudent))
		if w.Code != http.StatusForbidden {
			t.Errorf("Expected status %d, got %d", http.StatusForbidden, w.Code)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/sessions/9999", f.token(t, instructorID, types.RoleInstructor))
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
		}
		if resp := decodeError(t, w); resp.Code != http.StatusNotFound || resp.Message != "Session not found" {
			t.Errorf("unexpected error body: %+v", resp)
		}
	})
}

// FUNCTIONAL VALIDATION TEST: POST /api/sessions/{id}/end
func TestServer_EndSession(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t)
	path := fmt.Sprintf("/api/sessions/%d/end", sess.ID)

	if w := f.do(t, http.MethodPost, path, f.token(t, studentID, types.RoleStudent)); w.Code != http.StatusForbidden {
		t.Errorf("student: expected status %d, got %d", http.StatusForbidden, w.Code)
	}
	if w := f.do(t, http.MethodPost, path, f.token(t, outsiderID, types.RoleInstructor)); w.Code != http.StatusForbidden {
		t.Errorf("other instructor: expected status %d, got %d", http.StatusForbidden, w.Code)
	}

	w := f.do(t, http.MethodPost, path, f.token(t, instructorID, types.RoleInstructor))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var resp EndSessionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Session == nil || resp.Session.IsActive || resp.Session.EndTime == nil {
		t.Errorf("Expected an ended session, got %+v", resp.Session)
	}

	again := f.do(t, http.MethodPost, path, f.token(t, instructorID, types.RoleInstructor))
	if again.Code != http.StatusConflict {
		t.Errorf("second end: expected status %d, got %d", http.StatusConflict, again.Code)
	}

	missing := f.do(t, http.MethodPost, "/api/sessions/9999/end", f.token(t, instructorID, types.RoleInstructor))
	if missing.Code != http.StatusNotFound {
		t.Errorf("unknown session: expected status %d, got %d", http.StatusNotFound, missing.Code)
	}
}

func TestServer_ListSessions(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t)
	path := fmt.Sprintf("/api/classrooms/%d/sessions", f.classroomID)

	w := f.do(t, http.MethodGet, path, f.token(t, instructorID, types.RoleInstructor))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp ListSessionsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].Session.ID != sess.ID {
		t.Errorf("Expected session %d to be listed, got %+v", sess.ID, resp.Sessions)
	}

	if w := f.do(t, http.MethodGet, path, f.token(t, outsiderID, types.RoleInstructor)); w.Code != http.StatusForbidden {
		t.Errorf("other instructor: expected status %d, got %d", http.StatusForbidden, w.Code)
	}
}

func TestServer_SessionStats(t *testing.T) {
	f := newFixture(t)
	sess := f.startSession(t)
	if err := f.store.UpsertPerformance(context.Background(), sess.ID, studentID, types.FocusReading(0.9)); err != nil {
		t.Fatal(err)
	}

	w := f.do(t, http.MethodGet, fmt.Sprintf("/api/sessions/%d/stats", sess.ID), f.token(t, instructorID, types.RoleInstructor))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	var resp StatsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Stats.TotalParticipants != 1 || resp.Stats.ActiveParticipants != 1 || resp.Stats.FocusDistribution.High != 1 {
		t.Errorf("unexpected stats: %+v", resp.Stats)
	}
}

// FUNCTIONAL VALIDATION TEST: GET /health
func TestServer_HealthCheck(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "healthy" || resp.Database != "healthy" {
		t.Errorf("unexpected health: %+v", resp)
	}
	if _, ok := resp.System["goroutines"]; !ok {
		t.Error("Expected goroutine count in system section")
	}

	f.store.FailOperation("health_check", errors.New("disk gone"))
	w = f.do(t, http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/health", "")

	w := f.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Error("Expected HTTP request counter in metrics output")
	}
}

// ARCHITECTURAL VALIDATION TEST: CORS middleware
func TestServer_CORSMiddleware(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/sessions/1", nil)
	req.Header.Set("Origin", "https://classroom.example")
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d for preflight, got %d", http.StatusOK, w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected wildcard origin, got %q", got)
	}
}

func TestServer_CORSRestrictedOrigins(t *testing.T) {
	s := &Server{allowedOrigins: []string{"https://classroom.example"}}

	if got := s.allowedOrigin("https://classroom.example"); got != "https://classroom.example" {
		t.Errorf("Expected listed origin to be echoed, got %q", got)
	}
	if got := s.allowedOrigin("https://evil.example"); got != "" {
		t.Errorf("Expected unlisted origin to be omitted, got %q", got)
	}
}

func TestServer_ErrorHandling(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/does-not-exist", f.token(t, instructorID, types.RoleInstructor))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}

	w = f.do(t, http.MethodDelete, "/health", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
	if resp := decodeError(t, w); resp.Code != http.StatusMethodNotAllowed {
		t.Errorf("unexpected error body: %+v", resp)
	}
}
