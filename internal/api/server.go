package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classpulse/internal/auth"
	"classpulse/internal/database"
	"classpulse/internal/session"
	"classpulse/internal/websocket"
	"classpulse/pkg/interfaces"
	"classpulse/pkg/logger"
	"classpulse/pkg/metrics"
	"classpulse/pkg/types"
)

// Lifecycle is the part of the session controller the API drives
type Lifecycle interface {
	StartSession(ctx context.Context, classroomID int64, requester types.Participant) (*types.Session, error)
	EndSessionAs(ctx context.Context, sessionID int64, requester types.Participant) (bool, error)
	GetSession(ctx context.Context, sessionID int64) (*types.Session, error)
	ListActiveSessions(ctx context.Context, classroomID int64) ([]*types.Session, error)
}

// Registry interface to avoid tight coupling to websocket.Registry implementation
type Registry interface {
	Count(sessionID int64) int
	Stats() websocket.RegistryStats
}

// Dependencies groups what the server needs
type Dependencies struct {
	Lifecycle Lifecycle
	Stats     interfaces.StatsAggregator
	Store     interfaces.Store
	Registry  Registry
	Verifier  interfaces.TokenVerifier
	// WebSocket serves /ws/session/{sessionID}; nil leaves the route unmounted
	WebSocket      http.HandlerFunc
	AllowedOrigins []string
	// AuthTimeout bounds bearer token verification; zero means unbounded
	AuthTimeout time.Duration
	Log         logger.Logger
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	lifecycle      Lifecycle
	stats          interfaces.StatsAggregator
	store          interfaces.Store
	registry       Registry
	allowedOrigins []string
	authTimeout    time.Duration
	log            logger.Logger
	started        time.Time
	router         chi.Router
}

// NewServer builds the router with all routes mounted
func NewServer(deps Dependencies) *Server {
	s := &Server{
		lifecycle:      deps.Lifecycle,
		stats:          deps.Stats,
		store:          deps.Store,
		registry:       deps.Registry,
		allowedOrigins: deps.AllowedOrigins,
		authTimeout:    deps.AuthTimeout,
		log:            deps.Log,
		started:        time.Now(),
	}
	s.setupRoutes(deps.Verifier, deps.WebSocket)
	return s
}

func (s *Server) setupRoutes(verifier interfaces.TokenVerifier, ws http.HandlerFunc) {
	r := chi.NewRouter()
	r.Use(s.metricsMiddleware, s.corsMiddleware, auth.Middleware(verifier, auth.WithVerifyTimeout(s.authTimeout)))

	r.With(s.jsonMiddleware).Get("/health", s.healthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	if ws != nil {
		r.Get("/ws/session/{"+websocket.SessionParam+"}", ws)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(s.jsonMiddleware, auth.RequireIdentity)

		instructorOnly := auth.RequireRole(types.RoleInstructor)
		r.With(instructorOnly).Post("/classrooms/{classroomID}/sessions", s.startSession)
		r.With(instructorOnly).Get("/classrooms/{classroomID}/sessions", s.listSessions)
		r.Get("/sessions/{sessionID}", s.getSession)
		r.With(instructorOnly).Post("/sessions/{sessionID}/end", s.endSession)
		r.Get("/sessions/{sessionID}/stats", s.sessionStats)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		s.sendError(w, "Route not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	s.router = r
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization

type SessionResponse struct {
	Session         *types.Session `json:"session"`
	ConnectionCount int            `json:"connection_count"`
}

type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type EndSessionResponse struct {
	Message string         `json:"message"`
	Session *types.Session `json:"session"`
}

type StatsResponse struct {
	SessionID int64        `json:"session_id"`
	Stats     *types.Stats `json:"stats"`
}

type HealthResponse struct {
	Status      string                  `json:"status"`
	Timestamp   time.Time               `json:"timestamp"`
	Database    string                  `json:"database"`
	Connections websocket.RegistryStats `json:"connections"`
	System      map[string]interface{}  `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

// POST /api/classrooms/{classroomID}/sessions
func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	classroomID, err := idParam(r, "classroomID")
	if err != nil {
		s.sendError(w, "Invalid classroom ID", http.StatusBadRequest)
		return
	}
	requester, _ := auth.FromContext(r.Context())

	created, err := s.lifecycle.StartSession(r.Context(), classroomID, requester)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidClassroom):
			s.sendError(w, "Invalid classroom ID", http.StatusBadRequest)
		case errors.Is(err, session.ErrNotClassroomInstructor):
			s.sendError(w, "Only the classroom's instructor can start a session", http.StatusForbidden)
		case errors.Is(err, database.ErrClassroomNotFound):
			s.sendError(w, "Classroom not found", http.StatusNotFound)
		case errors.Is(err, database.ErrActiveSessionExists):
			s.sendError(w, "Classroom already has an active session", http.StatusConflict)
		default:
			s.log.Error(r.Context(), "Failed to start session", logger.Int64("classroom_id", classroomID), logger.Error(err))
			s.sendError(w, "Failed to start session", http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(SessionResponse{Session: created})
}

// GET /api/classrooms/{classroomID}/sessions lists active sessions with connection counts
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	classroomID, err := idParam(r, "classroomID")
	if err != nil {
		s.sendError(w, "Invalid classroom ID", http.StatusBadRequest)
		return
	}
	requester, _ := auth.FromContext(r.Context())

	owns, err := s.store.IsInstructorOf(r.Context(), requester.UserID, classroomID)
	if err != nil {
		s.sendError(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}
	if !owns {
		s.sendError(w, "Not the classroom's instructor", http.StatusForbidden)
		return
	}

	sessions, err := s.lifecycle.ListActiveSessions(r.Context(), classroomID)
	if err != nil {
		s.sendError(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}

	response := ListSessionsResponse{Sessions: make([]SessionResponse, 0, len(sessions))}
	for _, sess := range sessions {
		response.Sessions = append(response.Sessions, SessionResponse{
			Session:         sess,
			ConnectionCount: s.registry.Count(sess.ID),
		})
	}
	_ = json.NewEncoder(w).Encode(response)
}

// loadAuthorizedSession resolves the session URL parameter and checks the caller may see it
// It writes the error response itself and returns nil on failure
func (s *Server) loadAuthorizedSession(w http.ResponseWriter, r *http.Request) *types.Session {
	sessionID, err := idParam(r, "sessionID")
	if err != nil {
		s.sendError(w, "Invalid session ID", http.StatusBadRequest)
		return nil
	}

	sess, err := s.lifecycle.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			s.sendError(w, "Session not found", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to get session", http.StatusInternalServerError)
		}
		return nil
	}

	requester, _ := auth.FromContext(r.Context())
	var allowed bool
	if requester.IsInstructor() {
		allowed, err = s.store.IsInstructorOf(r.Context(), requester.UserID, sess.ClassroomID)
	} else {
		allowed, err = s.store.IsEnrolled(r.Context(), requester.UserID, sess.ClassroomID)
	}
	if err != nil {
		s.sendError(w, "Failed to check session access", http.StatusInternalServerError)
		return nil
	}
	if !allowed {
		s.sendError(w, "Not a participant of this session", http.StatusForbidden)
		return nil
	}
	return sess
}

// GET /api/sessions/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess := s.loadAuthorizedSession(w, r)
	if sess == nil {
		return
	}

	// FUNCTIONAL DISCOVERY: Include current connection count from registry
	_ = json.NewEncoder(w).Encode(SessionResponse{
		Session:         sess,
		ConnectionCount: s.registry.Count(sess.ID),
	})
}

// POST /api/sessions/{sessionID}/end
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := idParam(r, "sessionID")
	if err != nil {
		s.sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}
	requester, _ := auth.FromContext(r.Context())

	ended, err := s.lifecycle.EndSessionAs(r.Context(), sessionID, requester)
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		s.sendError(w, "Session not found", http.StatusNotFound)
		return
	case errors.Is(err, session.ErrNotClassroomInstructor):
		s.sendError(w, "Only the classroom's instructor can end this session", http.StatusForbidden)
		return
	case err != nil:
		s.log.Error(r.Context(), "Failed to end session", logger.Int64("session_id", sessionID), logger.Error(err))
		s.sendError(w, "Failed to end session", http.StatusInternalServerError)
		return
	case !ended:
		s.sendError(w, "Session already ended", http.StatusConflict)
		return
	}

	sess, err := s.lifecycle.GetSession(r.Context(), sessionID)
	if err != nil {
		sess = nil
	}
	_ = json.NewEncoder(w).Encode(EndSessionResponse{Message: "Session ended successfully", Session: sess})
}

// GET /api/sessions/{sessionID}/stats
func (s *Server) sessionStats(w http.ResponseWriter, r *http.Request) {
	sess := s.loadAuthorizedSession(w, r)
	if sess == nil {
		return
	}

	stats, err := s.stats.ComputeStats(r.Context(), sess.ID)
	if err != nil {
		s.log.Error(r.Context(), "Failed to compute stats", logger.Int64("session_id", sess.ID), logger.Error(err))
		s.sendError(w, "Failed to compute session stats", http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(StatsResponse{SessionID: sess.ID, Stats: stats})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.Stats(),
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
		},
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(response)
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
