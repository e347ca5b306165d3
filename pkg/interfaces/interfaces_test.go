package interfaces_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// Mock implementations for testing

type mockClient struct{}

func (m *mockClient) ID() string { return "conn-1" }
func (m *mockClient) Enqueue(frame []byte) error { return nil }
func (m *mockClient) Participant() types.Participant { return types.Participant{UserID: 1, Role: types.RoleStudent} }
func (m *mockClient) SessionID() int64 { return 1 }
func (m *mockClient) Send(event *types.Event) error { return nil }
func (m *mockClient) StopTicker()                      {}

type mockBroadcaster struct{}

func (m *mockBroadcaster) Broadcast(sessionID int64, event *types.Event) int { return 0 }

type mockLifecycle struct{}

func (m *mockLifecycle) StartSession(ctx context.Context, classroomID int64, requester types.Participant) (*types.Session, error) {
	return nil, nil
}
func (m *mockLifecycle) EndSession(ctx context.Context, sessionID int64, by *types.Participant) (bool, error) {
	return false, nil
}
func (m *mockLifecycle) GetSession(ctx context.Context, sessionID int64) (*types.Session, error) {
	return nil, interfaces.ErrSessionNotFound
}

type mockVerifier struct{}

func (m *mockVerifier) VerifyToken(ctx context.Context, token string) (types.Participant, error) {
	if token == "" {
		return types.Participant{}, interfaces.ErrMissingToken
	}
	return types.Participant{}, fmt.Errorf("%w: signature mismatch", interfaces.ErrInvalidToken)
}

type mockStore struct{}

func (m *mockStore) GetSession(ctx context.Context, id int64) (*types.Session, error) { return nil, nil }
func (m *mockStore) SaveSession(ctx context.Context, s *types.Session) error { return nil }
func (m *mockStore) CloseSession(ctx context.Context, id int64, at time.Time) (bool, error) {
	return false, nil
}
func (m *mockStore) ActiveSessions(ctx context.Context, classroomID int64) ([]*types.Session, error) {
	return nil, nil
}
func (m *mockStore) UpsertPerformance(ctx context.Context, sessionID, studentID int64, u types.PerformanceUpdate) error {
	return nil
}
func (m *mockStore) BulkMarkUnattended(ctx context.Context, sessionID int64) error { return nil }
func (m *mockStore) RecentPerformances(ctx context.Context, sessionID int64, since time.Time) ([]*types.PerformanceRecord, error) {
	return nil, nil
}
func (m *mockStore) CountEnrolledStudents(ctx context.Context, classroomID int64) (int, error) {
	return 0, nil
}
func (m *mockStore) IsInstructorOf(ctx context.Context, userID, classroomID int64) (bool, error) {
	return false, nil
}
func (m *mockStore) IsEnrolled(ctx context.Context, userID, classroomID int64) (bool, error) {
	return false, nil
}
func (m *mockStore) HealthCheck(ctx context.Context) error { return nil }
func (m *mockStore) Close() error { return nil }

// Architectural Validation Tests - Ensure interfaces are properly defined

func TestInterfaces_ArchitecturalCompliance(t *testing.T) {
	var _ interfaces.Member = &mockClient{}
	var _ interfaces.Client = &mockClient{}
	var _ interfaces.Broadcaster = &mockBroadcaster{}
	var _ interfaces.SessionLifecycle = &mockLifecycle{}
	var _ interfaces.TokenVerifier = &mockVerifier{}
	var _ interfaces.Store = &mockStore{}
}

// Functional Validation Tests - error contracts

func TestTokenVerifier_ErrorContract(t *testing.T) {
	var v interfaces.TokenVerifier = &mockVerifier{}

	_, err := v.VerifyToken(context.Background(), "")
	if !errors.Is(err, interfaces.ErrMissingToken) {
		t.Errorf("empty token should wrap ErrMissingToken, got %v", err)
	}

	_, err = v.VerifyToken(context.Background(), "garbage")
	if !errors.Is(err, interfaces.ErrInvalidToken) {
		t.Errorf("bad token should wrap ErrInvalidToken, got %v", err)
	}
}

func TestSessionLifecycle_NotFoundContract(t *testing.T) {
	var l interfaces.SessionLifecycle = &mockLifecycle{}

	if _, err := l.GetSession(context.Background(), 42); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
