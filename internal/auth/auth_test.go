package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

const testSecret = "test-secret"

func newVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret, "classpulse")
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	return v
}

func TestNewJWTVerifier_RequiresSecret(t *testing.T) {
	if _, err := NewJWTVerifier("", ""); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("expected ErrMissingSecret, got %v", err)
	}
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := newVerifier(t)
	want := types.Participant{UserID: 42, Role: types.RoleStudent, DisplayName: "Grace"}

	token, err := v.Sign(want, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	got, err := v.VerifyToken(context.Background(), token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestJWTVerifier_DefaultDisplayName(t *testing.T) {
	v := newVerifier(t)
	token, _ := v.Sign(types.Participant{UserID: 5, Role: types.RoleInstructor}, time.Hour)

	got, err := v.VerifyToken(context.Background(), token)
	if err != nil {
		t.Fatal(err)
	}
	if got.DisplayName != "user-5" {
		t.Errorf("display name = %q", got.DisplayName)
	}
}

func TestJWTVerifier_Rejections(t *testing.T) {
	v := newVerifier(t)
	ctx := context.Background()

	expired := func() string {
		past := *v
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, _ := past.Sign(types.Participant{UserID: 1, Role: types.RoleStudent}, time.Hour)
		return token
	}()

	otherIssuer := func() string {
		other, _ := NewJWTVerifier(testSecret, "someone-else")
		token, _ := other.Sign(types.Participant{UserID: 1, Role: types.RoleStudent}, time.Hour)
		return token
	}()

	wrongSecret := func() string {
		other, _ := NewJWTVerifier("another-secret", "classpulse")
		token, _ := other.Sign(types.Participant{UserID: 1, Role: types.RoleStudent}, time.Hour)
		return token
	}()

	noRole := func() string {
		claims := Claims{UserID: 3, RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "classpulse",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		return token
	}()

	noExpiry := func() string {
		claims := Claims{UserID: 3, Role: types.RoleStudent, RegisteredClaims: jwt.RegisteredClaims{Issuer: "classpulse"}}
		token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		return token
	}()

	tests := map[string]string{
		"garbage":      "not.a.token",
		"expired":      expired,
		"other issuer": otherIssuer,
		"wrong secret": wrongSecret,
		"missing role": noRole,
		"no expiry":    noExpiry,
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := v.VerifyToken(ctx, token); !errors.Is(err, interfaces.ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}

	if _, err := v.VerifyToken(ctx, ""); !errors.Is(err, interfaces.ErrMissingToken) {
		t.Errorf("empty token: expected ErrMissingToken, got %v", err)
	}
}

func TestSign_RejectsInvalidIdentity(t *testing.T) {
	v := newVerifier(t)
	if _, err := v.Sign(types.Participant{UserID: 0, Role: types.RoleStudent}, time.Hour); !errors.Is(err, types.ErrInvalidIdentity) {
		t.Errorf("expected ErrInvalidIdentity, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"":               "",
		"Bearer abc":     "abc",
		"bearer  abc ":   "abc",
		"Basic dXNlcg==": "",
		"Bearer":         "",
	}
	for header, want := range tests {
		if got := BearerToken(header); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestMiddleware(t *testing.T) {
	v := newVerifier(t)
	token, _ := v.Sign(types.Participant{UserID: 9, Role: types.RoleInstructor, DisplayName: "Ines"}, time.Hour)

	var gotParticipant types.Participant
	var gotErr error
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotParticipant, gotErr = FromContext(r.Context())
	}))

	serve := func(header string) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	serve("")
	if !errors.Is(gotErr, ErrNoIdentity) {
		t.Errorf("no header: expected ErrNoIdentity, got %v", gotErr)
	}

	serve("Bearer " + token)
	if gotErr != nil || gotParticipant.UserID != 9 {
		t.Errorf("valid header: got %+v, %v", gotParticipant, gotErr)
	}

	serve("Bearer junk")
	if !errors.Is(gotErr, interfaces.ErrInvalidToken) {
		t.Errorf("invalid header: expected ErrInvalidToken, got %v", gotErr)
	}

	serve("Token " + token)
	if !errors.Is(gotErr, interfaces.ErrInvalidToken) {
		t.Errorf("wrong scheme: expected ErrInvalidToken, got %v", gotErr)
	}
}

// hangingVerifier never answers until released
type hangingVerifier struct {
	release chan struct{}
}

func (v hangingVerifier) VerifyToken(ctx context.Context, token string) (types.Participant, error) {
	<-v.release
	return types.Participant{UserID: 1, Role: types.RoleStudent}, nil
}

func TestMiddleware_VerifyTimeout(t *testing.T) {
	v := hangingVerifier{release: make(chan struct{})}
	defer close(v.release)

	var gotErr error
	handler := Middleware(v, WithVerifyTimeout(50*time.Millisecond))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, gotErr = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer slow-token")

	start := time.Now()
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("verification should be abandoned after the timeout, took %v", elapsed)
	}
	if !errors.Is(gotErr, ErrVerifyTimeout) {
		t.Errorf("Expected ErrVerifyTimeout, got %v", gotErr)
	}
	if !errors.Is(gotErr, context.DeadlineExceeded) {
		t.Errorf("Expected the deadline to be wrapped, got %v", gotErr)
	}
}

func TestRequireIdentityAndRole(t *testing.T) {
	v := newVerifier(t)
	student, _ := v.Sign(types.Participant{UserID: 1, Role: types.RoleStudent}, time.Hour)
	instructor, _ := v.Sign(types.Participant{UserID: 2, Role: types.RoleInstructor}, time.Hour)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := Middleware(v)(RequireIdentity(RequireRole(types.RoleInstructor)(ok)))

	tests := []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer junk", http.StatusUnauthorized},
		{"Bearer " + student, http.StatusForbidden},
		{"Bearer " + instructor, http.StatusNoContent},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("header %q: status = %d, want %d", tt.header, rec.Code, tt.want)
		}
	}
}
