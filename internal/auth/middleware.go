package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

type identityKey struct{}

type identity struct {
	participant types.Participant
	err         error
}

// WithIdentity attaches a verified participant to ctx
func WithIdentity(ctx context.Context, p types.Participant) context.Context {
	return context.WithValue(ctx, identityKey{}, identity{participant: p})
}

// FromContext returns the identity attached by Middleware
// ErrNoIdentity means no Authorization header was sent; any other error is the
// verification failure for the header that was sent
func FromContext(ctx context.Context) (types.Participant, error) {
	value, ok := ctx.Value(identityKey{}).(identity)
	if !ok {
		return types.Participant{}, ErrNoIdentity
	}
	return value.participant, value.err
}

// BearerToken extracts the token from an Authorization header
func BearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// MiddlewareOption configures Middleware
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	verifyTimeout time.Duration
}

// WithVerifyTimeout bounds how long a bearer token verification may take
func WithVerifyTimeout(d time.Duration) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.verifyTimeout = d
	}
}

// Middleware verifies a bearer token when one is present and records the outcome
// It never rejects a request itself: WebSocket upgrades must be accepted before they
// can be closed with a close code, so rejection is left to RequireIdentity or the handler
func Middleware(verifier interfaces.TokenVerifier, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			var id identity
			token := BearerToken(header)
			if token == "" {
				id.err = interfaces.ErrInvalidToken
			} else {
				id.participant, id.err = verify(r.Context(), verifier, token, cfg.verifyTimeout)
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
		})
	}
}

// verify runs the verifier under the timeout; a verifier that ignores its context
// is abandoned rather than waited for
func verify(ctx context.Context, verifier interfaces.TokenVerifier, token string, timeout time.Duration) (types.Participant, error) {
	if timeout <= 0 {
		return verifier.VerifyToken(ctx, token)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		participant types.Participant
		err         error
	}
	done := make(chan result, 1)
	go func() {
		p, err := verifier.VerifyToken(ctx, token)
		done <- result{p, err}
	}()

	select {
	case res := <-done:
		return res.participant, res.err
	case <-ctx.Done():
		return types.Participant{}, fmt.Errorf("%w: %w", ErrVerifyTimeout, ctx.Err())
	}
}

// RequireIdentity rejects requests without a verified identity with 401
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := FromContext(r.Context()); err != nil {
			code := "invalid_token"
			if errors.Is(err, ErrNoIdentity) {
				code = "missing_token"
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized", "code": code})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects verified identities that lack the role with 403
func RequireRole(role types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := FromContext(r.Context())
			if err != nil || p.Role != role {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Forbidden", "code": "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
