package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classpulse/pkg/interfaces"
	"classpulse/pkg/types"
)

// Claims is the token payload; user_id follows the convention of the platform issuing tokens
type Claims struct {
	UserID int64      `json:"user_id"`
	Role   types.Role `json:"role"`
	Name   string     `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 tokens and resolves them to participants
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

var _ interfaces.TokenVerifier = (*JWTVerifier)(nil)

// NewJWTVerifier creates a verifier; an empty issuer disables the issuer check
func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// VerifyToken parses and validates the token and checks the identity it carries
func (v *JWTVerifier) VerifyToken(ctx context.Context, token string) (types.Participant, error) {
	if err := ctx.Err(); err != nil {
		return types.Participant{}, err
	}
	if token == "" {
		return types.Participant{}, interfaces.ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return types.Participant{}, fmt.Errorf("%w: %w", interfaces.ErrInvalidToken, err)
	}

	participant := types.Participant{UserID: claims.UserID, Role: claims.Role, DisplayName: claims.Name}
	if err := participant.Validate(); err != nil {
		return types.Participant{}, fmt.Errorf("%w: %w", interfaces.ErrInvalidToken, err)
	}
	if participant.DisplayName == "" {
		participant.DisplayName = "user-" + strconv.FormatInt(participant.UserID, 10)
	}
	return participant, nil
}

// Sign mints a token for the participant valid for ttl
func (v *JWTVerifier) Sign(p types.Participant, ttl time.Duration) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	now := v.now()
	claims := Claims{
		UserID: p.UserID,
		Role:   p.Role,
		Name:   p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   strconv.FormatInt(p.UserID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
