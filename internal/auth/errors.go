package auth

import "errors"

var (
	ErrNoIdentity    = errors.New("no identity attached to request")
	ErrMissingSecret = errors.New("jwt secret is required")
	ErrVerifyTimeout = errors.New("token verification timed out")
)
