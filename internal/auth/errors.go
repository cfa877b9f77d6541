package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrLocked             = errors.New("auth: account locked")
	ErrWeakPassword       = errors.New("auth: password too weak")
	ErrUnauthorized       = errors.New("auth: unauthorized")
)

// ErrInvalidToken indicates the token failed validation. Expired, unknown
// and revoked tokens are deliberately indistinguishable.
var ErrInvalidToken = errors.New("auth: invalid token")
