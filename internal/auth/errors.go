package auth

import "errors"

// Sentinel errors for the auth package.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrSessionRevoked     = errors.New("session has been revoked")
	ErrTOTPRequired       = errors.New("a one-time code is required")
	ErrInvalidTOTPCode    = errors.New("invalid one-time code")
	ErrUserNotFound       = errors.New("admin user not found")
	ErrUsernameTaken      = errors.New("username already taken")
)
