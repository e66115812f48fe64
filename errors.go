/*
Copyright © 2026 jaiswalism
*/

package main

import "errors"

// Join-time failures are terminal for the attempt and never leave partial
// registry state. Movement failures are feedback only and never close the
// connection.
var (
	ErrDuplicateSession = errors.New("user already has a live session")
	ErrSpaceNotFound    = errors.New("space not found")
	ErrSpaceFull        = errors.New("no free spawn cell in space")
	ErrSessionGone      = errors.New("session no longer present")

	ErrBadCredentials = errors.New("unknown username or wrong password")
	ErrUsernameTaken  = errors.New("username already taken")
	ErrBadToken       = errors.New("invalid or expired token")
	ErrUnknownAvatar  = errors.New("unknown avatar id")
)

// Error codes carried on the wire in "error" events.
const (
	codeUnauthorized      = "unauthorized"
	codeSpaceNotFound     = "space-not-found"
	codeDuplicateSession  = "duplicate-session"
	codeSpaceFull         = "space-full"
	codeProtocolViolation = "protocol-violation"
)

// wireCode maps a join-time error to its wire code.
func wireCode(err error) string {
	switch {
	case errors.Is(err, ErrBadToken):
		return codeUnauthorized
	case errors.Is(err, ErrSpaceNotFound):
		return codeSpaceNotFound
	case errors.Is(err, ErrDuplicateSession):
		return codeDuplicateSession
	case errors.Is(err, ErrSpaceFull):
		return codeSpaceFull
	default:
		return codeProtocolViolation
	}
}
