package client

import "errors"

// Failure status bytes surface as wrapped sentinels so callers can branch
// with errors.Is without parsing error text.
var (
	// ErrInvalidRequest is the server's verdict on a malformed or
	// unsatisfiable request: a taken name, an unknown recipient, an
	// out-of-bounds payload.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthorized is the server's verdict when the caller is known but
	// not allowed: a session bound to another connection, or a delete of
	// somebody else's message.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotLoggedIn is returned locally, before anything is sent, when a
	// method that needs a session runs without a prior Login.
	ErrNotLoggedIn = errors.New("not logged in")
)
