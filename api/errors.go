// Package api is the authorized client for the library backend.
//
// Every failure falls into one of three kinds, and callers are expected to
// tell them apart:
//
//	errors.Is(err, ErrSessionInvalidated)  // server rejected our token (401)
//	errors.As(err, &requestErr)            // server said no (business error)
//	errors.As(err, &transportErr)          // could not reach the server
//
// Only a confirmed 401 on a request that actually carried a token ever clears
// the session; a transport failure never does.
package api

import (
	"errors"
	"fmt"
)

// ErrSessionInvalidated reports that the backend rejected a previously
// valid-looking token. By the time a caller sees it the session store has
// already been cleared (exactly once per invalidation, however many requests
// were in flight).
var ErrSessionInvalidated = errors.New("session invalidated")

// RequestError is a non-2xx response other than a credential rejection.
// Message is the backend-provided message when there was one.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("request rejected (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("request rejected (status %d)", e.Status)
}

// TransportError is a request that got no response at all.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("library service unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
