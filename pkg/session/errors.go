package session

import "errors"

var (
	// ErrSessionNotFound means no durable record exists for the id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionEnded means the session was closed and accepts no
	// further messages.
	ErrSessionEnded = errors.New("session has ended")

	// ErrCacheUnavailable means the hot tier could not be reached.
	ErrCacheUnavailable = errors.New("session cache unavailable")

	// ErrSessionFull means the session reached its message cap.
	ErrSessionFull = errors.New("session message limit reached")
)
