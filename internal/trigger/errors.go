package trigger

import "errors"

var (
	// ErrNoActiveSession is returned by Stop when the camera has no Pending session.
	ErrNoActiveSession = errors.New("trigger: no active session")

	// ErrInvalidTimeout is returned when a session timeout is not positive.
	ErrInvalidTimeout = errors.New("trigger: invalid timeout")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("trigger: manager closed")
)
