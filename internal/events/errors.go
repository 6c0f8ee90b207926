package events

import "errors"

// ErrUnknownSubscriber is returned when a handle is not (or no longer) registered.
var ErrUnknownSubscriber = errors.New("events: unknown subscriber")
