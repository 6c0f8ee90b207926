package trigger

import (
	"time"

	"github.com/nerrad567/anpr-simulator/internal/device"
)

// State is the lifecycle state of a Session.
type State int

// Session states. Resolved and Expired are terminal.
const (
	StatePending State = iota
	StateResolved
	StateExpired
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s != StatePending
}

// Session is one triggered recognition attempt.
type Session struct {
	ID        uint64    `json:"id"`
	CameraID  string    `json:"cameraId"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"startedAt"`
	Deadline  time.Time `json:"deadline"`
	EndedAt   time.Time `json:"endedAt,omitzero"`

	// Result is set iff State is StateResolved.
	Result *device.Recognition `json:"result,omitempty"`
}
