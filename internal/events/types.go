package events

import "time"

// Category names an event stream.
type Category string

// Event categories.
const (
	CategoryRecognition   Category = "recognition"
	CategoryTriggerResult Category = "triggerResult"
	CategoryConfigChanges Category = "configChanges"
	CategoryInfoChanges   Category = "infoChanges"
	CategoryTraces        Category = "traces"

	// CategoryAnswer carries a command answer to the subscriber that sent it.
	CategoryAnswer Category = "answer"
)

// Gated reports whether delivery of the category depends on subscriber flags.
// Recognitions and trigger results always reach every subscriber.
func (c Category) Gated() bool {
	switch c {
	case CategoryConfigChanges, CategoryInfoChanges, CategoryTraces:
		return true
	default:
		return false
	}
}

// Flags are the per-subscriber stream switches set by setEnableStreams.
type Flags struct {
	ConfigChanges bool `json:"configChanges"`
	InfoChanges   bool `json:"infoChanges"`
	Traces        bool `json:"traces"`
}

// AllFlags enables every gated stream.
var AllFlags = Flags{ConfigChanges: true, InfoChanges: true, Traces: true}

// Allows reports whether an event of category c should be delivered.
func (f Flags) Allows(c Category) bool {
	switch c {
	case CategoryConfigChanges:
		return f.ConfigChanges
	case CategoryInfoChanges:
		return f.InfoChanges
	case CategoryTraces:
		return f.Traces
	default:
		return true
	}
}

// Event is one encoded message queued for a subscriber.
type Event struct {
	Category Category
	Data     []byte
	At       time.Time
}

// OverflowPolicy decides what happens when a subscriber queue is full.
type OverflowPolicy string

// Overflow policies.
const (
	// OverflowDrop discards the event for that subscriber only.
	OverflowDrop OverflowPolicy = "drop"

	// OverflowDisconnect removes the subscriber and closes its queue.
	OverflowDisconnect OverflowPolicy = "disconnect"
)
