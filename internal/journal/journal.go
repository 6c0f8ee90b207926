// Package journal keeps a bounded, queryable record of recent device events.
//
// Every event the broadcaster publishes (recognitions, trigger results,
// configuration and info changes, command traces) can be appended; the
// oldest rows are trimmed so the journal never holds more than its
// configured number of entries.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/anpr-simulator/internal/events"
)

// Query bounds.
const (
	defaultLimit = 50
	maxLimit     = 500
)

// Entry is one journaled event.
type Entry struct {
	// ID is the auto-incremented primary key.
	ID int64 `json:"id"`

	// At is when the event was published (UTC, millisecond precision).
	At time.Time `json:"at"`

	// Category is the event stream the entry came from.
	Category string `json:"category"`

	// Summary is a one-line human-readable description.
	Summary string `json:"summary"`

	// Payload is the event document exactly as pushed to subscribers.
	Payload json.RawMessage `json:"payload"`
}

// Repository stores and retrieves journal entries.
//
// Implementations must be thread-safe.
type Repository interface {
	// Record appends an entry, trimming the oldest rows beyond the bound.
	Record(ctx context.Context, entry Entry) error

	// Recent returns up to limit entries newest first, optionally filtered
	// by category (empty means all).
	Recent(ctx context.Context, category string, limit int) ([]Entry, error)
}

// FromEvent converts a broadcaster event into a journal entry.
func FromEvent(ev events.Event) Entry {
	return Entry{
		At:       ev.At.UTC(),
		Category: string(ev.Category),
		Summary:  Summarize(ev.Category, ev.Data),
		Payload:  json.RawMessage(ev.Data),
	}
}

// Summarize builds the one-line description of an event document.
// Unrecognised shapes summarize to the category name.
func Summarize(category events.Category, data []byte) string {
	var doc map[string]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return string(category)
	}

	switch category {
	case events.CategoryRecognition, events.CategoryTriggerResult:
		anpr := doc["anpr"]
		var b strings.Builder
		if status, ok := anpr["@triggerStatus"].(string); ok {
			fmt.Fprintf(&b, "trigger %s %s", number(anpr["@session"]), status)
		} else {
			b.WriteString("recognition")
		}
		decision, _ := anpr["decision"].(map[string]any)
		if plate, ok := decision["@plate"].(string); ok {
			fmt.Fprintf(&b, " plate %s", plate)
			if rel, ok := decision["@reliability"].(string); ok {
				fmt.Fprintf(&b, " (%s%%)", rel)
			}
		} else if category == events.CategoryRecognition || anpr["@triggerStatus"] == events.TriggerResolved {
			b.WriteString(" no read")
		}
		if cam, ok := anpr["@cameraId"].(string); ok {
			fmt.Fprintf(&b, " on camera %s", cam)
		}
		return b.String()

	case events.CategoryTraces:
		tr := doc["traces"]
		s := fmt.Sprintf("%v %v", tr["@command"], tr["@status"])
		if detail, ok := tr["@detail"].(string); ok {
			s += " " + detail
		}
		if code, ok := tr["@errorCode"].(string); ok {
			s += " (" + code + ")"
		}
		return s

	case events.CategoryConfigChanges:
		return "configuration changed"

	case events.CategoryInfoChanges:
		return "device information changed"
	}
	return string(category)
}

func number(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprint(v)
}
