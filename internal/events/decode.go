package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Outcome is the decoded form of a recognition or trigger-result event.
type Outcome struct {
	Session       uint64
	CameraID      string
	At            time.Time
	TriggerStatus string

	Plate       string
	Reliability int
	Context     string
	InDatabase  bool
}

// Read reports whether the outcome carries a plate.
func (o Outcome) Read() bool {
	return o.Plate != ""
}

type anprDocument struct {
	ANPR *struct {
		Date          string `json:"@date"`
		Session       uint64 `json:"@session"`
		CameraID      string `json:"@cameraId"`
		TriggerStatus string `json:"@triggerStatus"`
		Decision      struct {
			Plate       string          `json:"@plate"`
			Reliability string          `json:"@reliability"`
			Context     string          `json:"@context"`
			Database    json.RawMessage `json:"database"`
		} `json:"decision"`
	} `json:"anpr"`
}

// ParseOutcome decodes the anpr document carried by recognition and
// trigger-result events.
func ParseOutcome(data []byte) (Outcome, error) {
	var doc anprDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Outcome{}, fmt.Errorf("decoding anpr event: %w", err)
	}
	if doc.ANPR == nil {
		return Outcome{}, fmt.Errorf("decoding anpr event: missing anpr element")
	}

	a := doc.ANPR
	o := Outcome{
		Session:       a.Session,
		CameraID:      a.CameraID,
		TriggerStatus: a.TriggerStatus,
		Plate:         a.Decision.Plate,
		Context:       a.Decision.Context,
		InDatabase:    len(a.Decision.Database) > 0 && string(a.Decision.Database) != "null",
	}
	if ms, err := strconv.ParseInt(a.Date, 10, 64); err == nil {
		o.At = time.UnixMilli(ms)
	}
	if a.Decision.Reliability != "" {
		rel, err := strconv.Atoi(a.Decision.Reliability)
		if err != nil {
			return Outcome{}, fmt.Errorf("decoding anpr event: reliability %q: %w", a.Decision.Reliability, err)
		}
		o.Reliability = rel
	}
	return o, nil
}
