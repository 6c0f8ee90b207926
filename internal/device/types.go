package device

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Counter names kept in State.Counters.
const (
	CounterRecognitions    = "recognitions"
	CounterTriggers        = "triggers"
	CounterBarrierOpenings = "barrierOpenings"
)

// MaxBarrierOpenMS bounds any barrier open duration, configured or per request.
const MaxBarrierOpenMS = 24 * 60 * 60 * 1000

// SampleImage is the base64 placeholder attached to every recognition and
// returned by getImage. It decodes to a 1x1 PNG.
const SampleImage = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mP8z8BQDwAEhQGAhKmMIQAAAABJRU5ErkJggg=="

// Identity is the fixed description of the emulated sensor.
// It never changes after the store is created.
type Identity struct {
	Name            string
	Type            string
	Serial          string
	FirmwareVersion string
	MACAddress      string
	IPAddress       string
	HTTPPort        int
}

// Settings shapes synthetic recognitions and timer defaults.
type Settings struct {
	SuccessRate   int      `json:"successRate"`
	ErrorRate     int      `json:"errorRate"`
	Plates        []string `json:"plates"`
	PlatePattern  string   `json:"platePattern"`
	Context       string   `json:"context"`
	Reliability   int      `json:"reliability"`
	BarrierOpenMS int      `json:"barrierOpenMs"`
	GeneratorRate float64  `json:"generatorRate"`
	CameraID      string   `json:"cameraId"`
}

// Validate checks Settings for out-of-range values.
func (s Settings) Validate() error {
	var errs []string

	if s.SuccessRate < 0 || s.SuccessRate > 100 {
		errs = append(errs, "successRate must be between 0 and 100")
	}
	if s.ErrorRate < 0 || s.ErrorRate > 100 {
		errs = append(errs, "errorRate must be between 0 and 100")
	}
	if s.Reliability < 0 || s.Reliability > 100 {
		errs = append(errs, "reliability must be between 0 and 100")
	}
	if s.PlatePattern == "" && len(s.Plates) == 0 {
		errs = append(errs, "platePattern or plates is required")
	}
	if s.Context == "" {
		errs = append(errs, "context is required")
	}
	if s.BarrierOpenMS <= 0 || s.BarrierOpenMS > MaxBarrierOpenMS {
		errs = append(errs, fmt.Sprintf("barrierOpenMs must be between 1 and %d", MaxBarrierOpenMS))
	}
	if s.GeneratorRate < 0 {
		errs = append(errs, "generatorRate must not be negative")
	}
	if s.CameraID == "" {
		errs = append(errs, "cameraId is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(errs, "; "))
	}
	return nil
}

// BarrierOpenDuration returns the auto-close delay as a Duration.
func (s Settings) BarrierOpenDuration() time.Duration {
	return time.Duration(s.BarrierOpenMS) * time.Millisecond
}

func (s Settings) clone() Settings {
	s.Plates = slices.Clone(s.Plates)
	return s
}

// Recognition is one synthesized plate read. It is immutable once created.
//
// A Recognition with an empty Plate records an attempt that read nothing.
type Recognition struct {
	ID          uint64
	SessionID   uint64
	CameraID    string
	Plate       string
	Reliability int
	Context     string
	Timestamp   time.Time
	Image       string
	InDatabase  bool
}

// Read reports whether a plate was recognised.
func (r Recognition) Read() bool {
	return r.Plate != ""
}

// State is the complete device state. The Store owns the live instance;
// everything outside the store only ever sees deep copies.
type State struct {
	Identity Identity

	Locked           bool
	LockPasswordHash string
	ConfigAllowed    bool

	BarrierOpen bool
	// BarrierCloseDeadline is zero whenever BarrierOpen is false.
	BarrierCloseDeadline time.Time
	BarrierGeneration    uint64

	Config   map[string]any
	Database map[string]struct{}

	LastRecognition *Recognition
	RecognitionSeq  uint64

	Counters   map[string]int
	Simulation Settings
}

// DeepCopy creates a complete independent copy of the State.
// All map and slice fields are cloned so modifications to the copy
// do not affect the original.
func (s *State) DeepCopy() *State {
	if s == nil {
		return nil
	}

	cpy := *s

	cpy.Config = deepCopyMap(s.Config)
	cpy.Database = maps.Clone(s.Database)
	cpy.Counters = maps.Clone(s.Counters)
	cpy.Simulation = s.Simulation.clone()

	// Recognition is immutable; sharing the pointer is safe.
	return &cpy
}

// Plates returns the plate database in sorted order.
func (s *State) Plates() []string {
	return slices.Sorted(maps.Keys(s.Database))
}

// LockPasswordSet reports whether a lock password has been configured.
func (s *State) LockPasswordSet() bool {
	return s.LockPasswordHash != ""
}

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}
