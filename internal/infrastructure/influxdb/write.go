package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementRecognition = "anpr_recognition"
	MeasurementTrigger     = "anpr_trigger"
)

// Recognition is one plate read (or miss) reported by the device.
type Recognition struct {
	CameraID    string
	Plate       string
	Reliability int
	Context     string
	InDatabase  bool
	At          time.Time
}

// TriggerOutcome is how a trigger session ended.
type TriggerOutcome struct {
	CameraID string
	Session  uint64
	Status   string
	Read     bool
	At       time.Time
}

// WriteRecognition records a recognition point.
//
// Tags are low-cardinality (camera, read, in_database, context); the plate
// itself is a field.
func (c *Client) WriteRecognition(r Recognition) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(recognitionPoint(r))
}

// WriteTriggerOutcome records a trigger-result point.
func (c *Client) WriteTriggerOutcome(o TriggerOutcome) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(triggerPoint(o))
}

// WritePoint writes a custom point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func recognitionPoint(r Recognition) *write.Point {
	read := r.Plate != ""
	tags := map[string]string{
		"camera_id":   r.CameraID,
		"read":        strconv.FormatBool(read),
		"in_database": strconv.FormatBool(r.InDatabase),
	}
	if r.Context != "" {
		tags["context"] = r.Context
	}

	fields := map[string]any{"count": 1}
	if read {
		fields["plate"] = r.Plate
		fields["reliability"] = r.Reliability
	}

	return write.NewPoint(MeasurementRecognition, tags, fields, stamp(r.At))
}

func triggerPoint(o TriggerOutcome) *write.Point {
	return write.NewPoint(
		MeasurementTrigger,
		map[string]string{
			"camera_id": o.CameraID,
			"status":    o.Status,
		},
		map[string]any{
			"session": o.Session,
			"read":    o.Read,
			"count":   1,
		},
		stamp(o.At),
	)
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
