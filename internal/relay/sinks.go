package relay

import (
	"context"

	"github.com/nerrad567/anpr-simulator/internal/events"
	"github.com/nerrad567/anpr-simulator/internal/infrastructure/influxdb"
	"github.com/nerrad567/anpr-simulator/internal/journal"
)

// EventPublisher is satisfied by *mqtt.Client.
type EventPublisher interface {
	PublishEvent(category string, data []byte) error
}

// MetricsWriter is satisfied by *influxdb.Client.
type MetricsWriter interface {
	WriteRecognition(r influxdb.Recognition)
	WriteTriggerOutcome(o influxdb.TriggerOutcome)
}

// MirrorSink republishes every event document unchanged.
type MirrorSink struct {
	Publisher EventPublisher
}

// Name implements Sink.
func (MirrorSink) Name() string { return "mqtt" }

// Handle implements Sink.
func (s MirrorSink) Handle(_ context.Context, ev events.Event) error {
	return s.Publisher.PublishEvent(string(ev.Category), ev.Data)
}

// MetricsSink records recognitions and trigger results as points. Other
// categories are ignored.
type MetricsSink struct {
	Writer MetricsWriter
}

// Name implements Sink.
func (MetricsSink) Name() string { return "influxdb" }

// Handle implements Sink.
func (s MetricsSink) Handle(_ context.Context, ev events.Event) error {
	switch ev.Category {
	case events.CategoryRecognition, events.CategoryTriggerResult:
	default:
		return nil
	}

	o, err := events.ParseOutcome(ev.Data)
	if err != nil {
		return err
	}
	at := o.At
	if at.IsZero() {
		at = ev.At
	}

	if ev.Category == events.CategoryRecognition {
		s.Writer.WriteRecognition(influxdb.Recognition{
			CameraID:    o.CameraID,
			Plate:       o.Plate,
			Reliability: o.Reliability,
			Context:     o.Context,
			InDatabase:  o.InDatabase,
			At:          at,
		})
		return nil
	}

	s.Writer.WriteTriggerOutcome(influxdb.TriggerOutcome{
		CameraID: o.CameraID,
		Session:  o.Session,
		Status:   o.TriggerStatus,
		Read:     o.Read(),
		At:       at,
	})
	return nil
}

// JournalSink appends every event to the journal.
type JournalSink struct {
	Repo journal.Repository
}

// Name implements Sink.
func (JournalSink) Name() string { return "journal" }

// Handle implements Sink.
func (s JournalSink) Handle(ctx context.Context, ev events.Event) error {
	return s.Repo.Record(ctx, journal.FromEvent(ev))
}
