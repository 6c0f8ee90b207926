// Package relay forwards every device event to the optional outbound sinks:
// the MQTT mirror, InfluxDB metrics and the SQLite journal.
//
// The relay is an ordinary broadcaster subscriber with every gated stream
// enabled, so it sees exactly what a fully subscribed client would. Sinks
// run on the relay goroutine, in registration order; a slow sink delays
// the others but never the device, because the broadcaster drops or
// disconnects a full subscriber instead of blocking.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/anpr-simulator/internal/events"
)

// Logger is the logging surface the relay needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ErrAlreadyStarted is returned by Start on a running relay.
var ErrAlreadyStarted = errors.New("relay: already started")

// Sink receives relayed events.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev events.Event) error
}

// Relay subscribes to a broadcaster and fans events out to sinks.
type Relay struct {
	broadcaster *events.Broadcaster
	sinks       []Sink
	logger      Logger

	mu     sync.Mutex
	sub    *events.Subscriber
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a relay. Nil sinks are skipped.
func New(b *events.Broadcaster, sinks ...Sink) (*Relay, error) {
	if b == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}
	r := &Relay{broadcaster: b, logger: noopLogger{}}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r, nil
}

// SetLogger sets the logger for sink failures.
func (r *Relay) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Sinks returns the names of the registered sinks.
func (r *Relay) Sinks() []string {
	names := make([]string, len(r.sinks))
	for i, s := range r.sinks {
		names[i] = s.Name()
	}
	return names
}

// Start subscribes and begins forwarding until ctx is cancelled or Stop is called.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		return ErrAlreadyStarted
	}

	// Always drop on overflow; the relay is never disconnected.
	sub := r.broadcaster.SubscribeWithPolicy(events.OverflowDrop)
	if err := r.broadcaster.SetFlags(sub, events.AllFlags); err != nil {
		r.broadcaster.Unsubscribe(sub)
		return fmt.Errorf("enabling relay streams: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.sub = sub
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(runCtx, sub, r.done)

	r.logger.Info("event relay started", "sinks", r.Sinks())
	return nil
}

func (r *Relay) run(ctx context.Context, sub *events.Subscriber, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				if ctx.Err() == nil {
					r.logger.Error("event relay subscription closed, sinks stopped", "sinks", r.Sinks())
				}
				return
			}
			r.forward(ctx, ev)
		}
	}
}

func (r *Relay) forward(ctx context.Context, ev events.Event) {
	for _, s := range r.sinks {
		if err := r.handle(ctx, s, ev); err != nil {
			r.logger.Warn("relay sink failed",
				"sink", s.Name(),
				"category", string(ev.Category),
				"error", err,
			)
		}
	}
}

// handle isolates a panicking sink from the rest.
func (r *Relay) handle(ctx context.Context, s Sink, ev events.Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sink panic: %v", p)
		}
	}()
	return s.Handle(ctx, ev)
}

// Stop unsubscribes and waits for the forwarding goroutine. Safe to call
// more than once.
func (r *Relay) Stop() {
	r.mu.Lock()
	sub, cancel, done := r.sub, r.cancel, r.done
	r.sub, r.cancel, r.done = nil, nil, nil
	r.mu.Unlock()

	if sub == nil {
		return
	}
	cancel()
	r.broadcaster.Unsubscribe(sub)
	<-done
	if n := sub.Dropped(); n > 0 {
		r.logger.Warn("event relay dropped events", "dropped", n)
	}
}
