// Package generator emits unsolicited recognitions at a configured rate.
//
// While enabled, each tick synthesizes one recognition on the default camera
// and publishes it, unless a trigger session is Pending on that camera:
// triggered sessions suppress automatic emission. Attempts that read no plate
// update nothing and publish nothing.
package generator

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/nerrad567/anpr-simulator/internal/device"
	"github.com/nerrad567/anpr-simulator/internal/events"
)

// ErrInvalidRate is returned when the rate is not a positive number.
var ErrInvalidRate = errors.New("generator: rate must be positive")

// minInterval bounds the tick rate.
const minInterval = 10 * time.Millisecond

// Logger defines the logging interface used by the Generator.
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

// Publisher receives recognition events.
type Publisher interface {
	Publish(category events.Category, payload any) int
}

// Gate runs fn only while the camera has no Pending trigger session.
// *trigger.Manager implements it.
type Gate interface {
	IfIdle(cameraID string, fn func()) bool
}

// Generator is the background recognition producer.
type Generator struct {
	store  *device.Store
	gate   Gate
	pub    Publisher
	logger Logger

	mu     sync.Mutex
	rate   float64
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a disabled Generator. gate and pub may be nil.
func New(store *device.Store, gate Gate, pub Publisher) *Generator {
	return &Generator{
		store:  store,
		gate:   gate,
		pub:    pub,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the generator.
func (g *Generator) SetLogger(logger Logger) {
	g.logger = logger
}

// Interval converts a rate in plates per second to a tick interval.
func Interval(rate float64) time.Duration {
	d := time.Duration(float64(time.Second) / rate)
	if d < minInterval {
		d = minInterval
	}
	return d
}

// Enable starts the generator at rate plates per second.
//
// Enabling an already-enabled generator at the same rate is a no-op; a
// different rate restarts the ticker.
func (g *Generator) Enable(rate float64) error {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return ErrInvalidRate
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel != nil {
		if g.rate == rate {
			return nil
		}
		g.stopLocked()
	}

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan struct{})
	g.rate = rate

	go g.run(ctx, Interval(rate), g.done)

	g.logger.Info("automatic recognition enabled", "rate", rate)
	return nil
}

// Disable stops the generator and waits for the loop to exit. Disabling a
// disabled generator is a no-op.
func (g *Generator) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel == nil {
		return
	}
	g.stopLocked()
	g.logger.Info("automatic recognition disabled")
}

// Enabled reports whether the generator is running.
func (g *Generator) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancel != nil
}

// Rate returns the current rate, or 0 when disabled.
func (g *Generator) Rate() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel == nil {
		return 0
	}
	return g.rate
}

// Close is Disable, for symmetry with the other components.
func (g *Generator) Close() {
	g.Disable()
}

func (g *Generator) stopLocked() {
	g.cancel()
	<-g.done
	g.cancel = nil
	g.done = nil
	g.rate = 0
}

func (g *Generator) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Tick()
		}
	}
}

// Tick performs one generation step. It is exported so callers and tests
// can drive the generator without a ticker.
//
// Returns whether a recognition event was published.
func (g *Generator) Tick() bool {
	cameraID := g.store.Read().Simulation.CameraID

	var (
		rec device.Recognition
		err error
	)
	synth := func() {
		_, err = g.store.Mutate(func(tx *device.Tx) error {
			rec = tx.Synthesize(cameraID, 0)
			return nil
		})
	}

	if g.gate != nil {
		if !g.gate.IfIdle(cameraID, synth) {
			g.logger.Debug("automatic recognition skipped, trigger pending", "camera", cameraID)
			return false
		}
	} else {
		synth()
	}

	if err != nil {
		g.logger.Error("automatic recognition failed", "error", err)
		return false
	}
	if !rec.Read() {
		return false
	}
	if g.pub != nil {
		g.pub.Publish(events.CategoryRecognition, events.RecognitionPayload(rec))
	}
	return true
}
