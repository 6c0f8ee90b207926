// Package barrier drives the simulated gate: open with an auto-close
// deadline, or close immediately.
//
// Every open or close bumps State.BarrierGeneration inside the store
// mutation. A scheduled auto-close carries the generation it was armed with
// and does nothing if the generation has moved on, so a timer left over from
// an earlier open can never close a barrier that was re-opened since.
package barrier

import (
	"sync"
	"time"

	"github.com/nerrad567/anpr-simulator/internal/device"
)

// Logger defines the logging interface used by the Timer.
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

// ChangePublisher receives the infoChanges produced by barrier transitions.
type ChangePublisher interface {
	PublishChange(ch device.Change)
}

// Timer opens and closes the barrier held in the device store.
type Timer struct {
	store  *device.Store
	pub    ChangePublisher
	logger Logger

	// mu serialises Open/CloseNow so the armed timer always belongs to the
	// latest generation. Lock ordering: mu, then the store lock.
	mu      sync.Mutex
	pending *time.Timer
	closed  bool
}

// New creates a barrier Timer. pub may be nil.
func New(store *device.Store, pub ChangePublisher) *Timer {
	return &Timer{
		store:  store,
		pub:    pub,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the timer.
func (t *Timer) SetLogger(logger Logger) {
	t.logger = logger
}

// Open opens the barrier, or extends an open one, until now+d where d is
// override if positive and the configured auto-close delay otherwise.
// Re-opening replaces the previous deadline; closures never stack.
//
// Returns the new close deadline.
func (t *Timer) Open(override time.Duration) (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var (
		gen      uint64
		deadline time.Time
		delay    time.Duration
	)
	ch, err := t.store.Mutate(func(tx *device.Tx) error {
		delay = override
		if delay <= 0 {
			delay = tx.State.Simulation.BarrierOpenDuration()
		}
		tx.State.BarrierGeneration++
		gen = tx.State.BarrierGeneration
		deadline = tx.Now().Add(delay)

		tx.State.BarrierOpen = true
		tx.State.BarrierCloseDeadline = deadline
		tx.IncrementCounter(device.CounterBarrierOpenings)
		tx.MarkInfoChanged()
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}

	t.stopPendingLocked()
	if !t.closed {
		t.pending = time.AfterFunc(delay, func() { t.fire(gen) })
	}
	t.logger.Info("barrier opened", "generation", gen, "close_in", delay)
	t.publish(ch)

	return deadline, nil
}

// CloseNow closes the barrier immediately and disarms any pending auto-close.
// Closing an already-closed barrier is a no-op.
func (t *Timer) CloseNow() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopPendingLocked()

	ch, err := t.store.Mutate(func(tx *device.Tx) error {
		tx.State.BarrierGeneration++
		closeBarrier(tx)
		return nil
	})
	if err != nil {
		return err
	}
	if !ch.Empty() {
		t.logger.Info("barrier closed")
	}
	t.publish(ch)
	return nil
}

// IsOpen reports the current barrier state.
func (t *Timer) IsOpen() bool {
	return t.store.Read().BarrierOpen
}

// Close disarms the pending timer. The barrier state is left as it is.
func (t *Timer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.stopPendingLocked()
}

// fire runs when an auto-close timer expires. It only acts if gen is still
// the current generation.
func (t *Timer) fire(gen uint64) {
	ch, err := t.store.Mutate(func(tx *device.Tx) error {
		if tx.State.BarrierGeneration != gen {
			return nil
		}
		closeBarrier(tx)
		return nil
	})
	if err != nil {
		t.logger.Error("barrier auto-close failed", "error", err)
		return
	}
	if ch.Empty() {
		t.logger.Debug("stale barrier timer ignored", "generation", gen)
		return
	}
	t.logger.Info("barrier auto-closed", "generation", gen)
	t.publish(ch)
}

func closeBarrier(tx *device.Tx) {
	if !tx.State.BarrierOpen {
		return
	}
	tx.State.BarrierOpen = false
	tx.State.BarrierCloseDeadline = time.Time{}
	tx.MarkInfoChanged()
}

func (t *Timer) stopPendingLocked() {
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

func (t *Timer) publish(ch device.Change) {
	if t.pub != nil && !ch.Empty() {
		t.pub.PublishChange(ch)
	}
}
