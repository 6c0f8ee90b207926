package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/anpr-simulator/internal/device"
)

// DefaultQueueSize is the per-subscriber outbound queue length.
const DefaultQueueSize = 256

// Logger defines the logging interface used by the Broadcaster.
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

// Options configures a Broadcaster.
type Options struct {
	QueueSize int
	Overflow  OverflowPolicy
}

// Subscriber is the handle for one push-channel connection.
type Subscriber struct {
	id       string
	queue    chan Event
	flags    Flags // guarded by Broadcaster.mu
	overflow OverflowPolicy

	dropped atomic.Uint64
	closed  chan struct{}
}

// ID returns the subscriber's UUID.
func (s *Subscriber) ID() string {
	return s.id
}

// C returns the outbound queue. It is closed when the subscriber is removed.
func (s *Subscriber) C() <-chan Event {
	return s.queue
}

// Done is closed when the subscriber is removed.
func (s *Subscriber) Done() <-chan struct{} {
	return s.closed
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// Broadcaster fans events out to subscribers.
//
// Each subscriber has its own bounded queue. Publish never blocks: a full
// queue is handled by the overflow policy for that subscriber alone.
//
// Lock ordering: Publish holds mu for reading while it enqueues; queues are
// closed only under the write lock, so a send can never hit a closed channel.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   []*Subscriber // subscription order
	index  map[string]*Subscriber
	opts   Options
	logger Logger
	now    func() time.Time
}

// New creates a Broadcaster.
func New(opts Options) *Broadcaster {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Overflow != OverflowDisconnect {
		opts.Overflow = OverflowDrop
	}
	return &Broadcaster{
		index:  make(map[string]*Subscriber),
		opts:   opts,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the broadcaster.
func (b *Broadcaster) SetLogger(logger Logger) {
	b.logger = logger
}

// Subscribe registers a new subscriber with every gated stream disabled.
// A full queue is handled by the broadcaster's overflow policy.
func (b *Broadcaster) Subscribe() *Subscriber {
	return b.SubscribeWithPolicy(b.opts.Overflow)
}

// SubscribeWithPolicy is Subscribe with a per-subscriber overflow policy.
// Unknown policies fall back to OverflowDrop.
func (b *Broadcaster) SubscribeWithPolicy(policy OverflowPolicy) *Subscriber {
	if policy != OverflowDisconnect {
		policy = OverflowDrop
	}
	sub := &Subscriber{
		id:       uuid.NewString(),
		queue:    make(chan Event, b.opts.QueueSize),
		overflow: policy,
		closed:   make(chan struct{}),
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.index[sub.id] = sub
	count := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "subscriber", sub.id, "subscribers", count)
	return sub
}

// SetFlags replaces a subscriber's stream flags.
func (b *Broadcaster) SetFlags(sub *Subscriber, flags Flags) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.index[sub.id]; !ok {
		return ErrUnknownSubscriber
	}
	sub.flags = flags
	return nil
}

// Flags returns a subscriber's current stream flags.
func (b *Broadcaster) Flags(sub *Subscriber) (Flags, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.index[sub.id]; !ok {
		return Flags{}, ErrUnknownSubscriber
	}
	return sub.flags, nil
}

// Unsubscribe removes a subscriber and closes its queue.
// Only the call that actually removes it closes the queue, so repeated
// calls are harmless.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	removed := b.removeLocked(sub)
	count := len(b.subs)
	b.mu.Unlock()

	if removed {
		b.logger.Debug("subscriber removed", "subscriber", sub.id, "subscribers", count)
	}
}

func (b *Broadcaster) removeLocked(sub *Subscriber) bool {
	if _, ok := b.index[sub.id]; !ok {
		return false
	}
	delete(b.index, sub.id)
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	close(sub.queue)
	close(sub.closed)
	return true
}

// Publish encodes payload once and queues it for every subscriber whose
// flags allow the category, in subscription order.
//
// Returns:
//   - int: number of subscribers the event was queued for
func (b *Broadcaster) Publish(category Category, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("failed to marshal event", "category", string(category), "error", err)
		return 0
	}
	ev := Event{Category: category, Data: data, At: b.now()}

	var overflowed []*Subscriber
	delivered := 0

	b.mu.RLock()
	for _, sub := range b.subs {
		if category.Gated() && !sub.flags.Allows(category) {
			continue
		}
		if b.enqueue(sub, ev) {
			delivered++
		} else {
			overflowed = append(overflowed, sub)
		}
	}
	b.mu.RUnlock()

	b.handleOverflow(overflowed, category)
	return delivered
}

// Send queues pre-encoded data for a single subscriber, subject to the same
// overflow policy as Publish. Used for command answers on the push channel.
func (b *Broadcaster) Send(sub *Subscriber, category Category, data []byte) bool {
	ev := Event{Category: category, Data: data, At: b.now()}

	b.mu.RLock()
	_, ok := b.index[sub.id]
	sent := ok && b.enqueue(sub, ev)
	b.mu.RUnlock()

	if ok && !sent {
		b.handleOverflow([]*Subscriber{sub}, category)
	}
	return sent
}

// enqueue must be called with mu held (read or write).
func (b *Broadcaster) enqueue(sub *Subscriber, ev Event) bool {
	select {
	case sub.queue <- ev:
		return true
	default:
		return false
	}
}

func (b *Broadcaster) handleOverflow(subs []*Subscriber, category Category) {
	for _, sub := range subs {
		switch sub.overflow {
		case OverflowDisconnect:
			b.logger.Warn("subscriber queue full, disconnecting", "subscriber", sub.id, "category", string(category))
			b.Unsubscribe(sub)
		default:
			n := sub.dropped.Add(1)
			b.logger.Warn("subscriber queue full, event dropped", "subscriber", sub.id, "category", string(category), "dropped", n)
		}
	}
}

// PublishChange forwards the notifications carried by a store mutation.
func (b *Broadcaster) PublishChange(ch device.Change) {
	if ch.Config != nil {
		b.Publish(CategoryConfigChanges, ConfigChangesPayload(ch.Config))
	}
	if ch.Infos != nil {
		b.Publish(CategoryInfoChanges, InfoChangesPayload(ch.Infos))
	}
}

// Len returns the number of subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close removes every subscriber, closing their queues so consumers exit.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.subs) > 0 {
		b.removeLocked(b.subs[0])
	}
}
