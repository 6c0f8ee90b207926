package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/anpr-simulator/internal/device"
	"github.com/nerrad567/anpr-simulator/internal/events"
)

// Default retention for terminal sessions.
const (
	DefaultRetention       = 30 * time.Second
	DefaultCleanupInterval = 5 * time.Second
)

// Logger defines the logging interface used by the Manager.
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

// Publisher receives trigger-result events.
type Publisher interface {
	Publish(category events.Category, payload any) int
}

// Options configures a Manager.
type Options struct {
	// Retention is how long Resolved/Expired sessions stay queryable.
	Retention time.Duration
}

// Manager owns every trigger session.
//
// At most one session per camera is Pending. Starting a trigger on a camera
// that already has one expires the old session first (last writer wins).
// Each session is resolved exactly once, by Stop or by its deadline, and
// each resolution publishes exactly one triggerResult event.
//
// Session ids start at 1 and are never reused; a deadline callback carries
// its session id and acts only if that session is still the camera's
// Pending one.
//
// Results are published in resolution order: a replaced session's expiry
// always precedes any later result on the same camera.
//
// Lock ordering: pubMu, then the manager lock, then the store lock.
// Events are published after the manager lock is released, still under pubMu.
type Manager struct {
	store  *device.Store
	pub    Publisher
	logger Logger
	now    func() time.Time

	// pubMu serialises resolve-and-publish sequences.
	pubMu sync.Mutex

	mu        sync.Mutex
	sessions  map[uint64]*Session
	pending   map[string]uint64 // cameraID -> pending session id
	timers    map[uint64]*time.Timer
	nextID    uint64
	retention time.Duration
	closed    bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a trigger session manager. pub may be nil.
func NewManager(store *device.Store, pub Publisher, opts Options) *Manager {
	retention := opts.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Manager{
		store:     store,
		pub:       pub,
		logger:    noopLogger{},
		now:       time.Now,
		sessions:  make(map[uint64]*Session),
		pending:   make(map[string]uint64),
		timers:    make(map[uint64]*time.Timer),
		retention: retention,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start opens a Pending session on cameraID that expires after timeout.
// A Pending session already on that camera is expired first.
func (m *Manager) Start(cameraID string, timeout time.Duration) (Session, error) {
	if timeout <= 0 {
		return Session{}, ErrInvalidTimeout
	}

	var replaced *Session

	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Session{}, ErrClosed
	}

	now := m.now()
	if oldID, ok := m.pending[cameraID]; ok {
		replaced = m.expireLocked(oldID, now)
	}

	if _, err := m.store.Mutate(func(tx *device.Tx) error {
		tx.IncrementCounter(device.CounterTriggers)
		return nil
	}); err != nil {
		m.mu.Unlock()
		m.publishExpired(replaced)
		return Session{}, err
	}

	m.nextID++
	id := m.nextID
	sess := &Session{
		ID:        id,
		CameraID:  cameraID,
		State:     StatePending,
		StartedAt: now,
		Deadline:  now.Add(timeout),
	}
	m.sessions[id] = sess
	m.pending[cameraID] = id
	m.timers[id] = time.AfterFunc(timeout, func() { m.onDeadline(id) })
	out := *sess
	m.mu.Unlock()

	if replaced != nil {
		m.logger.Info("trigger session replaced", "camera", cameraID, "old_session", replaced.ID, "session", id)
		m.publishExpired(replaced)
	}
	m.logger.Debug("trigger session started", "camera", cameraID, "session", id, "timeout", timeout)
	return out, nil
}

// Stop resolves the camera's Pending session with a synthesized recognition.
//
// Returns ErrNoActiveSession if the camera has no Pending session, including
// when the session's deadline has already passed; such a late call expires
// the session rather than resolving it.
func (m *Manager) Stop(cameraID string) (Session, error) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.Lock()

	id, ok := m.pending[cameraID]
	if !ok {
		m.mu.Unlock()
		return Session{}, ErrNoActiveSession
	}

	now := m.now()
	if !now.Before(m.sessions[id].Deadline) {
		expired := m.expireLocked(id, now)
		m.mu.Unlock()
		m.publishExpired(expired)
		return Session{}, ErrNoActiveSession
	}

	var rec device.Recognition
	if _, err := m.store.Mutate(func(tx *device.Tx) error {
		rec = tx.Synthesize(cameraID, id)
		return nil
	}); err != nil {
		m.mu.Unlock()
		return Session{}, err
	}

	m.stopTimerLocked(id)
	delete(m.pending, cameraID)
	sess := m.sessions[id]
	sess.State = StateResolved
	sess.EndedAt = now
	sess.Result = &rec
	out := *sess
	m.mu.Unlock()

	m.logger.Debug("trigger session resolved", "camera", cameraID, "session", id, "read", rec.Read())
	if m.pub != nil {
		m.pub.Publish(events.CategoryTriggerResult, events.TriggerResolvedPayload(rec))
	}
	return out, nil
}

// Get returns a session by id while it is Pending or still retained.
func (m *Manager) Get(id uint64) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Pending reports whether cameraID has a Pending session.
func (m *Manager) Pending(cameraID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[cameraID]
	return ok
}

// IfIdle runs fn under the manager lock if cameraID has no Pending session.
// fn may mutate the store but must not call back into the Manager.
func (m *Manager) IfIdle(cameraID string, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[cameraID]; ok || m.closed {
		return false
	}
	fn()
	return true
}

// onDeadline is the time.AfterFunc callback for session id.
func (m *Manager) onDeadline(id uint64) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok || sess.State != StatePending || m.pending[sess.CameraID] != id {
		m.mu.Unlock()
		return
	}
	expired := m.expireLocked(id, m.now())
	m.mu.Unlock()

	m.logger.Debug("trigger session expired", "camera", expired.CameraID, "session", id)
	m.publishExpired(expired)
}

// expireLocked moves a Pending session to Expired and returns a copy for
// publishing. Must be called with mu held.
func (m *Manager) expireLocked(id uint64, now time.Time) *Session {
	sess := m.sessions[id]
	m.stopTimerLocked(id)
	delete(m.pending, sess.CameraID)
	sess.State = StateExpired
	sess.EndedAt = now
	out := *sess
	return &out
}

func (m *Manager) stopTimerLocked(id uint64) {
	if t, ok := m.timers[id]; ok {
		t.Stop()
		delete(m.timers, id)
	}
}

func (m *Manager) publishExpired(sess *Session) {
	if sess == nil || m.pub == nil {
		return
	}
	m.pub.Publish(events.CategoryTriggerResult, events.TriggerExpiredPayload(sess.ID, sess.CameraID, sess.EndedAt))
}

// Cleanup discards terminal sessions that ended more than Retention ago.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.retention)
	removed := 0
	for id, sess := range m.sessions {
		if sess.State.Terminal() && sess.EndedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine starts a background goroutine that periodically
// discards old terminal sessions. It is stopped by Close.
func (m *Manager) StartCleanupRoutine(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Cleanup(); n > 0 {
					m.logger.Debug("trigger sessions discarded", "count", n)
				}
			}
		}
	}()
}

// Close stops the cleanup routine and disarms every deadline timer.
// Pending sessions stay Pending; no events are published.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id := range m.timers {
		m.stopTimerLocked(id)
	}
}
