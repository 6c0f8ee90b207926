package device

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a new Store.
type Options struct {
	Identity   Identity
	Simulation Settings

	// Seed makes synthesis deterministic when non-zero.
	Seed uint64

	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

// Store owns the single DeviceState instance.
//
// Every read returns a deep copy and every write goes through Mutate, which
// runs against a private copy and commits only on success. The store never
// publishes events itself: Mutate returns a Change that the caller forwards
// once the lock has been released.
//
// All public methods are thread-safe.
type Store struct {
	mu       sync.Mutex // Protects state and rng
	state    *State
	defaults Settings
	rng      *rand.Rand
	now      func() time.Time
	logger   Logger
}

// NewStore creates a store in the power-on state.
func NewStore(opts Options) (*Store, error) {
	if err := opts.Simulation.Validate(); err != nil {
		return nil, err
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	s := &Store{
		defaults: opts.Simulation.clone(),
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:      now,
		logger:   noopLogger{},
	}
	s.state = s.initialState(opts.Identity)
	return s, nil
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Now returns the store clock.
func (s *Store) Now() time.Time {
	return s.now()
}

func (s *Store) initialState(id Identity) *State {
	st := &State{
		Identity:      id,
		ConfigAllowed: true,
		Database:      make(map[string]struct{}),
		Counters:      zeroCounters(),
		Simulation:    s.defaults.clone(),
	}
	st.Config = defaultConfigTree(st)
	return st
}

// Read returns a deep copy of the current state.
func (s *Store) Read() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.DeepCopy()
}

// Mutate applies fn atomically.
//
// fn receives a Tx over a private copy of the state. If fn returns an error
// (or panics) the copy is discarded and the store is left untouched. fn must
// not block, sleep or perform I/O.
//
// Returns:
//   - Change: config/info documents for every flag fn raised, for the caller to publish
//   - error: whatever fn returned
func (s *Store) Mutate(fn func(tx *Tx) error) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{
		State: s.state.DeepCopy(),
		store: s,
		now:   s.now(),
	}
	if err := fn(tx); err != nil {
		return Change{}, err
	}
	s.state = tx.State

	var ch Change
	if tx.configChanged {
		ch.Config = configDocument(s.state)
	}
	if tx.infoChanged {
		ch.Infos = infosDocument(s.state)
	}
	return ch, nil
}

// Change carries the notifications produced by one committed mutation.
// A nil document means the corresponding flag was not raised.
type Change struct {
	Config map[string]any
	Infos  map[string]any
}

// Empty reports whether the mutation produced no notification.
func (c Change) Empty() bool {
	return c.Config == nil && c.Infos == nil
}

// Merge combines two changes, keeping the later documents.
func (c Change) Merge(other Change) Change {
	if other.Config != nil {
		c.Config = other.Config
	}
	if other.Infos != nil {
		c.Infos = other.Infos
	}
	return c
}

// Tx is the handle passed to Mutate callbacks.
// It is only valid for the duration of the callback.
type Tx struct {
	// State is the working copy. Changes become visible on commit.
	State *State

	store         *Store
	now           time.Time
	configChanged bool
	infoChanged   bool
}

// Now returns the time captured when the mutation began.
func (tx *Tx) Now() time.Time {
	return tx.now
}

// MarkConfigChanged flags the mutation as config-affecting.
func (tx *Tx) MarkConfigChanged() {
	tx.configChanged = true
}

// MarkInfoChanged flags the mutation as info-affecting.
func (tx *Tx) MarkInfoChanged() {
	tx.infoChanged = true
}

// RequireUnlocked fails with ErrLocked while the device is locked.
func (tx *Tx) RequireUnlocked() error {
	if tx.State.Locked {
		return ErrLocked
	}
	return nil
}

// AddPlate inserts a plate into the database. Returns false if it was already present.
func (tx *Tx) AddPlate(plate string) bool {
	if _, ok := tx.State.Database[plate]; ok {
		return false
	}
	tx.State.Database[plate] = struct{}{}
	return true
}

// DeletePlate removes a plate. Returns false if it was not present.
func (tx *Tx) DeletePlate(plate string) bool {
	if _, ok := tx.State.Database[plate]; !ok {
		return false
	}
	delete(tx.State.Database, plate)
	return true
}

// ErasePlates empties the database.
func (tx *Tx) ErasePlates() {
	tx.State.Database = make(map[string]struct{})
}

// IncrementCounter bumps an informational counter.
func (tx *Tx) IncrementCounter(name string) {
	tx.State.Counters[name]++
}

// ResetCounters zeroes every counter.
func (tx *Tx) ResetCounters() {
	tx.State.Counters = zeroCounters()
	tx.infoChanged = true
}

// SetSimulation replaces the simulation settings and mirrors the interpreted
// fields into the configuration tree.
func (tx *Tx) SetSimulation(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	tx.State.Simulation = settings.clone()
	writeANPRNode(tx.State)
	tx.configChanged = true
	return nil
}

// ResetConfig restores the power-on configuration tree and the interpreted
// settings derived from it.
func (tx *Tx) ResetConfig() {
	tx.State.Simulation.Context = tx.store.defaults.Context
	tx.State.Simulation.Reliability = tx.store.defaults.Reliability
	tx.State.Config = defaultConfigTree(tx.State)
	tx.configChanged = true
}

// ApplyConfig deep-merges a setConfig document into the tree and interprets
// the plate-reliability and context attributes.
func (tx *Tx) ApplyConfig(patch map[string]any) error {
	if !tx.State.ConfigAllowed {
		return ErrConfigForbidden
	}

	merged := deepCopyMap(tx.State.Config)
	mergeTree(merged, patch)

	if err := interpretANPRNode(merged, &tx.State.Simulation); err != nil {
		return fmt.Errorf("applying config: %w", err)
	}
	tx.State.Config = merged
	writeANPRNode(tx.State)
	tx.configChanged = true
	return nil
}

func zeroCounters() map[string]int {
	return map[string]int{
		CounterRecognitions:    0,
		CounterTriggers:        0,
		CounterBarrierOpenings: 0,
	}
}
