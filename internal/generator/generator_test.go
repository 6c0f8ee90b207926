package generator

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/anpr-simulator/internal/device"
	"github.com/nerrad567/anpr-simulator/internal/events"
)

type countingPublisher struct {
	n atomic.Int64
}

func (p *countingPublisher) Publish(category events.Category, _ any) int {
	if category == events.CategoryRecognition {
		p.n.Add(1)
	}
	return 1
}

type fakeGate struct {
	mu   sync.Mutex
	busy bool
}

func (g *fakeGate) IfIdle(_ string, fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return false
	}
	fn()
	return true
}

func (g *fakeGate) setBusy(b bool) {
	g.mu.Lock()
	g.busy = b
	g.mu.Unlock()
}

func newTestGenerator(t *testing.T, successRate int) (*Generator, *device.Store, *fakeGate, *countingPublisher) {
	t.Helper()
	store, err := device.NewStore(device.Options{
		Simulation: device.Settings{
			SuccessRate:   successRate,
			PlatePattern:  "LLDDDLL",
			Context:       "F",
			Reliability:   80,
			BarrierOpenMS: 5000,
			GeneratorRate: 0.2,
			CameraID:      "0",
		},
	})
	require.NoError(t, err)

	gate := &fakeGate{}
	pub := &countingPublisher{}
	g := New(store, gate, pub)
	t.Cleanup(g.Close)
	return g, store, gate, pub
}

func TestTick_Publishes(t *testing.T) {
	g, store, _, pub := newTestGenerator(t, 100)

	assert.True(t, g.Tick())
	assert.Equal(t, int64(1), pub.n.Load())

	st := store.Read()
	require.NotNil(t, st.LastRecognition)
	assert.Equal(t, uint64(0), st.LastRecognition.SessionID)
	assert.Equal(t, "0", st.LastRecognition.CameraID)
}

func TestTick_SkipsWhileTriggerPending(t *testing.T) {
	g, store, gate, pub := newTestGenerator(t, 100)

	gate.setBusy(true)
	assert.False(t, g.Tick())
	assert.Equal(t, int64(0), pub.n.Load())
	assert.Nil(t, store.Read().LastRecognition)

	gate.setBusy(false)
	assert.True(t, g.Tick())
}

func TestTick_MissPublishesNothing(t *testing.T) {
	g, _, _, pub := newTestGenerator(t, 0)

	assert.False(t, g.Tick())
	assert.Equal(t, int64(0), pub.n.Load())
}

func TestEnableDisable_Idempotent(t *testing.T) {
	g, _, _, _ := newTestGenerator(t, 100)

	assert.False(t, g.Enabled())
	g.Disable() // no-op

	require.NoError(t, g.Enable(1))
	assert.True(t, g.Enabled())
	assert.Equal(t, 1.0, g.Rate())

	done := g.done
	require.NoError(t, g.Enable(1))
	assert.Equal(t, done, g.done, "re-enabling at the same rate must not restart the loop")

	require.NoError(t, g.Enable(2))
	assert.Equal(t, 2.0, g.Rate())

	g.Disable()
	g.Disable()
	assert.False(t, g.Enabled())
	assert.Equal(t, 0.0, g.Rate())
}

func TestEnable_InvalidRate(t *testing.T) {
	g, _, _, _ := newTestGenerator(t, 100)

	for _, rate := range []float64{0, -1} {
		assert.ErrorIs(t, g.Enable(rate), ErrInvalidRate)
	}
	assert.False(t, g.Enabled())
}

func TestEnable_ProducesEvents(t *testing.T) {
	g, _, _, pub := newTestGenerator(t, 100)

	require.NoError(t, g.Enable(50)) // 20ms interval

	assert.Eventually(t, func() bool { return pub.n.Load() >= 3 },
		2*time.Second, 10*time.Millisecond)

	g.Disable()
	n := pub.n.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, pub.n.Load(), "no events after Disable returns")
}

func TestInterval(t *testing.T) {
	assert.Equal(t, 5*time.Second, Interval(0.2))
	assert.Equal(t, time.Second, Interval(1))
	assert.Equal(t, minInterval, Interval(1e6))
}
