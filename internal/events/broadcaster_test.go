package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/anpr-simulator/internal/device"
)

func drain(sub *Subscriber) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestPublish_FlagFiltering(t *testing.T) {
	b := New(Options{})

	none := b.Subscribe()
	cfgOnly := b.Subscribe()
	all := b.Subscribe()
	require.NoError(t, b.SetFlags(cfgOnly, Flags{ConfigChanges: true}))
	require.NoError(t, b.SetFlags(all, AllFlags))

	tests := []struct {
		category Category
		want     map[*Subscriber]bool
	}{
		{CategoryRecognition, map[*Subscriber]bool{none: true, cfgOnly: true, all: true}},
		{CategoryTriggerResult, map[*Subscriber]bool{none: true, cfgOnly: true, all: true}},
		{CategoryConfigChanges, map[*Subscriber]bool{none: false, cfgOnly: true, all: true}},
		{CategoryInfoChanges, map[*Subscriber]bool{none: false, cfgOnly: false, all: true}},
		{CategoryTraces, map[*Subscriber]bool{none: false, cfgOnly: false, all: true}},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			wantCount := 0
			for _, ok := range tt.want {
				if ok {
					wantCount++
				}
			}

			n := b.Publish(tt.category, map[string]any{"k": "v"})
			assert.Equal(t, wantCount, n)

			for sub, want := range tt.want {
				got := drain(sub)
				if want {
					require.Len(t, got, 1)
					assert.Equal(t, tt.category, got[0].Category)
					assert.JSONEq(t, `{"k":"v"}`, string(got[0].Data))
				} else {
					assert.Empty(t, got)
				}
			}
		})
	}
}

func TestPublish_NoSubscribers(t *testing.T) {
	b := New(Options{})
	assert.Equal(t, 0, b.Publish(CategoryRecognition, map[string]any{}))
}

func TestPublish_MarshalFailure(t *testing.T) {
	b := New(Options{})
	sub := b.Subscribe()

	n := b.Publish(CategoryRecognition, map[string]any{"bad": make(chan int)})
	assert.Equal(t, 0, n)
	assert.Empty(t, drain(sub))
}

func TestPublish_SlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := New(Options{QueueSize: 2, Overflow: OverflowDrop})

	slow := b.Subscribe()
	fast := b.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 10 {
			b.Publish(CategoryRecognition, map[string]any{"i": i})
			// Keep the fast subscriber drained.
			drain(fast)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber queue")
	}

	assert.Len(t, drain(slow), 2)
	assert.Equal(t, uint64(8), slow.Dropped())
	assert.Equal(t, uint64(0), fast.Dropped())
	assert.Equal(t, 2, b.Len(), "drop policy keeps the subscriber")
}

func TestPublish_DisconnectPolicy(t *testing.T) {
	b := New(Options{QueueSize: 1, Overflow: OverflowDisconnect})

	slow := b.Subscribe()
	other := b.Subscribe()

	assert.Equal(t, 2, b.Publish(CategoryRecognition, 1))
	drain(other)
	assert.Equal(t, 1, b.Publish(CategoryRecognition, 2))

	select {
	case <-slow.Done():
	default:
		t.Fatal("overflowing subscriber should have been disconnected")
	}
	assert.Equal(t, 1, b.Len())

	// The queued event is still readable, then the channel reports closed.
	ev, ok := <-slow.C()
	require.True(t, ok)
	assert.Equal(t, "1", string(ev.Data))
	_, ok = <-slow.C()
	assert.False(t, ok)

	assert.ErrorIs(t, b.SetFlags(slow, AllFlags), ErrUnknownSubscriber)
}

func TestSubscriptionOrder(t *testing.T) {
	b := New(Options{})
	subs := make([]*Subscriber, 5)
	for i := range subs {
		subs[i] = b.Subscribe()
	}

	b.mu.RLock()
	for i, s := range b.subs {
		assert.Same(t, subs[i], s)
	}
	b.mu.RUnlock()

	b.Unsubscribe(subs[2])
	b.mu.RLock()
	assert.Equal(t, []*Subscriber{subs[0], subs[1], subs[3], subs[4]}, b.subs)
	b.mu.RUnlock()
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	b := New(Options{})
	sub := b.Subscribe()

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Publish(CategoryRecognition, "x"))
	_, err := b.Flags(sub)
	assert.ErrorIs(t, err, ErrUnknownSubscriber)
}

func TestSetFlags_ReadBack(t *testing.T) {
	b := New(Options{})
	sub := b.Subscribe()

	flags, err := b.Flags(sub)
	require.NoError(t, err)
	assert.Equal(t, Flags{}, flags)

	require.NoError(t, b.SetFlags(sub, Flags{Traces: true}))
	flags, err = b.Flags(sub)
	require.NoError(t, err)
	assert.Equal(t, Flags{Traces: true}, flags)
}

func TestSend_SingleSubscriber(t *testing.T) {
	b := New(Options{})
	a := b.Subscribe()
	c := b.Subscribe()

	assert.True(t, b.Send(a, CategoryTraces, []byte(`{"answer":{}}`)))
	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(c))

	b.Unsubscribe(a)
	assert.False(t, b.Send(a, CategoryTraces, []byte(`{}`)))
}

func TestPublishChange(t *testing.T) {
	b := New(Options{})
	sub := b.Subscribe()
	require.NoError(t, b.SetFlags(sub, AllFlags))

	b.PublishChange(device.Change{})
	assert.Empty(t, drain(sub))

	b.PublishChange(device.Change{
		Config: map[string]any{"device": map[string]any{"@name": "x"}},
		Infos:  map[string]any{"sensor": map[string]any{}},
	})
	got := drain(sub)
	require.Len(t, got, 2)
	assert.Equal(t, CategoryConfigChanges, got[0].Category)
	assert.JSONEq(t, `{"configChanges":{"config":{"device":{"@name":"x"}}}}`, string(got[0].Data))
	assert.Equal(t, CategoryInfoChanges, got[1].Category)
	assert.JSONEq(t, `{"infoChanges":{"infos":{"sensor":{}}}}`, string(got[1].Data))
}

func TestSubscribeWithPolicy_OverridesDefault(t *testing.T) {
	b := New(Options{QueueSize: 1, Overflow: OverflowDisconnect})

	keep := b.SubscribeWithPolicy(OverflowDrop)
	dflt := b.Subscribe()

	b.Publish(CategoryRecognition, 1)
	b.Publish(CategoryRecognition, 2)

	select {
	case <-keep.Done():
		t.Fatal("drop-policy subscriber must not be disconnected")
	default:
	}
	assert.Equal(t, uint64(1), keep.Dropped())

	select {
	case <-dflt.Done():
	default:
		t.Fatal("default subscriber should follow the disconnect policy")
	}
	assert.Equal(t, 1, b.Len())
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := New(Options{QueueSize: 4, Overflow: OverflowDisconnect})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				b.Publish(CategoryRecognition, "x")
			}
		}()
	}
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				sub := b.Subscribe()
				drain(sub)
				b.Unsubscribe(sub)
			}
		}()
	}
	wg.Wait()

	b.Close()
	assert.Equal(t, 0, b.Len())
}

func TestClose_ClosesQueues(t *testing.T) {
	b := New(Options{})
	sub := b.Subscribe()

	b.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestPayloads(t *testing.T) {
	at := time.UnixMilli(1700000000123)

	t.Run("recognition", func(t *testing.T) {
		rec := device.Recognition{
			ID: 4, SessionID: 0, CameraID: "0",
			Plate: "AB123CD", Reliability: 80, Context: "F",
			Timestamp: at, Image: device.SampleImage,
		}
		data, err := json.Marshal(RecognitionPayload(rec))
		require.NoError(t, err)
		assert.JSONEq(t, `{"anpr":{"@date":"1700000000123","@id":4,"@session":0,"@cameraId":"0",
			"decision":{"@plate":"AB123CD","@reliability":"80","@context":"F","jpeg":"`+device.SampleImage+`"}}}`, string(data))
	})

	t.Run("no read has empty decision", func(t *testing.T) {
		rec := device.Recognition{ID: 5, SessionID: 3, CameraID: "0", Timestamp: at}
		data, err := json.Marshal(TriggerResolvedPayload(rec))
		require.NoError(t, err)
		assert.JSONEq(t, `{"anpr":{"@date":"1700000000123","@id":5,"@session":3,"@cameraId":"0",
			"@triggerStatus":"resolved","decision":{}}}`, string(data))
	})

	t.Run("expired", func(t *testing.T) {
		data, err := json.Marshal(TriggerExpiredPayload(7, "1", at))
		require.NoError(t, err)
		assert.JSONEq(t, `{"anpr":{"@date":"1700000000123","@session":7,"@cameraId":"1",
			"@triggerStatus":"expired","decision":{}}}`, string(data))
	})

	t.Run("database match", func(t *testing.T) {
		d := Decision(device.Recognition{Plate: "AB123CD", Reliability: 90, Context: "F", InDatabase: true})
		assert.Equal(t, map[string]any{"@plate": "AB123CD", "@distance": "0"}, d["database"])
	})

	t.Run("trace", func(t *testing.T) {
		data, err := json.Marshal(TracePayload(at, "setConfig", "failed", "deviceLocked", ""))
		require.NoError(t, err)
		assert.JSONEq(t, `{"traces":{"@date":"1700000000123","@command":"setConfig","@status":"failed","@errorCode":"deviceLocked"}}`, string(data))
	})
}
