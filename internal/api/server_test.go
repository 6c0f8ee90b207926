package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/anpr-simulator/internal/barrier"
	"github.com/nerrad567/anpr-simulator/internal/cdk"
	"github.com/nerrad567/anpr-simulator/internal/device"
	"github.com/nerrad567/anpr-simulator/internal/events"
	"github.com/nerrad567/anpr-simulator/internal/generator"
	"github.com/nerrad567/anpr-simulator/internal/infrastructure/config"
	"github.com/nerrad567/anpr-simulator/internal/infrastructure/logging"
	"github.com/nerrad567/anpr-simulator/internal/journal"
	"github.com/nerrad567/anpr-simulator/internal/trigger"
)

type testEnv struct {
	srv         *Server
	store       *device.Store
	broadcaster *events.Broadcaster
	generator   *generator.Generator
}

// testServer wires a complete simulator with real components.
func testServer(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	store, err := device.NewStore(device.Options{
		Identity: device.Identity{
			Name:            "Simulator Device",
			Type:            "Simulator",
			Serial:          "SIM12345",
			FirmwareVersion: "1.0",
		},
		Simulation: device.Settings{
			SuccessRate:   100,
			PlatePattern:  "LLDDDLL",
			Context:       "F",
			Reliability:   80,
			BarrierOpenMS: 5000,
			GeneratorRate: 0.2,
			CameraID:      "0",
		},
		Seed: 7,
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	bc := events.New(events.Options{})
	bt := barrier.New(store, bc)
	tm := trigger.NewManager(store, bc, trigger.Options{Retention: time.Minute})
	gen := generator.New(store, tm, bc)
	t.Cleanup(func() {
		gen.Close()
		tm.Close()
		bt.Close()
		bc.Close()
	})

	d, err := cdk.New(cdk.Deps{Store: store, Barrier: bt, Triggers: tm, Broadcaster: bc})
	if err != nil {
		t.Fatalf("cdk.New: %v", err)
	}

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			Path:           "/async",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:      logging.Discard(),
		Version:     "test",
		Store:       store,
		Barrier:     bt,
		Triggers:    tm,
		Generator:   gen,
		Broadcaster: bc,
		Dispatcher:  d,
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return &testEnv{srv: srv, store: store, broadcaster: bc, generator: gen}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

type failingCheck struct{}

func (failingCheck) HealthCheck(context.Context) error { return errors.New("broker unreachable") }

type okCheck struct{}

func (okCheck) HealthCheck(context.Context) error { return nil }

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresDeps(t *testing.T) {
	env := testServer(t, nil)
	base := Deps{
		Logger:      env.srv.logger,
		Store:       env.store,
		Barrier:     env.srv.barrier,
		Triggers:    env.srv.triggers,
		Generator:   env.generator,
		Broadcaster: env.broadcaster,
		Dispatcher:  env.srv.dispatcher,
	}

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"logger", func(d *Deps) { d.Logger = nil }},
		{"store", func(d *Deps) { d.Store = nil }},
		{"dispatcher", func(d *Deps) { d.Dispatcher = nil }},
		{"broadcaster", func(d *Deps) { d.Broadcaster = nil }},
		{"barrier", func(d *Deps) { d.Barrier = nil }},
		{"triggers", func(d *Deps) { d.Triggers = nil }},
		{"generator", func(d *Deps) { d.Generator = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := base
			tt.mutate(&deps)
			if _, err := New(deps); err == nil {
				t.Errorf("New() without %s should fail", tt.name)
			}
		})
	}
}

// ─── Health and middleware ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t, nil)
	w := do(t, env.srv.Handler(), http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	resp := decode(t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestHealth_DegradedDependency(t *testing.T) {
	env := testServer(t, func(d *Deps) {
		d.Checks = map[string]HealthChecker{"mqtt": failingCheck{}, "journal": okCheck{}}
	})
	resp := decode(t, do(t, env.srv.Handler(), http.MethodGet, "/api/v1/health", ""))

	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
	deps, _ := resp["dependencies"].(map[string]any)
	if deps["mqtt"] != "broker unreachable" {
		t.Errorf("mqtt = %v", deps["mqtt"])
	}
	if deps["journal"] != "ok" {
		t.Errorf("journal = %v", deps["journal"])
	}
}

func TestRequestID(t *testing.T) {
	env := testServer(t, nil)
	h := env.srv.Handler()

	w := do(t, h, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/sync", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t, nil)
	w := do(t, env.srv.Handler(), http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── /sync ─────────────────────────────────────────────────────────

func TestSync(t *testing.T) {
	env := testServer(t, nil)
	h := env.srv.Handler()

	tests := []struct {
		name     string
		body     string
		element  string
		wantCode string
	}{
		{"getDate", `{"getDate":""}`, "date", ""},
		{"openBarrier", `{"openBarrier":{}}`, "answer", ""},
		{"unknown command", `{"fly":{}}`, "answer", "unknownCommand"},
		{"malformed", `not json`, "answer", "malformedPayload"},
		{"empty body", ``, "answer", "malformedPayload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/sync", tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200 (CDK failures are in the body)", w.Code)
			}
			resp := decode(t, w)
			elem, ok := resp[tt.element].(map[string]any)
			if !ok {
				t.Fatalf("answer %v has no %q element", resp, tt.element)
			}
			if tt.wantCode == "" {
				if _, failed := elem["@errorCode"]; failed {
					t.Errorf("unexpected failure: %v", elem)
				}
				return
			}
			if elem["@status"] != "failed" || elem["@errorCode"] != tt.wantCode {
				t.Errorf("answer = %v, want failed/%s", elem, tt.wantCode)
			}
		})
	}
}

func TestSync_TriggerLookup(t *testing.T) {
	env := testServer(t, nil)
	h := env.srv.Handler()

	resp := decode(t, do(t, h, http.MethodPost, "/sync", `{"triggerOn":{"@timeout":"60000"}}`))
	ans, _ := resp["triggerAnswer"].(map[string]any)
	id, ok := ans["@triggerId"].(float64)
	if !ok || id == 0 {
		t.Fatalf("triggerAnswer = %v", resp)
	}

	path := "/api/v1/triggers/" + strconv.FormatUint(uint64(id), 10)
	sess := decode(t, do(t, h, http.MethodGet, path, ""))
	if sess["state"] != "pending" {
		t.Errorf("state = %v, want pending", sess["state"])
	}

	do(t, h, http.MethodPost, "/sync", `{"triggerOff":{}}`)
	sess = decode(t, do(t, h, http.MethodGet, path, ""))
	if sess["state"] != "resolved" {
		t.Errorf("state = %v, want resolved", sess["state"])
	}
	if _, ok := sess["anpr"].(map[string]any); !ok {
		t.Errorf("resolved session should carry the recognition: %v", sess)
	}

	if w := do(t, h, http.MethodGet, "/api/v1/triggers/999", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown trigger status = %d, want 404", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/triggers/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad trigger id status = %d, want 400", w.Code)
	}
}

// ─── Control API ───────────────────────────────────────────────────

func TestBarrierControl(t *testing.T) {
	env := testServer(t, nil)
	h := env.srv.Handler()

	w := do(t, h, http.MethodPost, "/api/v1/barrier/open", `{"duration_ms":60000}`)
	if w.Code != http.StatusOK {
		t.Fatalf("open status = %d: %s", w.Code, w.Body.String())
	}
	if !env.store.Read().BarrierOpen {
		t.Fatal("barrier should be open")
	}

	state := decode(t, do(t, h, http.MethodGet, "/api/v1/state", ""))
	barrierState, _ := state["barrier"].(map[string]any)
	if barrierState["open"] != true || barrierState["closeAt"] == nil {
		t.Errorf("state barrier = %v", barrierState)
	}

	if w := do(t, h, http.MethodPost, "/api/v1/barrier/close", ""); w.Code != http.StatusOK {
		t.Fatalf("close status = %d", w.Code)
	}
	if env.store.Read().BarrierOpen {
		t.Error("barrier should be closed")
	}

	if w := do(t, h, http.MethodPost, "/api/v1/barrier/open", `{"duration_ms":-1}`); w.Code != http.StatusBadRequest {
		t.Errorf("negative duration status = %d, want 400", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/v1/barrier/open", `{"duration_ms":18446744073710}`); w.Code != http.StatusBadRequest {
		t.Errorf("oversized duration status = %d, want 400", w.Code)
	}
	if env.store.Read().BarrierOpen {
		t.Error("rejected duration must not open the barrier")
	}
	if w := do(t, h, http.MethodPost, "/api/v1/barrier/open", `{`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid body status = %d, want 400", w.Code)
	}
}

func TestBarrierOpen_NoBody(t *testing.T) {
	env := testServer(t, nil)
	w := do(t, env.srv.Handler(), http.MethodPost, "/api/v1/barrier/open", "")
	if w.Code != http.StatusOK {
		t.Fatalf("open status = %d: %s", w.Code, w.Body.String())
	}
	if !env.store.Read().BarrierOpen {
		t.Error("barrier should be open")
	}
}

func TestSimulation_PartialUpdate(t *testing.T) {
	env := testServer(t, nil)
	h := env.srv.Handler()

	sub := env.broadcaster.Subscribe()
	if err := env.broadcaster.SetFlags(sub, events.Flags{ConfigChanges: true}); err != nil {
		t.Fatalf("SetFlags: %v", err)
	}

	w := do(t, h, http.MethodPut, "/api/v1/simulation", `{"successRate":0,"plates":["AB123CD"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", w.Code, w.Body.String())
	}

	sim := env.store.Read().Simulation
	if sim.SuccessRate != 0 {
		t.Errorf("SuccessRate = %d, want 0", sim.SuccessRate)
	}
	if sim.Context != "F" || sim.Reliability != 80 {
		t.Errorf("omitted fields changed: %+v", sim)
	}

	select {
	case ev := <-sub.C():
		if ev.Category != events.CategoryConfigChanges {
			t.Errorf("category = %s, want configChanges", ev.Category)
		}
	case <-time.After(time.Second):
		t.Error("no configChanges event after settings update")
	}

	got := decode(t, do(t, h, http.MethodGet, "/api/v1/simulation", ""))
	if got["successRate"] != float64(0) {
		t.Errorf("GET successRate = %v", got["successRate"])
	}
}

func TestSimulation_Invalid(t *testing.T) {
	env := testServer(t, nil)
	h := env.srv.Handler()

	w := do(t, h, http.MethodPut, "/api/v1/simulation", `{"successRate":150}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if resp := decode(t, w); resp["code"] != ErrCodeValidation {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeValidation)
	}
	if env.store.Read().Simulation.SuccessRate != 100 {
		t.Error("rejected update must not change settings")
	}

	if w := do(t, h, http.MethodPut, "/api/v1/simulation", `[]`); w.Code != http.StatusBadRequest {
		t.Errorf("non-object body status = %d, want 400", w.Code)
	}
}

func TestGeneratorControl(t *testing.T) {
	env := testServer(t, nil)
	h := env.srv.Handler()

	resp := decode(t, do(t, h, http.MethodPost, "/api/v1/generator", `{"enabled":true}`))
	if resp["enabled"] != true || resp["rate"] != 0.2 {
		t.Errorf("enable with configured rate = %v", resp)
	}

	resp = decode(t, do(t, h, http.MethodPost, "/api/v1/generator", `{"enabled":true,"rate":5}`))
	if resp["rate"] != float64(5) {
		t.Errorf("rate = %v, want 5", resp["rate"])
	}

	if w := do(t, h, http.MethodPost, "/api/v1/generator", `{"enabled":true,"rate":-1}`); w.Code != http.StatusBadRequest {
		t.Errorf("negative rate status = %d, want 400", w.Code)
	}

	resp = decode(t, do(t, h, http.MethodPost, "/api/v1/generator", `{"enabled":false}`))
	if resp["enabled"] != false {
		t.Errorf("disable = %v", resp)
	}
	if env.generator.Enabled() {
		t.Error("generator still running")
	}

	resp = decode(t, do(t, h, http.MethodGet, "/api/v1/generator", ""))
	if resp["enabled"] != false {
		t.Errorf("GET generator = %v", resp)
	}
}

func TestState_Snapshot(t *testing.T) {
	env := testServer(t, nil)
	h := env.srv.Handler()

	do(t, h, http.MethodPost, "/sync", `{"editDatabase":{"addPlate":{"@value":"ab123cd"}}}`)
	do(t, h, http.MethodPost, "/sync", `{"getCurrentLog":""}`)

	state := decode(t, do(t, h, http.MethodGet, "/api/v1/state", ""))
	plates, _ := state["plates"].([]any)
	if len(plates) != 1 || plates[0] != "AB123CD" {
		t.Errorf("plates = %v", state["plates"])
	}
	if state["lastRecognition"] == nil {
		t.Error("lastRecognition should be set after getCurrentLog")
	}
	if state["locked"] != false {
		t.Errorf("locked = %v", state["locked"])
	}
	identity, _ := state["identity"].(map[string]any)
	if identity["serial"] != "SIM12345" {
		t.Errorf("identity = %v", identity)
	}
}

type fakeJournal struct {
	category string
	limit    int
}

func (f *fakeJournal) Record(context.Context, journal.Entry) error { return nil }

func (f *fakeJournal) Recent(_ context.Context, category string, limit int) ([]journal.Entry, error) {
	f.category, f.limit = category, limit
	return []journal.Entry{{ID: 1, Category: "recognition", Summary: "recognition plate AB123CD (80%) on camera 0"}}, nil
}

func TestJournal(t *testing.T) {
	env := testServer(t, nil)
	if w := do(t, env.srv.Handler(), http.MethodGet, "/api/v1/journal", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled journal status = %d, want 503", w.Code)
	}

	fj := &fakeJournal{}
	env = testServer(t, func(d *Deps) { d.Journal = fj })
	h := env.srv.Handler()

	resp := decode(t, do(t, h, http.MethodGet, "/api/v1/journal?category=recognition&limit=5", ""))
	if resp["count"] != float64(1) {
		t.Errorf("count = %v", resp["count"])
	}
	if fj.category != "recognition" || fj.limit != 5 {
		t.Errorf("query = %q/%d", fj.category, fj.limit)
	}

	if w := do(t, h, http.MethodGet, "/api/v1/journal?limit=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
}

func TestCommands(t *testing.T) {
	env := testServer(t, nil)
	resp := decode(t, do(t, env.srv.Handler(), http.MethodGet, "/api/v1/commands", ""))

	names, _ := resp["commands"].([]any)
	locked, _ := resp["lockRequired"].([]any)
	if len(names) == 0 || len(locked) == 0 || len(locked) >= len(names) {
		t.Errorf("commands = %d, lockRequired = %d", len(names), len(locked))
	}
}

// ─── /async ────────────────────────────────────────────────────────

func dialAsync(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/async"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(time.Second)
	for env.srv.hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return msg
}

func TestAsync_CommandAnswer(t *testing.T) {
	env := testServer(t, nil)
	conn := dialAsync(t, env)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"getDate":""}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readJSON(t, conn)
	if _, ok := msg["date"]; !ok {
		t.Errorf("answer = %v, want date element", msg)
	}
}

func TestAsync_RecognitionPushAndStreams(t *testing.T) {
	env := testServer(t, nil)
	conn := dialAsync(t, env)

	// Recognitions are never gated.
	do(t, env.srv.Handler(), http.MethodPost, "/sync", `{"triggerOn":{}}`)
	do(t, env.srv.Handler(), http.MethodPost, "/sync", `{"triggerOff":{}}`)
	msg := readJSON(t, conn)
	anpr, ok := msg["anpr"].(map[string]any)
	if !ok || anpr["@triggerStatus"] != events.TriggerResolved {
		t.Fatalf("first push = %v, want resolved trigger result", msg)
	}

	// Config changes arrive only after setEnableStreams.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"setEnableStreams":{"@configChanges":"true"}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg = readJSON(t, conn)
	subs, _ := msg["subscriptions"].(map[string]any)
	if subs["configChanges"] != true || subs["traces"] != false {
		t.Fatalf("setEnableStreams answer = %v", msg)
	}

	do(t, env.srv.Handler(), http.MethodPut, "/api/v1/simulation", `{"successRate":50}`)
	msg = readJSON(t, conn)
	if _, ok := msg["configChanges"]; !ok {
		t.Errorf("push = %v, want configChanges", msg)
	}
}

func TestAsync_DisconnectUnsubscribes(t *testing.T) {
	env := testServer(t, nil)
	conn := dialAsync(t, env)

	if env.broadcaster.Len() != 1 {
		t.Fatalf("subscribers = %d, want 1", env.broadcaster.Len())
	}
	//nolint:errcheck // Test close handshake
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.broadcaster.Len() != 0 || env.srv.hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, clients = %d after close", env.broadcaster.Len(), env.srv.hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestStartClose(t *testing.T) {
	env := testServer(t, nil)
	srv := env.srv

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if srv.Addr() == "" {
		t.Fatal("Addr() empty after Start")
	}

	resp, err := http.Post("http://"+srv.Addr()+"/sync", "application/json", bytes.NewBufferString(`{"keepAlive":""}`))
	if err != nil {
		t.Fatalf("POST /sync: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
