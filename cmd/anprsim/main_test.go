package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/anpr-simulator/internal/infrastructure/config"
	"github.com/nerrad567/anpr-simulator/internal/infrastructure/logging"
)

// testConfig returns defaults bound to loopback on an ephemeral port.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 0
	cfg.Simulation.SuccessRate = 100
	return cfg
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func post(t *testing.T, url, body string) map[string]any {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	return decodeBody(t, resp.Body)
}

func get(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv(configEnv, "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_ValidationFailure verifies run refuses an out-of-range config.
func TestRun_ValidationFailure(t *testing.T) {
	t.Setenv(configEnv, writeConfig(t, `
simulation:
  success_rate: 150
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with success_rate 150")
	}
}

// TestRun_StartupAndShutdown runs the full binary path until the context ends.
func TestRun_StartupAndShutdown(t *testing.T) {
	t.Setenv(configEnv, writeConfig(t, `
api:
  host: "127.0.0.1"
  port: `+strconv.Itoa(freePort(t))+`
journal:
  enabled: true
logging:
  level: error
  format: text
`))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}
}

// TestRun_PortInUse verifies a bind failure is reported.
func TestRun_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	t.Setenv(configEnv, writeConfig(t, `
api:
  host: "127.0.0.1"
  port: `+strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)+`
logging:
  level: error
`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail when the API port is taken")
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Device.CameraID = "3"
	cfg.Simulation.Plates = []string{"AB123CD"}

	s := settingsFromConfig(cfg)

	if s.CameraID != "3" {
		t.Errorf("CameraID = %q, want 3", s.CameraID)
	}
	if s.Reliability != cfg.Simulation.PlateReliability {
		t.Errorf("Reliability = %d, want %d", s.Reliability, cfg.Simulation.PlateReliability)
	}
	if s.SuccessRate != 75 || s.BarrierOpenMS != 5000 || s.Context != "F" {
		t.Errorf("settings = %+v", s)
	}
	if len(s.Plates) != 1 {
		t.Errorf("Plates = %v", s.Plates)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("default settings invalid: %v", err)
	}
}

// TestBuild_ServesAndJournals drives the wired simulator over HTTP and
// checks that events reach the journal through the relay.
func TestBuild_ServesAndJournals(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := build(ctx, testConfig(), logging.Discard())
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	defer a.close()

	if err := a.start(ctx); err != nil {
		t.Fatalf("start() error = %v", err)
	}
	base := "http://" + a.server.Addr()

	date := post(t, base+"/sync", `{"getDate":""}`)
	if _, ok := date["date"]; !ok {
		t.Fatalf("getDate answer = %v", date)
	}

	post(t, base+"/sync", `{"triggerOn":{"@timeout":"60000"}}`)
	off := post(t, base+"/sync", `{"triggerOff":{}}`)
	ans, _ := off["triggerAnswer"].(map[string]any)
	if ans["@status"] != "ok" {
		t.Fatalf("triggerOff answer = %v", off)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		code, body := get(t, base+"/api/v1/journal?category=triggerResult")
		if code != http.StatusOK {
			t.Fatalf("journal status = %d", code)
		}
		if body["count"] == float64(1) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("trigger result never journaled: %v", body)
		}
		time.Sleep(20 * time.Millisecond)
	}

	code, health := get(t, base+"/api/v1/health")
	if code != http.StatusOK || health["status"] != "ok" {
		t.Errorf("health = %d %v", code, health)
	}
	deps, _ := health["dependencies"].(map[string]any)
	if deps["journal"] != "ok" {
		t.Errorf("journal dependency = %v", deps["journal"])
	}
}

// TestBuild_JournalDisabled verifies the journal endpoint reports the
// disabled state.
func TestBuild_JournalDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Journal.Enabled = false

	a, err := build(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	defer a.close()

	if a.db != nil {
		t.Error("journal database opened while disabled")
	}
	if len(a.relay.Sinks()) != 0 {
		t.Errorf("sinks = %v, want none", a.relay.Sinks())
	}
}

// TestBuild_MQTTUnreachable verifies a refused broker fails startup and
// releases what was already built.
func TestBuild_MQTTUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker.Host = "127.0.0.1"
	cfg.MQTT.Broker.Port = 1

	if _, err := build(context.Background(), cfg, logging.Discard()); err == nil {
		t.Fatal("build() should fail when the broker refuses connections")
	}
}

// TestBuild_GeneratorEnabled verifies automatic recognitions start with the app.
func TestBuild_GeneratorEnabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.Journal.Enabled = false
	cfg.Simulation.GeneratorEnabled = true
	cfg.Simulation.GeneratorRate = 50

	a, err := build(ctx, cfg, logging.Discard())
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	defer a.close()
	if err := a.start(ctx); err != nil {
		t.Fatalf("start() error = %v", err)
	}

	if !a.generator.Enabled() {
		t.Fatal("generator should be running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for a.store.Read().LastRecognition == nil {
		if time.Now().After(deadline) {
			t.Fatal("no automatic recognition produced")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
