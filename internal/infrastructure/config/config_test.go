package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
device:
  name: "Gate 3"
  camera_id: "1"
api:
  host: "127.0.0.1"
  port: 9090
simulation:
  success_rate: 100
  plates: ["AB123CD", "EF456GH"]
  barrier_open_ms: 500
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Name != "Gate 3" {
		t.Errorf("Device.Name = %q, want %q", cfg.Device.Name, "Gate 3")
	}
	if cfg.Device.CameraID != "1" {
		t.Errorf("Device.CameraID = %q, want %q", cfg.Device.CameraID, "1")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.Simulation.SuccessRate != 100 {
		t.Errorf("Simulation.SuccessRate = %d, want 100", cfg.Simulation.SuccessRate)
	}
	if len(cfg.Simulation.Plates) != 2 {
		t.Errorf("len(Simulation.Plates) = %d, want 2", len(cfg.Simulation.Plates))
	}
	if got := cfg.BarrierOpenDuration(); got != 500*time.Millisecond {
		t.Errorf("BarrierOpenDuration() = %v, want 500ms", got)
	}

	// Untouched sections keep their defaults
	if cfg.WebSocket.Path != "/async" {
		t.Errorf("WebSocket.Path = %q, want %q", cfg.WebSocket.Path, "/async")
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want 8080", cfg.API.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
simulation:
  success_rate: 150
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for success_rate 150, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing camera id",
			mutate:  func(c *Config) { c.Device.CameraID = "" },
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "unknown overflow policy",
			mutate:  func(c *Config) { c.WebSocket.OverflowPolicy = "block" },
			wantErr: true,
		},
		{
			name:    "negative error rate",
			mutate:  func(c *Config) { c.Simulation.ErrorRate = -1 },
			wantErr: true,
		},
		{
			name: "no plate source",
			mutate: func(c *Config) {
				c.Simulation.PlatePattern = ""
				c.Simulation.Plates = nil
			},
			wantErr: true,
		},
		{
			name: "plate list without pattern",
			mutate: func(c *Config) {
				c.Simulation.PlatePattern = ""
				c.Simulation.Plates = []string{"AB123CD"}
			},
			wantErr: false,
		},
		{
			name:    "barrier open above one day",
			mutate:  func(c *Config) { c.Simulation.BarrierOpenMS = 86400001 },
			wantErr: true,
		},
		{
			name:    "max timeout above one day",
			mutate:  func(c *Config) { c.Triggers.MaxTimeoutMS = 100000000 },
			wantErr: true,
		},
		{
			name:    "max timeout below default",
			mutate:  func(c *Config) { c.Triggers.MaxTimeoutMS = 10 },
			wantErr: true,
		},
		{
			name: "invalid QoS only checked when mqtt enabled",
			mutate: func(c *Config) {
				c.MQTT.QoS = 3
			},
			wantErr: false,
		},
		{
			name: "invalid QoS with mqtt enabled",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.QoS = 3
			},
			wantErr: true,
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("ANPRSIM_API_HOST", "192.168.1.1")
	t.Setenv("ANPRSIM_API_PORT", "10001")
	t.Setenv("ANPRSIM_SIMULATION_SUCCESS_RATE", "40")
	t.Setenv("ANPRSIM_MQTT_HOST", "mqtt.example.com")
	t.Setenv("ANPRSIM_MQTT_USERNAME", "testuser")
	t.Setenv("ANPRSIM_MQTT_PASSWORD", "testpass")
	t.Setenv("ANPRSIM_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("ANPRSIM_JOURNAL_PATH", "/tmp/journal.db")

	applyEnvOverrides(cfg)

	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.API.Port != 10001 {
		t.Errorf("API.Port = %d, want 10001", cfg.API.Port)
	}
	if cfg.Simulation.SuccessRate != 40 {
		t.Errorf("Simulation.SuccessRate = %d, want 40", cfg.Simulation.SuccessRate)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Journal.Path != "/tmp/journal.db" {
		t.Errorf("Journal.Path = %q, want %q", cfg.Journal.Path, "/tmp/journal.db")
	}
}

func TestApplyEnvOverrides_IgnoresBadNumbers(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("ANPRSIM_API_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want 8080", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Device.CameraID != "0" {
		t.Errorf("defaultConfig Device.CameraID = %q, want %q", cfg.Device.CameraID, "0")
	}
	if cfg.Simulation.SuccessRate != 75 {
		t.Errorf("defaultConfig Simulation.SuccessRate = %d, want 75", cfg.Simulation.SuccessRate)
	}
	if cfg.Simulation.PlateReliability != 80 {
		t.Errorf("defaultConfig Simulation.PlateReliability = %d, want 80", cfg.Simulation.PlateReliability)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.TriggerRetention() != 30*time.Second {
		t.Errorf("defaultConfig TriggerRetention() = %v, want 30s", cfg.TriggerRetention())
	}
}
