package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the ANPR simulator.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Simulation SimulationConfig `yaml:"simulation"`
	Triggers   TriggerConfig    `yaml:"triggers"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Journal    JournalConfig    `yaml:"journal"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DeviceConfig contains the identity reported by the emulated sensor.
type DeviceConfig struct {
	Name            string `yaml:"name"`
	Type            string `yaml:"type"`
	Serial          string `yaml:"serial"`
	FirmwareVersion string `yaml:"firmware_version"`
	MACAddress      string `yaml:"mac_address"`
	IPAddress       string `yaml:"ip_address"`
	CameraID        string `yaml:"camera_id"`
}

// APIConfig contains HTTP server settings for the /sync channel and control API.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains settings for the /async push channel.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`

	// SendBuffer is the per-subscriber outbound queue length.
	SendBuffer int `yaml:"send_buffer"`

	// OverflowPolicy is applied when a subscriber queue is full: "drop" or "disconnect".
	OverflowPolicy string `yaml:"overflow_policy"`
}

// SimulationConfig contains the knobs that shape synthetic recognitions.
type SimulationConfig struct {
	// SuccessRate is the percentage (0-100) of recognitions that read a plate.
	SuccessRate int `yaml:"success_rate"`

	// ErrorRate is the percentage (0-100) of successful reads that get perturbed
	// (lowered reliability and one misread character).
	ErrorRate int `yaml:"error_rate"`

	// Plates is an optional list of plates to draw from instead of generating.
	Plates []string `yaml:"plates"`

	// PlatePattern describes generated plates: L = letter, D = digit, others literal.
	PlatePattern string `yaml:"plate_pattern"`

	Context          string `yaml:"context"`
	PlateReliability int    `yaml:"plate_reliability"`

	// BarrierOpenMS is how long the barrier stays open before closing itself.
	BarrierOpenMS int `yaml:"barrier_open_ms"`

	// GeneratorEnabled starts automatic recognitions at boot.
	GeneratorEnabled bool `yaml:"generator_enabled"`

	// GeneratorRate is the automatic recognition rate in plates per second.
	GeneratorRate float64 `yaml:"generator_rate"`
}

// TriggerConfig contains trigger session settings.
type TriggerConfig struct {
	DefaultTimeoutMS int `yaml:"default_timeout_ms"`
	MaxTimeoutMS     int `yaml:"max_timeout_ms"`

	// RetentionSeconds is how long resolved or expired sessions stay queryable.
	RetentionSeconds int `yaml:"retention_seconds"`
}

// MQTTConfig contains settings for the optional MQTT event mirror.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for recognition metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// JournalConfig contains settings for the SQLite event journal.
type JournalConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite file. Empty keeps the journal in memory.
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout"`
	MaxEntries  int    `yaml:"max_entries"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ANPRSIM_SECTION_KEY
// For example: ANPRSIM_API_PORT, ANPRSIM_MQTT_HOST
//
// A missing file is not an error when path is empty; defaults are used.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading a file.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:            "Simulator Device",
			Type:            "Simulator",
			Serial:          "SIM12345",
			FirmwareVersion: "1.0",
			MACAddress:      "00:11:22:33:44:55",
			IPAddress:       "127.0.0.1",
			CameraID:        "0",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/async",
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     256,
			OverflowPolicy: "drop",
		},
		Simulation: SimulationConfig{
			SuccessRate:      75,
			ErrorRate:        0,
			PlatePattern:     "LLDDDLL",
			Context:          "F",
			PlateReliability: 80,
			BarrierOpenMS:    5000,
			GeneratorRate:    0.2,
		},
		Triggers: TriggerConfig{
			DefaultTimeoutMS: 1000,
			MaxTimeoutMS:     600000,
			RetentionSeconds: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "anprsim",
			},
			QoS:         1,
			TopicPrefix: "anprsim",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Journal: JournalConfig{
			Enabled:     true,
			BusyTimeout: 5,
			MaxEntries:  100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ANPRSIM_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// API
	if v := os.Getenv("ANPRSIM_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ANPRSIM_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Simulation
	if v := os.Getenv("ANPRSIM_SIMULATION_SUCCESS_RATE"); v != "" {
		if rate, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.SuccessRate = rate
		}
	}

	// MQTT
	if v := os.Getenv("ANPRSIM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ANPRSIM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ANPRSIM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("ANPRSIM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Journal
	if v := os.Getenv("ANPRSIM_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
}

// maxDurationMS bounds millisecond durations (one day).
const maxDurationMS = 24 * 60 * 60 * 1000

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.CameraID == "" {
		errs = append(errs, "device.camera_id is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if !strings.HasPrefix(c.WebSocket.Path, "/") {
		errs = append(errs, "websocket.path must start with /")
	}
	if c.WebSocket.SendBuffer < 1 {
		errs = append(errs, "websocket.send_buffer must be positive")
	}
	switch c.WebSocket.OverflowPolicy {
	case "drop", "disconnect":
	default:
		errs = append(errs, "websocket.overflow_policy must be drop or disconnect")
	}

	if c.Simulation.SuccessRate < 0 || c.Simulation.SuccessRate > 100 {
		errs = append(errs, "simulation.success_rate must be between 0 and 100")
	}
	if c.Simulation.ErrorRate < 0 || c.Simulation.ErrorRate > 100 {
		errs = append(errs, "simulation.error_rate must be between 0 and 100")
	}
	if c.Simulation.PlateReliability < 0 || c.Simulation.PlateReliability > 100 {
		errs = append(errs, "simulation.plate_reliability must be between 0 and 100")
	}
	if c.Simulation.PlatePattern == "" && len(c.Simulation.Plates) == 0 {
		errs = append(errs, "simulation.plate_pattern or simulation.plates is required")
	}
	if c.Simulation.BarrierOpenMS <= 0 || c.Simulation.BarrierOpenMS > maxDurationMS {
		errs = append(errs, "simulation.barrier_open_ms must be between 1 and 86400000")
	}
	if c.Simulation.GeneratorRate < 0 {
		errs = append(errs, "simulation.generator_rate must not be negative")
	}

	if c.Triggers.DefaultTimeoutMS <= 0 {
		errs = append(errs, "triggers.default_timeout_ms must be positive")
	}
	if c.Triggers.MaxTimeoutMS < c.Triggers.DefaultTimeoutMS {
		errs = append(errs, "triggers.max_timeout_ms must be at least default_timeout_ms")
	}
	if c.Triggers.MaxTimeoutMS > maxDurationMS {
		errs = append(errs, "triggers.max_timeout_ms must not exceed 86400000")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Journal.Enabled && c.Journal.MaxEntries < 1 {
		errs = append(errs, "journal.max_entries must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// BarrierOpenDuration returns the configured barrier auto-close delay.
func (c *Config) BarrierOpenDuration() time.Duration {
	return time.Duration(c.Simulation.BarrierOpenMS) * time.Millisecond
}

// TriggerRetention returns how long terminal trigger sessions stay queryable.
func (c *Config) TriggerRetention() time.Duration {
	return time.Duration(c.Triggers.RetentionSeconds) * time.Second
}
