package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Callpoint Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site         SiteConfig         `yaml:"site"`
	Database     DatabaseConfig     `yaml:"database"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	API          APIConfig          `yaml:"api"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	InfluxDB     InfluxDBConfig     `yaml:"influxdb"`
	Logging      LoggingConfig      `yaml:"logging"`
	Provisioning ProvisioningConfig `yaml:"provisioning"`
	Simulator    SimulatorConfig    `yaml:"simulator"`
}

// SiteConfig identifies the vessel this instance serves.
// The site ID is the first segment below the namespace in every
// per-device topic, so it must be stable for the life of the deployment.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
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

// WebSocketConfig contains WebSocket event-stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for the
// telemetry monitor. Disabled by default; provisioning works without it.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// ProvisioningConfig contains token-issuance settings.
type ProvisioningConfig struct {
	// DefaultTTL is the token lifetime in seconds when the caller
	// does not supply one.
	DefaultTTL int `yaml:"default_ttl"`

	// Advertise is the broker endpoint embedded in QR payloads.
	// Devices on the guest network may reach the broker at a different
	// address than Core does, so this is separate from mqtt.broker.
	Advertise AdvertiseConfig `yaml:"advertise"`
}

// AdvertiseConfig is the broker endpoint handed to claiming devices.
type AdvertiseConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SimulatorConfig contains defaults for virtual device instances.
type SimulatorConfig struct {
	// TelemetryInterval is the default seconds between telemetry ticks.
	TelemetryInterval int `yaml:"telemetry_interval"`

	// StatusInterval is the default seconds between status heartbeats.
	// Must be a slower cadence than telemetry.
	StatusInterval int `yaml:"status_interval"`

	// BatteryDecayPerHour is the percentage points of battery lost per
	// hour of runtime for button and wearable archetypes.
	BatteryDecayPerHour float64 `yaml:"battery_decay_per_hour"`

	// RepeaterDecayFactor multiplies the decay rate for repeaters,
	// whose radios are active continuously.
	RepeaterDecayFactor float64 `yaml:"repeater_decay_factor"`

	// ClaimTimeout is how long (seconds) an unprovisioned simulator
	// waits for a handshake reply before Start fails.
	ClaimTimeout int `yaml:"claim_timeout"`

	// MaxFleetSize caps the number of concurrently running simulators.
	MaxFleetSize int `yaml:"max_fleet_size"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: CALLPOINT_SECTION_KEY
// For example: CALLPOINT_DATABASE_PATH, CALLPOINT_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "vessel-001",
			Name: "Callpoint",
		},
		Database: DatabaseConfig{
			Path:        "./data/callpoint.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "callpoint-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
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
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Provisioning: ProvisioningConfig{
			DefaultTTL: 900,
			Advertise: AdvertiseConfig{
				Host: "localhost",
				Port: 1883,
			},
		},
		Simulator: SimulatorConfig{
			TelemetryInterval:   5,
			StatusInterval:      30,
			BatteryDecayPerHour: 2.0,
			RepeaterDecayFactor: 3.0,
			ClaimTimeout:        10,
			MaxFleetSize:        500,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CALLPOINT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CALLPOINT_SITE_ID"); v != "" {
		cfg.Site.ID = v
	}

	// Database
	if v := os.Getenv("CALLPOINT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("CALLPOINT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CALLPOINT_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("CALLPOINT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CALLPOINT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("CALLPOINT_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("CALLPOINT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Provisioning.DefaultTTL < 0 {
		errs = append(errs, "provisioning.default_ttl must not be negative")
	}
	if c.Provisioning.Advertise.Host == "" {
		errs = append(errs, "provisioning.advertise.host is required")
	}

	if c.Simulator.TelemetryInterval < 1 {
		errs = append(errs, "simulator.telemetry_interval must be at least 1 second")
	}
	if c.Simulator.StatusInterval < c.Simulator.TelemetryInterval {
		errs = append(errs, "simulator.status_interval must not be shorter than telemetry_interval")
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

// TokenTTL returns the default token lifetime as a Duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Provisioning.DefaultTTL) * time.Second
}
