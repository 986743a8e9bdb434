package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the I/O bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Loop      LoopConfig      `yaml:"loop"`
	Scene     SceneConfig     `yaml:"scene"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Devices   []DeviceConfig  `yaml:"devices"`
}

// SiteConfig contains site-specific information.
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
	Enabled   bool                `yaml:"enabled"`
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
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Host        string           `yaml:"host"`
	Port        int              `yaml:"port"`
	RequireAuth bool             `yaml:"require_auth"`
	TLS         TLSConfig        `yaml:"tls"`
	Timeouts    APITimeoutConfig `yaml:"timeouts"`
	CORS        CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`

	// StatsInterval is how often consumer loop counters are written, in
	// seconds.
	StatsInterval int `yaml:"stats_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// LoopConfig contains consumer loop settings.
type LoopConfig struct {
	// TickInterval is the consumer tick period in milliseconds.
	TickInterval int `yaml:"tick_interval"`

	// LogCapacity bounds the in-memory diagnostic log.
	LogCapacity int `yaml:"log_capacity"`

	// QueryTimeout bounds reads of consumer-owned state, in seconds.
	QueryTimeout int `yaml:"query_timeout"`
}

// SceneConfig locates the indicator layout.
type SceneConfig struct {
	// Path is a YAML layout file. Empty selects the built-in layout with one
	// indicator per zone.
	Path string `yaml:"path"`
}

// TelemetryConfig selects which sinks receive edges and diagnostics.
type TelemetryConfig struct {
	Journal    bool `yaml:"journal"`
	MQTTMirror bool `yaml:"mqtt_mirror"`
	Influx     bool `yaml:"influx"`

	// JournalRetentionDays is how long journal rows are kept. 0 keeps them
	// forever.
	JournalRetentionDays int `yaml:"journal_retention_days"`
}

// DeviceConfig describes one device the bridge connects at startup.
type DeviceConfig struct {
	Name       string            `yaml:"name"`
	Class      string            `yaml:"class"`
	Driver     string            `yaml:"driver"`
	Enabled    *bool             `yaml:"enabled"`
	Properties map[string]string `yaml:"properties"`
}

// IsEnabled reports whether the device should be connected. Unset means true.
func (d DeviceConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Known device classes and drivers.
var (
	DeviceClasses = []string{"touch_panel", "button_ring", "led_device"}
	DeviceDrivers = []string{"sim", "linedev", "mqttin"}
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: IOBRIDGE_SECTION_KEY
// For example: IOBRIDGE_DATABASE_PATH, IOBRIDGE_API_PORT
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
			ID:   "site-001",
			Name: "I/O Bridge",
		},
		Database: DatabaseConfig{
			Path:        "./data/iobridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "iobridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled:     true,
			Host:        "0.0.0.0",
			Port:        8090,
			RequireAuth: true,
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
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
			StatsInterval: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
		Loop: LoopConfig{
			TickInterval: 16,
			LogCapacity:  1000,
			QueryTimeout: 5,
		},
		Telemetry: TelemetryConfig{
			Journal:    true,
			MQTTMirror: true,
			Influx:     true,

			JournalRetentionDays: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: IOBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("IOBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("IOBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("IOBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("IOBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("IOBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("IOBRIDGE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("IOBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Scene
	if v := os.Getenv("IOBRIDGE_SCENE_PATH"); v != "" {
		cfg.Scene.Path = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("IOBRIDGE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
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

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Control routes connect and reset physical devices; a forgeable token
	// would hand that to anyone on the network.
	const minJWTSecretLength = 32
	if c.API.Enabled && c.API.RequireAuth {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when api.require_auth is set (set IOBRIDGE_JWT_SECRET environment variable)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
		}
	}

	if c.Loop.TickInterval < 1 {
		errs = append(errs, "loop.tick_interval must be at least 1 millisecond")
	}
	if c.Loop.LogCapacity < 1 {
		errs = append(errs, "loop.log_capacity must be positive")
	}
	if c.Loop.QueryTimeout < 1 {
		errs = append(errs, "loop.query_timeout must be at least 1 second")
	}

	if c.Telemetry.JournalRetentionDays < 0 {
		errs = append(errs, "telemetry.journal_retention_days must not be negative")
	}

	errs = append(errs, c.validateDevices()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateDevices checks device entries. At most one enabled device per
// class may be configured, since only one session per class can be live.
func (c *Config) validateDevices() []string {
	var errs []string
	names := make(map[string]bool, len(c.Devices))
	classes := make(map[string]string, len(c.Devices))

	for i, d := range c.Devices {
		prefix := fmt.Sprintf("devices[%d]", i)
		if d.Name == "" {
			errs = append(errs, prefix+".name is required")
		} else if names[d.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", prefix, d.Name))
		}
		names[d.Name] = true

		if !slices.Contains(DeviceClasses, d.Class) {
			errs = append(errs, fmt.Sprintf("%s.class %q must be one of %s", prefix, d.Class, strings.Join(DeviceClasses, ", ")))
		}
		if !slices.Contains(DeviceDrivers, d.Driver) {
			errs = append(errs, fmt.Sprintf("%s.driver %q must be one of %s", prefix, d.Driver, strings.Join(DeviceDrivers, ", ")))
		}
		if d.Driver == "mqttin" && !c.MQTT.Enabled {
			errs = append(errs, fmt.Sprintf("%s uses the mqttin driver but mqtt.enabled is false", prefix))
		}

		if !d.IsEnabled() {
			continue
		}
		if other, dup := classes[d.Class]; dup {
			errs = append(errs, fmt.Sprintf("%s: class %s already served by enabled device %q", prefix, d.Class, other))
		}
		classes[d.Class] = d.Name
	}
	return errs
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

// GetTickInterval returns the consumer tick period.
func (c *Config) GetTickInterval() time.Duration {
	return time.Duration(c.Loop.TickInterval) * time.Millisecond
}

// GetQueryTimeout returns the bound on consumer state reads.
func (c *Config) GetQueryTimeout() time.Duration {
	return time.Duration(c.Loop.QueryTimeout) * time.Second
}
