package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Delegate modes.
const (
	// DelegateInProcess runs the delegate as a goroutine of the hub.
	DelegateInProcess = "inprocess"

	// DelegateProcess runs the delegate as a supervised worker process
	// reached over MQTT.
	DelegateProcess = "process"
)

// minJWTSecretLength is the shortest accepted API signing secret.
const minJWTSecretLength = 32

// Config is the root configuration structure for the instrument server.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site        SiteConfig         `yaml:"site"`
	Database    DatabaseConfig     `yaml:"database"`
	MQTT        MQTTConfig         `yaml:"mqtt"`
	API         APIConfig          `yaml:"api"`
	InfluxDB    InfluxDBConfig     `yaml:"influxdb"`
	Logging     LoggingConfig      `yaml:"logging"`
	Dispatch    DispatchConfig     `yaml:"dispatch"`
	Delegates   []DelegateConfig   `yaml:"delegates"`
	Instruments []InstrumentConfig `yaml:"instruments"`
	Snapshots   SnapshotConfig     `yaml:"snapshots"`
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
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
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

// APIConfig contains the status API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APIAuthConfig controls bearer-token authentication of the API.
// Clients exchange one of Keys for a signed token at /api/v1/auth/token.
type APIAuthConfig struct {
	Enabled   bool           `yaml:"enabled"`
	JWTSecret string         `yaml:"jwt_secret"`
	TokenTTL  int            `yaml:"token_ttl"` // minutes
	Keys      []APIKeyConfig `yaml:"keys"`
}

// APIKeyConfig declares one API key. Hash is the Argon2id PHC string
// printed by "instrumentd hash-key".
type APIKeyConfig struct {
	Name string `yaml:"name"`
	Hash string `yaml:"hash"`
	Role string `yaml:"role"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DispatchConfig contains settings shared by every delegate client.
type DispatchConfig struct {
	// CallTimeout bounds how long a call waits for its delegate, in
	// seconds. 0 waits for the caller's context only.
	CallTimeout int `yaml:"call_timeout"`

	// AttachTimeout bounds how long connecting to a worker delegate waits
	// for it to come online, in seconds.
	AttachTimeout int `yaml:"attach_timeout"`
}

// DelegateConfig declares a named delegate.
type DelegateConfig struct {
	// Name is the delegate name instruments pass as their server.
	Name string `yaml:"name"`

	// Mode is DelegateInProcess or DelegateProcess.
	Mode string `yaml:"mode"`

	// Binary is the worker executable for process delegates. Empty uses the
	// running executable.
	Binary string `yaml:"binary,omitempty"`

	// Args are extra arguments passed to the worker after
	// "delegate --name <name>".
	Args []string `yaml:"args,omitempty"`

	// RestartOnFailure restarts a worker that exits unexpectedly.
	RestartOnFailure bool `yaml:"restart_on_failure"`

	// RestartDelaySeconds is the delay before the first restart.
	RestartDelaySeconds int `yaml:"restart_delay_seconds"`

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// InstrumentConfig declares an instrument the hub creates at startup.
type InstrumentConfig struct {
	Name string `yaml:"name"`

	// Kind is a registered driver kind name.
	Kind string `yaml:"kind"`

	// Server names the delegate the instrument uses. Empty runs it locally.
	Server string `yaml:"server,omitempty"`

	Metadata map[string]any `yaml:"metadata,omitempty"`
}

// SnapshotConfig controls periodic snapshot capture.
type SnapshotConfig struct {
	// Interval between captures in seconds. 0 disables capture.
	Interval int `yaml:"interval"`

	// RetentionHours prunes older snapshots. 0 keeps everything.
	RetentionHours int `yaml:"retention_hours"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: INSTRUMENTS_SECTION_KEY
// For example: INSTRUMENTS_DATABASE_PATH, INSTRUMENTS_MQTT_HOST
//
// An empty path skips the file and uses defaults plus environment.
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
	cfg.applyDelegateDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "lab-001",
			Name: "Instruments",
		},
		Database: DatabaseConfig{
			Path:        "./data/instruments.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "instrumentd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "instruments",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Auth: APIAuthConfig{
				TokenTTL: 15,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Dispatch: DispatchConfig{
			CallTimeout:   30,
			AttachTimeout: 15,
		},
		Snapshots: SnapshotConfig{
			Interval:       300,
			RetentionHours: 24 * 7,
		},
	}
}

func (c *Config) applyDelegateDefaults() {
	for i := range c.Delegates {
		d := &c.Delegates[i]
		if d.Mode == "" {
			d.Mode = DelegateInProcess
		}
		if d.Mode == DelegateProcess && d.RestartDelaySeconds == 0 {
			d.RestartDelaySeconds = 2
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: INSTRUMENTS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("INSTRUMENTS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("INSTRUMENTS_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("INSTRUMENTS_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("INSTRUMENTS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("INSTRUMENTS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("INSTRUMENTS_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}

	// API
	if v := os.Getenv("INSTRUMENTS_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("INSTRUMENTS_API_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}

	// InfluxDB
	if v := os.Getenv("INSTRUMENTS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("INSTRUMENTS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration and reports every problem at once.
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
	if strings.TrimSpace(c.MQTT.TopicPrefix) == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "#+") {
		errs = append(errs, "mqtt.topic_prefix must be non-empty and contain no wildcards")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Auth.Enabled {
		if len(c.API.Auth.JWTSecret) < minJWTSecretLength {
			errs = append(errs, fmt.Sprintf("api.auth.jwt_secret must be at least %d characters", minJWTSecretLength))
		}
		if len(c.API.Auth.Keys) == 0 {
			errs = append(errs, "api.auth.keys must declare at least one key")
		}
		for i, k := range c.API.Auth.Keys {
			if k.Name == "" || k.Hash == "" || k.Role == "" {
				errs = append(errs, fmt.Sprintf("api.auth.keys[%d] needs name, hash and role", i))
			}
		}
	}
	if c.Dispatch.CallTimeout < 0 {
		errs = append(errs, "dispatch.call_timeout must not be negative")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	seen := make(map[string]bool, len(c.Delegates))
	for i, d := range c.Delegates {
		switch {
		case d.Name == "":
			errs = append(errs, fmt.Sprintf("delegates[%d].name is required", i))
		case strings.ContainsAny(d.Name, "/#+"):
			errs = append(errs, fmt.Sprintf("delegates[%d].name %q must not contain '/', '#' or '+'", i, d.Name))
		case seen[d.Name]:
			errs = append(errs, fmt.Sprintf("delegates[%d].name %q is declared twice", i, d.Name))
		}
		seen[d.Name] = true

		if d.Mode != DelegateInProcess && d.Mode != DelegateProcess {
			errs = append(errs, fmt.Sprintf("delegates[%d].mode must be %q or %q", i, DelegateInProcess, DelegateProcess))
		}
	}

	if c.Snapshots.Interval < 0 || c.Snapshots.RetentionHours < 0 {
		errs = append(errs, "snapshots.interval and snapshots.retention_hours must not be negative")
	}

	names := make(map[string]bool, len(c.Instruments))
	for i, inst := range c.Instruments {
		switch {
		case inst.Name == "":
			errs = append(errs, fmt.Sprintf("instruments[%d].name is required", i))
		case names[inst.Name]:
			errs = append(errs, fmt.Sprintf("instruments[%d].name %q is declared twice", i, inst.Name))
		}
		names[inst.Name] = true

		if inst.Kind == "" {
			errs = append(errs, fmt.Sprintf("instruments[%d].kind is required", i))
		}
		if inst.Server != "" && !seen[inst.Server] {
			errs = append(errs, fmt.Sprintf("instruments[%d].server %q is not a declared delegate", i, inst.Server))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Delegate returns the declaration for the delegate called name.
func (c *Config) Delegate(name string) (DelegateConfig, bool) {
	for _, d := range c.Delegates {
		if d.Name == name {
			return d, true
		}
	}
	return DelegateConfig{}, false
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

// GetTokenTTL returns the lifetime of issued API tokens.
func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.API.Auth.TokenTTL) * time.Minute
}

// GetCallTimeout returns the delegate call timeout as a Duration.
func (c *Config) GetCallTimeout() time.Duration {
	return time.Duration(c.Dispatch.CallTimeout) * time.Second
}

// GetSnapshotInterval returns the snapshot capture interval as a Duration.
func (c *Config) GetSnapshotInterval() time.Duration {
	return time.Duration(c.Snapshots.Interval) * time.Second
}

// GetSnapshotRetention returns how long snapshots are kept as a Duration.
func (c *Config) GetSnapshotRetention() time.Duration {
	return time.Duration(c.Snapshots.RetentionHours) * time.Hour
}

// GetAttachTimeout returns the worker attach timeout as a Duration.
func (c *Config) GetAttachTimeout() time.Duration {
	return time.Duration(c.Dispatch.AttachTimeout) * time.Second
}
