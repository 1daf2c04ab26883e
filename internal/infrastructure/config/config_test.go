package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "bench-2"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "broker.lab"
    port: 1884
  topic_prefix: "lab"
dispatch:
  call_timeout: 10
delegates:
  - name: "Instruments"
  - name: "gpib0"
    mode: "process"
    args: ["--verbose"]
    restart_on_failure: true
instruments:
  - name: "dmm1"
    kind: "sim.DMM"
    server: "gpib0"
    metadata:
      room: "lab1"
snapshots:
  interval: 60
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "bench-2" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "bench-2")
	}
	if cfg.MQTT.Broker.Host != "broker.lab" || cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
	if cfg.MQTT.TopicPrefix != "lab" {
		t.Errorf("MQTT.TopicPrefix = %q, want %q", cfg.MQTT.TopicPrefix, "lab")
	}
	if cfg.GetCallTimeout() != 10*time.Second {
		t.Errorf("GetCallTimeout() = %v, want 10s", cfg.GetCallTimeout())
	}
	if len(cfg.Delegates) != 2 {
		t.Fatalf("len(Delegates) = %d, want 2", len(cfg.Delegates))
	}
	if cfg.Delegates[0].Mode != DelegateInProcess {
		t.Errorf("Delegates[0].Mode = %q, want default %q", cfg.Delegates[0].Mode, DelegateInProcess)
	}
	gpib, ok := cfg.Delegate("gpib0")
	if !ok {
		t.Fatal("Delegate(gpib0) not found")
	}
	if gpib.RestartDelaySeconds != 2 {
		t.Errorf("gpib0 RestartDelaySeconds = %d, want default 2", gpib.RestartDelaySeconds)
	}
	if len(cfg.Instruments) != 1 || cfg.Instruments[0].Metadata["room"] != "lab1" {
		t.Errorf("Instruments = %+v", cfg.Instruments)
	}
	if cfg.GetSnapshotInterval() != time.Minute {
		t.Errorf("GetSnapshotInterval() = %v, want 1m", cfg.GetSnapshotInterval())
	}
	if cfg.GetSnapshotRetention() != 7*24*time.Hour {
		t.Errorf("GetSnapshotRetention() = %v, want default 168h", cfg.GetSnapshotRetention())
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.MQTT.TopicPrefix != "instruments" {
		t.Errorf("MQTT.TopicPrefix = %q, want %q", cfg.MQTT.TopicPrefix, "instruments")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("INSTRUMENTS_DATABASE_PATH", "/env/instruments.db")
	t.Setenv("INSTRUMENTS_MQTT_HOST", "env-broker")
	t.Setenv("INSTRUMENTS_MQTT_PORT", "2883")
	t.Setenv("INSTRUMENTS_MQTT_TOPIC_PREFIX", "envprefix")
	t.Setenv("INSTRUMENTS_LOG_LEVEL", "debug")
	t.Setenv("INSTRUMENTS_API_JWT_SECRET", "env-secret")

	cfg, err := Load(writeConfig(t, "site:\n  id: x\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/env/instruments.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "env-broker" || cfg.MQTT.Broker.Port != 2883 {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
	if cfg.MQTT.TopicPrefix != "envprefix" {
		t.Errorf("MQTT.TopicPrefix = %q", cfg.MQTT.TopicPrefix)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.API.Auth.JWTSecret != "env-secret" {
		t.Errorf("API.Auth.JWTSecret = %q", cfg.API.Auth.JWTSecret)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "missing site id", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: "site.id"},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: "database.path"},
		{name: "bad qos", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: "mqtt.qos"},
		{name: "wildcard prefix", mutate: func(c *Config) { c.MQTT.TopicPrefix = "lab/#" }, wantErr: "topic_prefix"},
		{name: "bad api port", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: "api.port"},
		{name: "disabled api ignores port", mutate: func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }},
		{name: "negative call timeout", mutate: func(c *Config) { c.Dispatch.CallTimeout = -1 }, wantErr: "call_timeout"},
		{name: "influx without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: "influxdb.url"},
		{
			name:    "unnamed delegate",
			mutate:  func(c *Config) { c.Delegates = []DelegateConfig{{Mode: DelegateInProcess}} },
			wantErr: "delegates[0].name",
		},
		{
			name:    "delegate name with slash",
			mutate:  func(c *Config) { c.Delegates = []DelegateConfig{{Name: "a/b", Mode: DelegateInProcess}} },
			wantErr: "must not contain",
		},
		{
			name: "duplicate delegate",
			mutate: func(c *Config) {
				c.Delegates = []DelegateConfig{
					{Name: "bus", Mode: DelegateInProcess},
					{Name: "bus", Mode: DelegateProcess},
				}
			},
			wantErr: "declared twice",
		},
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Delegates = []DelegateConfig{{Name: "bus", Mode: "thread"}} },
			wantErr: "delegates[0].mode",
		},
		{
			name:    "instrument without kind",
			mutate:  func(c *Config) { c.Instruments = []InstrumentConfig{{Name: "dmm"}} },
			wantErr: "instruments[0].kind",
		},
		{
			name: "instrument on undeclared delegate",
			mutate: func(c *Config) {
				c.Instruments = []InstrumentConfig{{Name: "dmm", Kind: "sim.DMM", Server: "nowhere"}}
			},
			wantErr: "not a declared delegate",
		},
		{
			name: "duplicate instrument",
			mutate: func(c *Config) {
				c.Instruments = []InstrumentConfig{{Name: "dmm", Kind: "k"}, {Name: "dmm", Kind: "k"}}
			},
			wantErr: "instruments[1].name",
		},
		{
			name:    "auth with short secret",
			mutate:  func(c *Config) { c.API.Auth = APIAuthConfig{Enabled: true, JWTSecret: "short", Keys: []APIKeyConfig{{Name: "k", Hash: "h", Role: "viewer"}}} },
			wantErr: "jwt_secret",
		},
		{
			name:    "auth without keys",
			mutate:  func(c *Config) { c.API.Auth = APIAuthConfig{Enabled: true, JWTSecret: strings.Repeat("s", 32)} },
			wantErr: "api.auth.keys",
		},
		{
			name: "auth key without role",
			mutate: func(c *Config) {
				c.API.Auth = APIAuthConfig{Enabled: true, JWTSecret: strings.Repeat("s", 32), Keys: []APIKeyConfig{{Name: "k", Hash: "h"}}}
			},
			wantErr: "api.auth.keys[0]",
		},
		{
			name: "valid auth",
			mutate: func(c *Config) {
				c.API.Auth = APIAuthConfig{Enabled: true, JWTSecret: strings.Repeat("s", 32), Keys: []APIKeyConfig{{Name: "k", Hash: "h", Role: "admin"}}}
			},
		},
		{
			name:    "negative snapshot interval",
			mutate:  func(c *Config) { c.Snapshots.Interval = -1 },
			wantErr: "snapshots.interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateReportsAllProblems(t *testing.T) {
	cfg := defaultConfig()
	cfg.Site.ID = ""
	cfg.Database.Path = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"site.id", "database.path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error %q does not mention %q", err, want)
		}
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := defaultConfig()

	if cfg.GetReadTimeout() != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v", cfg.GetReadTimeout())
	}
	if cfg.GetWriteTimeout() != 30*time.Second {
		t.Errorf("GetWriteTimeout() = %v", cfg.GetWriteTimeout())
	}
	if cfg.GetIdleTimeout() != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v", cfg.GetIdleTimeout())
	}
	if cfg.GetTokenTTL() != 15*time.Minute {
		t.Errorf("GetTokenTTL() = %v", cfg.GetTokenTTL())
	}
	if cfg.GetAttachTimeout() != 15*time.Second {
		t.Errorf("GetAttachTimeout() = %v", cfg.GetAttachTimeout())
	}
}
