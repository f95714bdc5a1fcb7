package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validToken meets the minimum token length requirement.
const validToken = "iot_test_token_0123456789"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	t.Setenv("VWIRE_AUTH_TOKEN", "")
	t.Setenv("VWIRE_SERVER_HOST", "")

	configPath := writeConfig(t, `
device:
  auth_token: "iot_test_token_0123456789"
  name: "greenhouse"
server:
  host: "192.168.1.100"
  mqtt_port: 1883
  transport: "tcp"
  verify_ssl: false
database:
  path: "/tmp/vwire-test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.Name != "greenhouse" {
		t.Errorf("Device.Name = %q, want %q", cfg.Device.Name, "greenhouse")
	}
	if cfg.Server.Host != "192.168.1.100" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "192.168.1.100")
	}
	if cfg.Server.Transport != TransportTCP {
		t.Errorf("Server.Transport = %q, want %q", cfg.Server.Transport, TransportTCP)
	}
	// Unset values keep their defaults
	if cfg.Server.Keepalive != 60 {
		t.Errorf("Server.Keepalive = %d, want 60", cfg.Server.Keepalive)
	}
	if cfg.Server.HeartbeatInterval != 10 {
		t.Errorf("Server.HeartbeatInterval = %d, want 10", cfg.Server.HeartbeatInterval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_MissingToken(t *testing.T) {
	t.Setenv("VWIRE_AUTH_TOKEN", "")

	configPath := writeConfig(t, `
server:
  host: "localhost"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for missing token, got nil")
	}
	if !strings.Contains(err.Error(), "device.auth_token") {
		t.Errorf("error = %v, want mention of device.auth_token", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VWIRE_AUTH_TOKEN", validToken)
	t.Setenv("VWIRE_SERVER_HOST", "iot.example.com")
	t.Setenv("VWIRE_SERVER_TRANSPORT", "wss")
	t.Setenv("VWIRE_DATABASE_PATH", "/var/lib/vwire/pins.db")
	t.Setenv("VWIRE_INFLUXDB_TOKEN", "influx-secret")

	configPath := writeConfig(t, `
device:
  auth_token: "short"
server:
  host: "localhost"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Device.AuthToken != validToken {
		t.Errorf("Device.AuthToken not overridden from environment")
	}
	if cfg.Server.Host != "iot.example.com" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "iot.example.com")
	}
	if cfg.Server.Transport != TransportWebSocketTLS {
		t.Errorf("Server.Transport = %q, want %q", cfg.Server.Transport, TransportWebSocketTLS)
	}
	if cfg.Database.Path != "/var/lib/vwire/pins.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.InfluxDB.Token != "influx-secret" {
		t.Errorf("InfluxDB.Token not overridden from environment")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Device.AuthToken = validToken
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid defaults with token",
			mutate: func(_ *Config) {},
		},
		{
			name:    "token too short",
			mutate:  func(c *Config) { c.Device.AuthToken = "abc" },
			wantErr: "device.auth_token",
		},
		{
			name:    "empty host",
			mutate:  func(c *Config) { c.Server.Host = "" },
			wantErr: "server.host",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.MQTTPort = 70000 },
			wantErr: "server.mqtt_port",
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Server.Transport = "quic" },
			wantErr: "server.transport",
		},
		{
			name:    "negative reconnect attempts",
			mutate:  func(c *Config) { c.Server.MaxReconnectAttempts = -1 },
			wantErr: "max_reconnect_attempts",
		},
		{
			name:    "client cert without key",
			mutate:  func(c *Config) { c.Server.ClientCert = "/etc/vwire/client.pem" },
			wantErr: "client_key",
		},
		{
			name:    "uptime pin out of range",
			mutate:  func(c *Config) { c.Agent.UptimePin = 300 },
			wantErr: "agent.uptime_pin",
		},
		{
			name: "uptime pin without interval",
			mutate: func(c *Config) {
				c.Agent.UptimePin = 5
				c.Agent.UptimeInterval = 0
			},
			wantErr: "agent.uptime_interval",
		},
		{
			name:    "influxdb without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_HTTPHost(t *testing.T) {
	cfg := Default()
	if got := cfg.HTTPHost(); got != "mqtt.vwireiot.com" {
		t.Errorf("HTTPHost() = %q, want server host fallback", got)
	}

	cfg.HTTP.Host = "api.vwireiot.com"
	if got := cfg.HTTPHost(); got != "api.vwireiot.com" {
		t.Errorf("HTTPHost() = %q, want %q", got, "api.vwireiot.com")
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  120,
			},
		},
	}

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want %v", got, 30*time.Second)
	}
	if got := cfg.GetWriteTimeout(); got != 45*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want %v", got, 45*time.Second)
	}
	if got := cfg.GetIdleTimeout(); got != 120*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want %v", got, 120*time.Second)
	}
}
