package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted in server.transport.
const (
	TransportTCPTLS       = "tcp_tls"
	TransportTCP          = "tcp"
	TransportWebSocketTLS = "wss"
	TransportWebSocket    = "ws"
)

// Config is the root configuration structure for the Vwire device agent.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Server    ServerConfig    `yaml:"server"`
	HTTP      HTTPConfig      `yaml:"http"`
	Agent     AgentConfig     `yaml:"agent"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DeviceConfig identifies the device towards the Vwire cloud.
type DeviceConfig struct {
	AuthToken string `yaml:"auth_token"`
	Name      string `yaml:"name"`
}

// ServerConfig contains the MQTT connection settings for the Vwire cloud.
type ServerConfig struct {
	Host                 string `yaml:"host"`
	MQTTPort             int    `yaml:"mqtt_port"`
	HTTPPort             int    `yaml:"http_port"`
	Transport            string `yaml:"transport"`
	Keepalive            int    `yaml:"keepalive"`
	ReconnectInterval    int    `yaml:"reconnect_interval"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	ConnectTimeout       int    `yaml:"connect_timeout"`
	VerifySSL            bool   `yaml:"verify_ssl"`
	CACerts              string `yaml:"ca_certs"`
	ClientCert           string `yaml:"client_cert"`
	ClientKey            string `yaml:"client_key"`
	HeartbeatInterval    int    `yaml:"heartbeat_interval"`
	Debug                bool   `yaml:"debug"`
}

// HTTPConfig contains settings for the stateless HTTP fallback client.
// An empty host falls back to server.host.
type HTTPConfig struct {
	Host    string `yaml:"host"`
	TLS     bool   `yaml:"tls"`
	Timeout int    `yaml:"timeout"`
}

// AgentConfig contains behaviour of the long-running agent.
type AgentConfig struct {
	// UptimePin publishes the agent uptime in seconds to this virtual pin.
	// A negative value disables it.
	UptimePin      int  `yaml:"uptime_pin"`
	UptimeInterval int  `yaml:"uptime_interval"`
	SyncOnConnect  bool `yaml:"sync_on_connect"`
}

// APIConfig contains the local HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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
}

// WebSocketConfig contains settings for the local pin event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// DatabaseConfig contains SQLite settings for the pin cache and outbox.
// An empty path disables persistence.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for pin history.
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

// MQTTConfig is the transport-level configuration consumed by the MQTT
// infrastructure client. It is derived from the SDK configuration rather
// than read from YAML directly.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig
	Auth      MQTTAuthConfig
	TLS       MQTTTLSConfig
	KeepAlive time.Duration
	Reconnect MQTTReconnectConfig
	// ConnectTimeout bounds a single network connection attempt.
	ConnectTimeout time.Duration
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host      string
	Port      int
	Transport string
	// Path is the HTTP path used for WebSocket transports.
	Path     string
	ClientID string
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string
	Password string
}

// MQTTTLSConfig contains TLS material for secure transports.
type MQTTTLSConfig struct {
	InsecureSkipVerify bool
	CAFile             string
	CertFile           string
	KeyFile            string
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	Interval time.Duration
	// MaxAttempts stops reconnecting after this many failed attempts. 0 means unlimited.
	MaxAttempts int
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: VWIRE_SECTION_KEY
// For example: VWIRE_AUTH_TOKEN, VWIRE_SERVER_HOST
func Load(path string) (*Config, error) {
	cfg := Default()

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

// Default returns a Config with production defaults (MQTT over TLS).
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name: "vwire-agent",
		},
		Server: ServerConfig{
			Host:              "mqtt.vwireiot.com",
			MQTTPort:          8883,
			HTTPPort:          443,
			Transport:         TransportTCPTLS,
			Keepalive:         60,
			ReconnectInterval: 5,
			ConnectTimeout:    30,
			VerifySSL:         true,
			HeartbeatInterval: 10,
		},
		HTTP: HTTPConfig{
			TLS:     true,
			Timeout: 10,
		},
		Agent: AgentConfig{
			UptimePin:      -1,
			UptimeInterval: 60,
			SyncOnConnect:  true,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8181,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Database: DatabaseConfig{
			Path:        "./data/vwire.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VWIRE_AUTH_TOKEN"); v != "" {
		cfg.Device.AuthToken = v
	}
	if v := os.Getenv("VWIRE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("VWIRE_SERVER_TRANSPORT"); v != "" {
		cfg.Server.Transport = v
	}
	if v := os.Getenv("VWIRE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("VWIRE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// minTokenLength matches the check performed by the SDK client.
const minTokenLength = 10

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Device.AuthToken) < minTokenLength {
		errs = append(errs, "device.auth_token is required (set VWIRE_AUTH_TOKEN environment variable)")
	}

	if c.Server.Host == "" {
		errs = append(errs, "server.host is required")
	}
	if c.Server.MQTTPort < 1 || c.Server.MQTTPort > 65535 {
		errs = append(errs, "server.mqtt_port must be between 1 and 65535")
	}
	switch c.Server.Transport {
	case TransportTCPTLS, TransportTCP, TransportWebSocketTLS, TransportWebSocket:
	default:
		errs = append(errs, "server.transport must be one of tcp_tls, tcp, wss, ws")
	}
	if c.Server.MaxReconnectAttempts < 0 {
		errs = append(errs, "server.max_reconnect_attempts must not be negative")
	}
	if (c.Server.ClientCert == "") != (c.Server.ClientKey == "") {
		errs = append(errs, "server.client_cert and server.client_key must be set together")
	}

	if c.Agent.UptimePin > 255 {
		errs = append(errs, "agent.uptime_pin must be between 0 and 255 (negative disables)")
	}
	if c.Agent.UptimePin >= 0 && c.Agent.UptimeInterval <= 0 {
		errs = append(errs, "agent.uptime_interval must be positive")
	}

	if c.API.Enabled && (c.API.Port < 0 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 0 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// HTTPHost returns the host used by the HTTP fallback client.
func (c *Config) HTTPHost() string {
	if c.HTTP.Host != "" {
		return c.HTTP.Host
	}
	return c.Server.Host
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
