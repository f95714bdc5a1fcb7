package vwire

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vwireiot/vwire-go/internal/infrastructure/config"
	"github.com/vwireiot/vwire-go/internal/infrastructure/mqtt"
)

// Transport selects how the client reaches the broker.
type Transport string

// Supported transports.
const (
	// TransportTCPTLS is MQTT over TLS, port 8883. Recommended.
	TransportTCPTLS Transport = config.TransportTCPTLS
	// TransportTCP is plain MQTT, port 1883. Development only.
	TransportTCP Transport = config.TransportTCP
	// TransportWebSocketTLS is MQTT over secure WebSocket, port 443.
	TransportWebSocketTLS Transport = config.TransportWebSocketTLS
	// TransportWebSocket is MQTT over plain WebSocket, port 80. Development only.
	TransportWebSocket Transport = config.TransportWebSocket
)

// ParseTransport converts a transport name ("tcp_tls", "tcp", "wss", "ws").
func ParseTransport(s string) (Transport, error) {
	switch t := Transport(strings.ToLower(strings.TrimSpace(s))); t {
	case TransportTCPTLS, TransportTCP, TransportWebSocketTLS, TransportWebSocket:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, s)
	}
}

// Default connection settings.
const (
	DefaultServer            = "mqtt.vwireiot.com"
	DefaultMQTTPort          = 8883
	DefaultHTTPPort          = 443
	DefaultKeepalive         = 60 * time.Second
	DefaultReconnectInterval = 5 * time.Second
	DefaultConnectTimeout    = 30 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second

	developmentHTTPPort = 3001
)

// Config holds the connection settings of a Client. It is a plain value:
// presets return fresh copies and the client keeps its own.
type Config struct {
	Server   string
	MQTTPort int
	// HTTPPort is used by the HTTP fallback client.
	HTTPPort  int
	Transport Transport

	Keepalive         time.Duration
	ReconnectInterval time.Duration
	// MaxReconnectAttempts stops reconnecting after this many failures.
	// 0 retries forever.
	MaxReconnectAttempts int
	ConnectTimeout       time.Duration

	VerifySSL  bool
	CACerts    string
	ClientCert string
	ClientKey  string

	// HeartbeatInterval is the period of heartbeat messages sent while Run
	// is active. 0 disables them.
	HeartbeatInterval time.Duration
	Debug             bool
}

// DefaultConfig returns the production configuration: MQTT over TLS with
// certificate verification.
func DefaultConfig() Config {
	return Config{
		Server:            DefaultServer,
		MQTTPort:          DefaultMQTTPort,
		HTTPPort:          DefaultHTTPPort,
		Transport:         TransportTCPTLS,
		Keepalive:         DefaultKeepalive,
		ReconnectInterval: DefaultReconnectInterval,
		ConnectTimeout:    DefaultConnectTimeout,
		VerifySSL:         true,
		HeartbeatInterval: DefaultHeartbeatInterval,
	}
}

// DevelopmentConfig returns an insecure configuration for a local broker.
// Data is sent unencrypted; do not use it in production.
// Empty server and zero port mean localhost:1883.
func DevelopmentConfig(server string, port int) Config {
	if server == "" {
		server = "localhost"
	}
	if port == 0 {
		port = 1883
	}
	cfg := DefaultConfig()
	cfg.Server = server
	cfg.MQTTPort = port
	cfg.HTTPPort = developmentHTTPPort
	cfg.Transport = TransportTCP
	cfg.VerifySSL = false
	cfg.Debug = true
	return cfg
}

// WebSocketConfig returns a configuration using MQTT over secure WebSocket,
// for networks where the MQTT ports are blocked.
// Empty server and zero port mean the production server on 443.
func WebSocketConfig(server string, port int) Config {
	if server == "" {
		server = DefaultServer
	}
	if port == 0 {
		port = 443
	}
	cfg := DefaultConfig()
	cfg.Server = server
	cfg.MQTTPort = port
	cfg.Transport = TransportWebSocketTLS
	cfg.VerifySSL = true
	return cfg
}

// CustomConfig builds a configuration from explicit transport flags.
func CustomConfig(server string, port int, useTLS, useWebSocket, verifySSL bool) Config {
	cfg := DefaultConfig()
	cfg.Server = server
	cfg.MQTTPort = port
	switch {
	case useWebSocket && useTLS:
		cfg.Transport = TransportWebSocketTLS
	case useWebSocket:
		cfg.Transport = TransportWebSocket
	case useTLS:
		cfg.Transport = TransportTCPTLS
	default:
		cfg.Transport = TransportTCP
	}
	cfg.VerifySSL = verifySSL
	return cfg
}

// UseTLS reports whether the transport is encrypted.
func (c Config) UseTLS() bool {
	return c.Transport == TransportTCPTLS || c.Transport == TransportWebSocketTLS
}

// UseWebSocket reports whether the transport is WebSocket based.
func (c Config) UseWebSocket() bool {
	return c.Transport == TransportWebSocket || c.Transport == TransportWebSocketTLS
}

// BrokerURL returns the broker URL, e.g. ssl://mqtt.vwireiot.com:8883.
func (c Config) BrokerURL() string {
	url, err := mqtt.BrokerURL(config.MQTTBrokerConfig{
		Host:      c.Server,
		Port:      c.MQTTPort,
		Transport: string(c.Transport),
	})
	if err != nil {
		return ""
	}
	return url
}

// String describes the configuration without secrets.
func (c Config) String() string {
	ws := "TCP"
	if c.UseWebSocket() {
		ws = "WebSocket"
	}
	security := "insecure"
	if c.UseTLS() {
		security = "TLS"
	}
	return fmt.Sprintf("Config(%s:%d, %s, %s)", c.Server, c.MQTTPort, ws, security)
}

// Validate checks the configuration and reports every problem found.
func (c Config) Validate() error {
	var errs []error

	if c.Server == "" {
		errs = append(errs, errors.New("server is required"))
	}
	if c.MQTTPort < 1 || c.MQTTPort > 65535 {
		errs = append(errs, fmt.Errorf("mqtt port %d out of range", c.MQTTPort))
	}
	if _, err := ParseTransport(string(c.Transport)); err != nil {
		errs = append(errs, fmt.Errorf("transport %q is not supported", c.Transport))
	}
	if c.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("max reconnect attempts must not be negative"))
	}
	if c.Keepalive < 0 || c.ReconnectInterval < 0 || c.ConnectTimeout < 0 || c.HeartbeatInterval < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if (c.ClientCert == "") != (c.ClientKey == "") {
		errs = append(errs, errors.New("client cert and key must be set together"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// mqttConfig derives the transport settings for a device token.
func (c Config) mqttConfig(token, clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:      c.Server,
			Port:      c.MQTTPort,
			Transport: string(c.Transport),
			ClientID:  clientID,
		},
		Auth: config.MQTTAuthConfig{
			Username: token,
			Password: token,
		},
		TLS: config.MQTTTLSConfig{
			InsecureSkipVerify: !c.VerifySSL,
			CAFile:             c.CACerts,
			CertFile:           c.ClientCert,
			KeyFile:            c.ClientKey,
		},
		KeepAlive: c.Keepalive,
		Reconnect: config.MQTTReconnectConfig{
			Interval:    c.ReconnectInterval,
			MaxAttempts: c.MaxReconnectAttempts,
		},
		ConnectTimeout: c.ConnectTimeout,
	}
}
