package mqtt

import (
	"crypto/tls"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vwireiot/vwire-go/internal/infrastructure/config"
)

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		name      string
		broker    config.MQTTBrokerConfig
		want      string
		wantError bool
	}{
		{
			name:   "tls",
			broker: config.MQTTBrokerConfig{Host: "mqtt.vwireiot.com", Port: 8883, Transport: config.TransportTCPTLS},
			want:   "ssl://mqtt.vwireiot.com:8883",
		},
		{
			name:   "empty transport defaults to tls",
			broker: config.MQTTBrokerConfig{Host: "mqtt.vwireiot.com", Port: 8883},
			want:   "ssl://mqtt.vwireiot.com:8883",
		},
		{
			name:   "plain tcp",
			broker: config.MQTTBrokerConfig{Host: "localhost", Port: 1883, Transport: config.TransportTCP},
			want:   "tcp://localhost:1883",
		},
		{
			name:   "secure websocket default path",
			broker: config.MQTTBrokerConfig{Host: "mqtt.vwireiot.com", Port: 443, Transport: config.TransportWebSocketTLS},
			want:   "wss://mqtt.vwireiot.com:443/mqtt",
		},
		{
			name:   "websocket custom path",
			broker: config.MQTTBrokerConfig{Host: "localhost", Port: 9001, Transport: config.TransportWebSocket, Path: "/ws"},
			want:   "ws://localhost:9001/ws",
		},
		{
			name:      "unknown transport",
			broker:    config.MQTTBrokerConfig{Host: "localhost", Port: 1883, Transport: "quic"},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BrokerURL(tt.broker)
			if tt.wantError {
				if err == nil {
					t.Fatalf("BrokerURL() = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("BrokerURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("BrokerURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:      "localhost",
			Port:      1883,
			Transport: config.TransportTCP,
			ClientID:  "vwire-go-test",
		},
		Auth: config.MQTTAuthConfig{
			Username: "iot_test_token_0123456789",
			Password: "iot_test_token_0123456789",
		},
		KeepAlive: 30 * time.Second,
		Reconnect: config.MQTTReconnectConfig{Interval: 2 * time.Second},
	}

	opts, err := buildClientOptions(cfg)
	if err != nil {
		t.Fatalf("buildClientOptions() error = %v", err)
	}

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://localhost:1883" {
		t.Errorf("Servers = %v, want tcp://localhost:1883", opts.Servers)
	}
	if opts.ClientID != "vwire-go-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != cfg.Auth.Username || opts.Password != cfg.Auth.Password {
		t.Error("credentials not applied")
	}
	if opts.ProtocolVersion != protocolVersion311 {
		t.Errorf("ProtocolVersion = %d, want %d", opts.ProtocolVersion, protocolVersion311)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}
	if opts.ConnectRetry {
		t.Error("ConnectRetry = true, want false")
	}
	if opts.MaxReconnectInterval != 2*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 2s", opts.MaxReconnectInterval)
	}
	if opts.KeepAlive != 30 {
		t.Errorf("KeepAlive = %d, want 30", opts.KeepAlive)
	}
	if opts.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("ConnectTimeout = %v, want %v", opts.ConnectTimeout, defaultConnectTimeout)
	}
	if opts.TLSConfig != nil && opts.TLSConfig.ServerName != "" {
		t.Error("TLS configured for plain tcp transport")
	}
}

func TestBuildClientOptions_TLS(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:      "mqtt.vwireiot.com",
			Port:      443,
			Transport: config.TransportWebSocketTLS,
		},
		TLS: config.MQTTTLSConfig{InsecureSkipVerify: true},
	}

	opts, err := buildClientOptions(cfg)
	if err != nil {
		t.Fatalf("buildClientOptions() error = %v", err)
	}
	if opts.TLSConfig == nil {
		t.Fatal("TLSConfig = nil for wss transport")
	}
	if !opts.TLSConfig.InsecureSkipVerify {
		t.Error("InsecureSkipVerify not applied")
	}
	if opts.TLSConfig.ServerName != "mqtt.vwireiot.com" {
		t.Errorf("ServerName = %q", opts.TLSConfig.ServerName)
	}
	if opts.TLSConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2", opts.TLSConfig.MinVersion)
	}
}

func TestBuildTLSConfig_BadFiles(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(garbage, []byte("not a certificate"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cfg  config.MQTTTLSConfig
	}{
		{name: "missing CA file", cfg: config.MQTTTLSConfig{CAFile: filepath.Join(dir, "missing.pem")}},
		{name: "CA without certificates", cfg: config.MQTTTLSConfig{CAFile: garbage}},
		{name: "client cert without key", cfg: config.MQTTTLSConfig{CertFile: garbage}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildTLSConfig(tt.cfg, "localhost")
			if !errors.Is(err, ErrInvalidTLSConfig) {
				t.Errorf("buildTLSConfig() error = %v, want ErrInvalidTLSConfig", err)
			}
		})
	}
}
