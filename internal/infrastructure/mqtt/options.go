package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vwireiot/vwire-go/internal/infrastructure/config"
)

const (
	defaultConnectTimeout    = 30 * time.Second
	defaultKeepAlive         = 60 * time.Second
	defaultReconnectInterval = 5 * time.Second

	// ackTimeout bounds the wait for PUBACK, SUBACK and UNSUBACK.
	ackTimeout = 5 * time.Second

	// disconnectQuiesceMs is handed to paho's Disconnect, in milliseconds.
	disconnectQuiesceMs = 250

	wsPath             = "/mqtt"
	protocolVersion311 = 4
	maxQoS             = 2
	tlsMinVersion      = tls.VersionTLS12
)

// brokerScheme maps a configured transport to the paho URL scheme.
func brokerScheme(transport string) (scheme string, secure bool, websocket bool, err error) {
	switch transport {
	case config.TransportTCPTLS, "":
		return "ssl", true, false, nil
	case config.TransportTCP:
		return "tcp", false, false, nil
	case config.TransportWebSocketTLS:
		return "wss", true, true, nil
	case config.TransportWebSocket:
		return "ws", false, true, nil
	default:
		return "", false, false, fmt.Errorf("%w: unknown transport %q", ErrConnectionFailed, transport)
	}
}

// BrokerURL returns the paho broker URL for the given broker settings.
//
// Example: ssl://mqtt.vwireiot.com:8883, wss://mqtt.vwireiot.com:443/mqtt
func BrokerURL(b config.MQTTBrokerConfig) (string, error) {
	scheme, _, websocket, err := brokerScheme(b.Transport)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
	if websocket {
		path := b.Path
		if path == "" {
			path = wsPath
		}
		url += path
	}
	return url, nil
}

// buildClientOptions translates cfg into paho options. Only established
// connections are retried; a failed first dial goes back to the caller.
func buildClientOptions(cfg config.MQTTConfig) (*pahomqtt.ClientOptions, error) {
	brokerURL, err := BrokerURL(cfg.Broker)
	if err != nil {
		return nil, err
	}
	_, secure, _, _ := brokerScheme(cfg.Broker.Transport) //nolint:errcheck // validated by BrokerURL

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(cfg.Broker.ClientID)
	opts.SetProtocolVersion(protocolVersion311)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)

	// Handlers run on their own goroutines so a user callback that publishes
	// (and waits for the ack) cannot stall the network loop.
	opts.SetOrderMatters(false)

	reconnect := cfg.Reconnect.Interval
	if reconnect <= 0 {
		reconnect = defaultReconnectInterval
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(reconnect)

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	opts.SetConnectTimeout(connectTimeout)

	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if secure {
		tlsConfig, err := buildTLSConfig(cfg.TLS, cfg.Broker.Host)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts, nil
}

// buildTLSConfig creates the TLS configuration for ssl:// and wss:// brokers.
//
// A CA file replaces the system roots; a client certificate enables mutual
// TLS. InsecureSkipVerify is the explicit opt-out for self-signed brokers.
func buildTLSConfig(cfg config.MQTTTLSConfig, serverName string) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tlsMinVersion,
		ServerName: serverName,
		// #nosec G402 -- only set when the user disabled verification
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: reading CA file: %w", ErrInvalidTLSConfig, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates found in %s", ErrInvalidTLSConfig, cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: loading client certificate: %w", ErrInvalidTLSConfig, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
