package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vwireiot/vwire-go/vwire"
)

const (
	defaultTimeout = 10 * time.Second
	minTokenLength = 10
	pinsPath       = "/api/v1/device/pins"

	// maxErrorBody bounds how much of an error response is read into the error.
	maxErrorBody = 512
	// maxReadBody bounds a pin read response.
	maxReadBody = 64 << 10
)

// Client sends pin values over HTTPS. It holds no connection state and is
// safe for concurrent use.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the API root, e.g. "https://api.vwireiot.com".
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithServer builds the API root from host, port and scheme. Port 0 uses the
// scheme default.
func WithServer(host string, port int, useTLS bool) Option {
	return func(c *Client) { c.baseURL = baseURL(host, port, useTLS) }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates an HTTP client for a device token. Without options it targets
// the production API over HTTPS.
func New(token string, opts ...Option) (*Client, error) {
	if len(token) < minTokenLength {
		return nil, fmt.Errorf("%w: must be at least %d characters", ErrInvalidToken, minTokenLength)
	}

	c := &Client{
		token:      token,
		baseURL:    baseURL(vwire.DefaultServer, vwire.DefaultHTTPPort, true),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "vwire-http")
	return c, nil
}

// NewFromConfig targets the HTTP port of an SDK configuration. Plain
// transports use http, encrypted ones https.
func NewFromConfig(token string, cfg vwire.Config, opts ...Option) (*Client, error) {
	opts = append([]Option{WithServer(cfg.Server, cfg.HTTPPort, cfg.UseTLS())}, opts...)
	return New(token, opts...)
}

// BaseURL returns the API root requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// VirtualWrite writes one or more values to a pin. Several values are
// joined the same way the MQTT client joins them.
func (c *Client) VirtualWrite(ctx context.Context, pin int, values ...any) error {
	if pin < 0 || pin >= vwire.MaxVirtualPins {
		return fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}
	value, err := vwire.FormatValues(values...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}

	body := map[string]string{"value": value}
	resp, err := c.do(ctx, http.MethodPost, pinsPath+"/"+vwire.PinName(pin), body)
	if err != nil {
		return err
	}
	defer drain(resp)

	return checkStatus(resp)
}

// WriteBatch writes several pins in one request. Keys may be "V3", "v3"
// or "3". All keys are validated before anything is sent, and two keys
// naming the same pin are rejected.
func (c *Client) WriteBatch(ctx context.Context, values map[string]any) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidValue)
	}

	pins := make(map[string]string, len(values))
	keys := make(map[string][]string, len(values))
	var invalid []string
	for key, v := range values {
		pin, err := vwire.ParsePin(key)
		if err != nil {
			invalid = append(invalid, strconv.Quote(key))
			continue
		}
		value, err := vwire.FormatValues(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidValue, key, err)
		}
		name := vwire.PinName(pin)
		pins[name] = value
		keys[name] = append(keys[name], strconv.Quote(key))
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return fmt.Errorf("%w: %s", ErrInvalidPin, strings.Join(invalid, ", "))
	}
	for name, aliases := range keys {
		if len(aliases) > 1 {
			sort.Strings(aliases)
			return fmt.Errorf("%w: %s all name %s", ErrInvalidPin, strings.Join(aliases, ", "), name)
		}
	}

	resp, err := c.do(ctx, http.MethodPost, pinsPath, map[string]any{"pins": pins})
	if err != nil {
		return err
	}
	defer drain(resp)

	return checkStatus(resp)
}

// VirtualRead returns the server's current value of a pin.
func (c *Client) VirtualRead(ctx context.Context, pin int) (string, error) {
	if pin < 0 || pin >= vwire.MaxVirtualPins {
		return "", fmt.Errorf("%w: %d", ErrInvalidPin, pin)
	}

	resp, err := c.do(ctx, http.MethodGet, pinsPath+"/"+vwire.PinName(pin), nil)
	if err != nil {
		return "", err
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrPinNotFound, vwire.PinName(pin))
	}
	if err := checkStatus(resp); err != nil {
		return "", err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBody))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %w", ErrRequestFailed, err)
	}
	return decodeValue(data), nil
}

// do sends an authenticated request with an optional JSON body.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding body: %w", ErrRequestFailed, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed", "method", method, "path", path, "request_id", requestID, "error", err)
		return nil, fmt.Errorf("%w: %s %s: %w", ErrRequestFailed, method, path, err)
	}
	c.logger.Debug("request complete",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(start),
	)
	return resp, nil
}

// checkStatus maps non-2xx responses to sentinel errors.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrNotAuthorized, resp.StatusCode)
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if text := strings.TrimSpace(string(msg)); text != "" {
		return fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, text)
	}
	return fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
}

// decodeValue accepts {"value": ...} JSON or a plain text body.
func decodeValue(data []byte) string {
	var envelope struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Value == nil {
		return strings.TrimSpace(string(data))
	}
	var s string
	if err := json.Unmarshal(envelope.Value, &s); err == nil {
		return s
	}
	return string(envelope.Value)
}

// drain consumes and closes the body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func baseURL(host string, port int, useTLS bool) string {
	scheme, defaultPort := "http", 80
	if useTLS {
		scheme, defaultPort = "https", 443
	}
	if port == 0 || port == defaultPort {
		return scheme + "://" + host
	}
	return scheme + "://" + host + ":" + strconv.Itoa(port)
}
