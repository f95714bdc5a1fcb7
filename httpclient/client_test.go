package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vwireiot/vwire-go/vwire"
)

const testToken = "iot_test_token_AbCd1234"

// fakeAPI is an in-memory device API.
type fakeAPI struct {
	mu       sync.Mutex
	pins     map[string]string
	requests int
	batches  int
	lastID   string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAPI{pins: map[string]string{}}

	r := chi.NewRouter()
	r.Use(api.auth)
	r.Route("/api/v1/device/pins", func(r chi.Router) {
		r.Post("/", api.writeBatch)
		r.Post("/{pin}", api.write)
		r.Get("/{pin}", api.read)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return api, srv
}

func (a *fakeAPI) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.requests++
		a.lastID = r.Header.Get("X-Request-ID")
		a.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer "+testToken {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *fakeAPI) write(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	a.pins[chi.URLParam(r, "pin")] = body.Value
	a.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (a *fakeAPI) writeBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Pins map[string]string `json:"pins"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	a.batches++
	for k, v := range body.Pins {
		a.pins[k] = v
	}
	a.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (a *fakeAPI) read(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	v, ok := a.pins[chi.URLParam(r, "pin")]
	a.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"value": v})
}

func (a *fakeAPI) value(pin string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.pins[pin]
	return v, ok
}

func (a *fakeAPI) counts() (requests, batches int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests, a.batches
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(testToken, WithBaseURL(url), WithTimeout(5*time.Second))
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	_, err := New("short")
	assert.ErrorIs(t, err, ErrInvalidToken)

	c, err := New(testToken)
	require.NoError(t, err)
	assert.Equal(t, "https://mqtt.vwireiot.com", c.BaseURL())
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		host   string
		port   int
		tls    bool
		expect string
	}{
		{"api.vwireiot.com", 443, true, "https://api.vwireiot.com"},
		{"api.vwireiot.com", 0, true, "https://api.vwireiot.com"},
		{"api.vwireiot.com", 8443, true, "https://api.vwireiot.com:8443"},
		{"localhost", 3001, false, "http://localhost:3001"},
		{"localhost", 80, false, "http://localhost"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expect, baseURL(tt.host, tt.port, tt.tls))
	}
}

func TestNewFromConfig(t *testing.T) {
	c, err := NewFromConfig(testToken, vwire.DevelopmentConfig("192.168.1.100", 0))
	require.NoError(t, err)
	assert.Equal(t, "http://192.168.1.100:3001", c.BaseURL())

	c, err = NewFromConfig(testToken, vwire.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, "https://mqtt.vwireiot.com", c.BaseURL())
}

func TestVirtualWriteAndRead(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, c.VirtualWrite(ctx, 0, 25.5))
	v, ok := api.value("V0")
	require.True(t, ok)
	assert.Equal(t, "25.5", v)

	require.NoError(t, c.VirtualWrite(ctx, 7, 1, "two", true))
	v, _ = api.value("V7")
	assert.Equal(t, "1\x00two\x001", v)

	got, err := c.VirtualRead(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "25.5", got)
}

func TestRequestID(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := newTestClient(t, srv.URL)

	require.NoError(t, c.VirtualWrite(context.Background(), 1, 1))
	api.mu.Lock()
	id := api.lastID
	api.mu.Unlock()

	_, err := uuid.Parse(id)
	assert.NoError(t, err, "X-Request-ID must be a uuid")
}

func TestVirtualRead_NotFound(t *testing.T) {
	_, srv := newFakeAPI(t)
	c := newTestClient(t, srv.URL)

	_, err := c.VirtualRead(context.Background(), 42)
	assert.ErrorIs(t, err, ErrPinNotFound)
}

func TestWriteBatch(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := newTestClient(t, srv.URL)

	err := c.WriteBatch(context.Background(), map[string]any{
		"V0": 25.5,
		"v1": 60,
		"2":  false,
	})
	require.NoError(t, err)

	requests, batches := api.counts()
	assert.Equal(t, 1, requests)
	assert.Equal(t, 1, batches)

	for pin, want := range map[string]string{"V0": "25.5", "V1": "60", "V2": "0"} {
		got, ok := api.value(pin)
		assert.True(t, ok, pin)
		assert.Equal(t, want, got, pin)
	}
}

func TestWriteBatch_InvalidKeysSendNothing(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := newTestClient(t, srv.URL)

	err := c.WriteBatch(context.Background(), map[string]any{
		"V0":          1,
		"V300":        2,
		"temperature": 3,
	})
	require.ErrorIs(t, err, ErrInvalidPin)
	assert.Contains(t, err.Error(), `"V300"`)
	assert.Contains(t, err.Error(), `"temperature"`)

	requests, _ := api.counts()
	assert.Equal(t, 0, requests)

	assert.ErrorIs(t, c.WriteBatch(context.Background(), nil), ErrInvalidValue)
}

func TestWriteBatch_AliasedKeysSendNothing(t *testing.T) {
	api, srv := newFakeAPI(t)
	c := newTestClient(t, srv.URL)

	err := c.WriteBatch(context.Background(), map[string]any{
		"V3": "a",
		"3":  "b",
		"V4": "c",
	})
	require.ErrorIs(t, err, ErrInvalidPin)
	assert.Contains(t, err.Error(), `"3", "V3" all name V3`)

	requests, _ := api.counts()
	assert.Equal(t, 0, requests)
	_, ok := api.value("V4")
	assert.False(t, ok)
}

func TestValidation(t *testing.T) {
	_, srv := newFakeAPI(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	assert.ErrorIs(t, c.VirtualWrite(ctx, -1, 1), ErrInvalidPin)
	assert.ErrorIs(t, c.VirtualWrite(ctx, 256, 1), ErrInvalidPin)
	assert.ErrorIs(t, c.VirtualWrite(ctx, 1), ErrInvalidValue)
	_, err := c.VirtualRead(ctx, 999)
	assert.ErrorIs(t, err, ErrInvalidPin)
}

func TestNotAuthorized(t *testing.T) {
	_, srv := newFakeAPI(t)
	c, err := New("iot_wrong_token_123", WithBaseURL(srv.URL))
	require.NoError(t, err)

	assert.ErrorIs(t, c.VirtualWrite(context.Background(), 0, 1), ErrNotAuthorized)
	_, err = c.VirtualRead(context.Background(), 0)
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusForbidden, ErrNotAuthorized},
		{http.StatusBadRequest, ErrRequestFailed},
		{http.StatusTooManyRequests, ErrRequestFailed},
		{http.StatusInternalServerError, ErrRequestFailed},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			err := c.VirtualWrite(context.Background(), 0, 1)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url)
	assert.ErrorIs(t, c.VirtualWrite(context.Background(), 0, 1), ErrRequestFailed)
}

func TestContextCancelled(t *testing.T) {
	_, srv := newFakeAPI(t)
	c := newTestClient(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.VirtualWrite(ctx, 0, 1)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeValue(t *testing.T) {
	assert.Equal(t, "25.5", decodeValue([]byte(`{"value":"25.5"}`)))
	assert.Equal(t, "25.5", decodeValue([]byte(`{"value":25.5}`)))
	assert.Equal(t, "on", decodeValue([]byte("on\n")))
	assert.Equal(t, `{"other":1}`, decodeValue([]byte(`{"other":1}`)))
}
