package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/vwireiot/vwire-go/internal/infrastructure/config"
)

const (
	connectPingTimeout = 10 * time.Second
	healthPingTimeout  = 5 * time.Second
)

// Client appends pin changes to an InfluxDB bucket. Points go through the
// library's batching write API, so recording never blocks on the network.
type Client struct {
	influx influxdb2.Client
	points api.WriteAPI
	device string

	closed    atomic.Bool
	closeOnce sync.Once
	stop      chan struct{}

	onError atomic.Pointer[func(error)]
}

// Connect pings the server at cfg.URL and returns a client tagging every
// point with device. It returns ErrDisabled when history is switched off.
func Connect(ctx context.Context, cfg config.InfluxDBConfig, device string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))
	if err := ping(ctx, influx, connectPingTimeout); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		influx: influx,
		points: influx.WriteAPI(cfg.Org, cfg.Bucket),
		device: device,
		stop:   make(chan struct{}),
	}
	go c.forwardErrors()
	return c, nil
}

// writeOptions maps the batch settings, falling back to 100 points or a
// 10 second flush.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch, flushSec := 100, 10
	if cfg.BatchSize > 0 {
		batch = cfg.BatchSize
	}
	if cfg.FlushInterval > 0 {
		flushSec = cfg.FlushInterval
	}
	// #nosec G115 -- both positive
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flushSec) * uint(time.Second/time.Millisecond))
}

func ping(ctx context.Context, influx influxdb2.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := influx.Ping(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("ping: %w", err)
	case !ok:
		return errors.New("ping: server reports unhealthy")
	}
	return nil
}

// forwardErrors hands batch write failures to the SetOnError callback.
func (c *Client) forwardErrors() {
	errs := c.points.Errors()
	for {
		select {
		case <-c.stop:
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			if fn := c.onError.Load(); fn != nil {
				(*fn)(fmt.Errorf("%w: %w", ErrWriteFailed, err))
			}
		}
	}
}

// SetOnError registers fn for asynchronous write failures. Failures are
// dropped while no callback is set.
func (c *Client) SetOnError(fn func(err error)) {
	if fn == nil {
		c.onError.Store(nil)
		return
	}
	c.onError.Store(&fn)
}

// IsConnected is true until Close.
func (c *Client) IsConnected() bool {
	return c != nil && !c.closed.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := ping(ctx, c.influx, healthPingTimeout); err != nil {
		return fmt.Errorf("influxdb health: %w", err)
	}
	return nil
}

// Flush writes buffered points now. It does nothing after Close.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.points.Flush()
	}
}

// Close writes what is buffered and releases the client. Later calls are
// no-ops.
func (c *Client) Close() error {
	if c == nil || c.influx == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.points.Flush()
		c.influx.Close()
		close(c.stop)
	})
	return nil
}
