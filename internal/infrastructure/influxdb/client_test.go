package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/vwireiot/vwire-go/internal/infrastructure/config"
	"github.com/vwireiot/vwire-go/internal/infrastructure/influxdb"
	"github.com/vwireiot/vwire-go/vwire"
)

// fakeInflux answers /ping and records line protocol posted to /api/v2/write.
type fakeInflux struct {
	mu          sync.Mutex
	lines       []string
	writeStatus int
}

func newFakeInflux(t *testing.T) (*fakeInflux, *httptest.Server) {
	t.Helper()
	f := &fakeInflux{writeStatus: http.StatusNoContent}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			status := f.writeStatus
			if status == http.StatusNoContent {
				f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
			}
			f.mu.Unlock()
			if status != http.StatusNoContent {
				http.Error(w, `{"code":"invalid","message":"bad point"}`, status)
				return
			}
			w.WriteHeader(status)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeInflux) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "vwire-dev-token",
		Org:           "vwire",
		Bucket:        "pins",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:8086")
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg, "dev")
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(context.Background(), testConfig(url), "dev")
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	_, srv := newFakeInflux(t)
	cfg := testConfig(srv.URL)
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(context.Background(), cfg, "dev")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestRecordPin(t *testing.T) {
	fake, srv := newFakeInflux(t)

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL), "greenhouse")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ts := time.Unix(1767268800, 0)
	client.RecordPin(vwire.PinValue{Pin: 0, Value: "23.5", Timestamp: ts, Source: vwire.SourceDevice})
	client.RecordPin(vwire.PinValue{Pin: 4, Value: "on", Timestamp: ts, Source: vwire.SourceServer})
	client.Flush()

	deadline := time.Now().Add(5 * time.Second)
	for len(fake.received()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	lines := fake.received()
	if len(lines) != 2 {
		t.Fatalf("received %d lines, want 2: %q", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "pin_values,device=greenhouse,pin=V0,source=device ") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[0], "numeric=23.5") {
		t.Errorf("line 0 missing numeric field: %q", lines[0])
	}
	if strings.Contains(lines[1], "numeric=") {
		t.Errorf("non-numeric value got a numeric field: %q", lines[1])
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	// Dropped after close.
	client.RecordPin(vwire.PinValue{Pin: 1, Value: "1", Timestamp: ts})
	client.Flush()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestRecordPin_WriteErrorCallback(t *testing.T) {
	fake, srv := newFakeInflux(t)
	fake.writeStatus = http.StatusBadRequest

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL), "dev")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	errCh := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.RecordPin(vwire.PinValue{Pin: 0, Value: "1", Timestamp: time.Now()})
	client.Flush()

	select {
	case err := <-errCh:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write error callback not invoked")
	}
}

func TestPinPoint(t *testing.T) {
	ts := time.Unix(1767268800, 0)

	tests := []struct {
		name    string
		pv      vwire.PinValue
		want    []string
		notWant string
	}{
		{
			name: "numeric",
			pv:   vwire.PinValue{Pin: 0, Value: "23.5", Timestamp: ts, Source: vwire.SourceDevice},
			want: []string{"pin_values,device=dev,pin=V0,source=device", "numeric=23.5", `value="23.5"`, "1767268800000000000"},
		},
		{
			name:    "text",
			pv:      vwire.PinValue{Pin: 12, Value: "hello", Timestamp: ts, Source: vwire.SourceServer},
			want:    []string{"pin=V12", "source=server", `value="hello"`},
			notWant: "numeric=",
		},
		{
			name: "multi value uses first part",
			pv:   vwire.PinValue{Pin: 3, Value: "1.5\x00abc", Timestamp: ts, Source: vwire.SourceDevice},
			want: []string{"numeric=1.5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := write.PointToLineProtocol(influxdb.PinPoint("dev", tt.pv), time.Nanosecond)
			for _, s := range tt.want {
				if !strings.Contains(line, s) {
					t.Errorf("line %q missing %q", line, s)
				}
			}
			if tt.notWant != "" && strings.Contains(line, tt.notWant) {
				t.Errorf("line %q should not contain %q", line, tt.notWant)
			}
		})
	}
}
