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

	"github.com/nerrad567/sqlbridge/internal/infrastructure/config"
	"github.com/nerrad567/sqlbridge/internal/infrastructure/influxdb"
)

// fakeInflux answers the ping and write endpoints of the InfluxDB v2 API.
type fakeInflux struct {
	mu         sync.Mutex
	lines      []string
	pingStatus int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping", "/health":
		f.mu.Lock()
		status := f.pingStatus
		f.mu.Unlock()
		w.WriteHeader(status)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server
		f.mu.Lock()
		for _, line := range strings.Split(strings.TrimSpace(string(body)), "\n") {
			if line != "" {
				f.lines = append(f.lines, line)
			}
		}
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

// waitForLines polls until n lines have been written or a deadline passes.
func (f *fakeInflux) waitForLines(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		f.mu.Lock()
		lines := append([]string(nil), f.lines...)
		f.mu.Unlock()
		if len(lines) >= n || time.Now().After(deadline) {
			return lines
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// startFake starts a fake InfluxDB and returns a config pointing at it.
func startFake(t *testing.T) (*fakeInflux, config.InfluxDBConfig) {
	t.Helper()
	fake := &fakeInflux{pingStatus: http.StatusNoContent}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	return fake, config.InfluxDBConfig{
		Enabled:       true,
		URL:           srv.URL,
		Token:         "sqlbridge-test-token",
		Org:           "sqlbridge",
		Bucket:        "metrics",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func open(t *testing.T, cfg config.InfluxDBConfig) *influxdb.Recorder {
	t.Helper()
	rec, err := influxdb.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		rec.Close() //nolint:errcheck // Test cleanup
	})
	return rec
}

// =============================================================================
// Open Tests
// =============================================================================

func TestOpen_Errors(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	tests := []struct {
		name    string
		setup   func(f *fakeInflux, cfg *config.InfluxDBConfig)
		wantErr error
	}{
		{
			name:    "disabled",
			setup:   func(_ *fakeInflux, cfg *config.InfluxDBConfig) { cfg.Enabled = false },
			wantErr: influxdb.ErrDisabled,
		},
		{
			name:    "unreachable",
			setup:   func(_ *fakeInflux, cfg *config.InfluxDBConfig) { cfg.URL = deadURL },
			wantErr: influxdb.ErrPingFailed,
		},
		{
			name:    "not ready",
			setup:   func(f *fakeInflux, _ *config.InfluxDBConfig) { f.pingStatus = http.StatusServiceUnavailable },
			wantErr: influxdb.ErrPingFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, cfg := startFake(t)
			tt.setup(fake, &cfg)

			rec, err := influxdb.Open(context.Background(), cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Open() error = %v, want %v", err, tt.wantErr)
			}
			if rec != nil {
				t.Error("Open() returned a recorder alongside an error")
			}
		})
	}
}

func TestOpen_CancelledContext(t *testing.T) {
	_, cfg := startFake(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := influxdb.Open(ctx, cfg); !errors.Is(err, influxdb.ErrPingFailed) {
		t.Errorf("Open() error = %v, want ErrPingFailed", err)
	}
}

// =============================================================================
// Health Check Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	fake, cfg := startFake(t)
	rec := open(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rec.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	fake.mu.Lock()
	fake.pingStatus = http.StatusServiceUnavailable
	fake.mu.Unlock()

	if err := rec.HealthCheck(ctx); !errors.Is(err, influxdb.ErrPingFailed) {
		t.Errorf("HealthCheck() error = %v, want ErrPingFailed", err)
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	_, cfg := startFake(t)
	rec := open(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rec.HealthCheck(ctx); !errors.Is(err, influxdb.ErrPingFailed) {
		t.Errorf("HealthCheck() error = %v, want ErrPingFailed", err)
	}
}

// =============================================================================
// Observer Tests
// =============================================================================

func TestObserve_WritesPointsOnClose(t *testing.T) {
	fake, cfg := startFake(t)
	cfg.FlushInterval = 60

	rec, err := influxdb.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	rec.ObserveStatement("query", 3*time.Millisecond, 2, nil)
	rec.ObserveStatement("execute", time.Millisecond, 0, errors.New("no such table"))
	rec.ObserveRun("nightly", 10*time.Millisecond, nil)

	if err := rec.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	lines := fake.waitForLines(t, 3)
	if len(lines) != 3 {
		t.Fatalf("written lines = %v, want 3", lines)
	}

	wantPrefixes := []string{
		"sql_statements,mode=query,outcome=ok ",
		"sql_statements,mode=execute,outcome=error ",
		"script_runs,outcome=ok ",
	}
	for i, prefix := range wantPrefixes {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Errorf("line %d = %q, want prefix %q", i, lines[i], prefix)
		}
	}
	if !strings.Contains(lines[0], "rows=2i") {
		t.Errorf("line 0 = %q, want rows=2i", lines[0])
	}
	if !strings.Contains(lines[2], `script="nightly"`) {
		t.Errorf("line 2 = %q, want script name as a string field", lines[2])
	}
}

func TestObserve_FlushInterval(t *testing.T) {
	fake, cfg := startFake(t)
	rec := open(t, cfg)

	rec.ObserveRun("periodic", time.Millisecond, nil)

	lines := fake.waitForLines(t, 1)
	if len(lines) != 1 || !strings.Contains(lines[0], `script="periodic"`) {
		t.Errorf("written lines = %v, want the periodic run", lines)
	}
}

func TestSetOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/write" {
			http.Error(w, `{"code":"invalid","message":"bucket not found"}`, http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	_, cfg := startFake(t)
	cfg.URL = srv.URL
	rec := open(t, cfg)

	got := make(chan error, 1)
	rec.SetOnError(func(err error) {
		select {
		case got <- err:
		default:
		}
	})
	rec.ObserveRun("rejected", time.Millisecond, nil)

	select {
	case err := <-got:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("callback error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Timeout waiting for write error callback")
	}
}

// =============================================================================
// Close Tests
// =============================================================================

func TestClose(t *testing.T) {
	fake, cfg := startFake(t)
	cfg.FlushInterval = 60

	rec, err := influxdb.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	rec.ObserveRun("before-close", time.Millisecond, nil)

	if err := rec.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := rec.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrClosed) {
		t.Errorf("HealthCheck() after Close() error = %v, want ErrClosed", err)
	}

	// Points observed after Close are dropped.
	rec.ObserveRun("after-close", time.Millisecond, nil)
	rec.ObserveStatement("query", time.Millisecond, 1, nil)

	lines := fake.waitForLines(t, 2)
	if len(lines) != 1 || !strings.Contains(lines[0], `script="before-close"`) {
		t.Errorf("written lines = %v, want only before-close", lines)
	}
}

func TestRecorder_ZeroValue(t *testing.T) {
	rec := &influxdb.Recorder{}
	if err := rec.Close(); err != nil {
		t.Errorf("Close() on zero Recorder error = %v", err)
	}
	if err := rec.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrClosed) {
		t.Errorf("HealthCheck() on zero Recorder error = %v, want ErrClosed", err)
	}
	rec.ObserveRun("noop", time.Millisecond, nil)
	rec.ObserveStatement("query", time.Millisecond, 0, nil)
}
