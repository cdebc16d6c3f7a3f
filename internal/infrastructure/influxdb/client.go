package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/sqlbridge/internal/infrastructure/config"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
	pingTimeout          = 5 * time.Second
)

// Recorder writes statement and run points to one InfluxDB bucket.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Observe calls never block; points are batched and sent by the
//     client library's writer goroutine.
type Recorder struct {
	client influxdb2.Client
	writer api.WriteAPI

	closed  atomic.Bool
	mu      sync.RWMutex
	onError func(err error)
}

// Open pings the server within ctx and returns a Recorder writing to
// cfg.Org/cfg.Bucket. It returns ErrDisabled when the section is off.
func Open(ctx context.Context, cfg config.InfluxDBConfig) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, clientOptions(cfg))

	if _, err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrPingFailed, cfg.URL, err)
	}

	r := &Recorder{
		client: client,
		writer: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	go r.forwardErrors(r.writer.Errors())
	return r, nil
}

// clientOptions applies the batch settings, falling back to the defaults
// for unset values.
func clientOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize)
	}
	interval := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		interval = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(interval.Milliseconds()))
}

// forwardErrors hands batch failures to the SetOnError callback until the
// writer closes the channel.
func (r *Recorder) forwardErrors(errs <-chan error) {
	for err := range errs {
		r.mu.RLock()
		callback := r.onError
		r.mu.RUnlock()
		if callback != nil {
			callback(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// SetOnError sets the callback for batches the server rejects.
func (r *Recorder) SetOnError(callback func(err error)) {
	r.mu.Lock()
	r.onError = callback
	r.mu.Unlock()
}

// accepting reports whether observed points are still queued.
func (r *Recorder) accepting() bool {
	return r.writer != nil && !r.closed.Load()
}

// Close sends the points still batched and closes the client. Points
// observed afterwards are dropped.
func (r *Recorder) Close() error {
	if r.client == nil || r.closed.Swap(true) {
		return nil
	}
	r.writer.Flush()
	r.client.Close()
	return nil
}

// HealthCheck pings the server. It returns ErrClosed after Close.
func (r *Recorder) HealthCheck(ctx context.Context) error {
	if r.client == nil || r.closed.Load() {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if _, err := r.client.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrPingFailed, err)
	}
	return nil
}
