package influxdb

import "errors"

var (
	// ErrDisabled is returned by Open when the influxdb section is off.
	ErrDisabled = errors.New("influxdb: disabled")

	// ErrPingFailed covers both an unreachable server and a non-2xx ping.
	ErrPingFailed = errors.New("influxdb: ping failed")

	// ErrClosed is returned by HealthCheck after Close.
	ErrClosed = errors.New("influxdb: recorder closed")

	// ErrWriteFailed wraps batch errors passed to the SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: batch write failed")
)
