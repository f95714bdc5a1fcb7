package influxdb

import "errors"

var (
	ErrDisabled         = errors.New("influxdb: history disabled")
	ErrConnectionFailed = errors.New("influxdb: connect failed")
	ErrNotConnected     = errors.New("influxdb: client closed")

	// ErrWriteFailed wraps batch failures reported through SetOnError.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
