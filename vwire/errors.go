package vwire

import "errors"

// Errors returned by the client. Use errors.Is to check for them; most are
// wrapped with the underlying cause.
var (
	// ErrInvalidToken is returned by New for empty or too short tokens.
	ErrInvalidToken = errors.New("vwire: invalid auth token")

	// ErrInvalidPin is returned for pins outside V0-V255.
	ErrInvalidPin = errors.New("vwire: invalid virtual pin")

	// ErrInvalidValue is returned when a write carries no value.
	ErrInvalidValue = errors.New("vwire: invalid pin value")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("vwire: invalid configuration")

	// ErrNotConnected is returned when publishing without a live connection.
	ErrNotConnected = errors.New("vwire: not connected")

	// ErrNotAuthorized means the broker refused the token. Check that the
	// token is correct and has not been regenerated in the dashboard.
	ErrNotAuthorized = errors.New("vwire: not authorized")

	// ErrConnectTimeout means no connection was established in time,
	// usually a network or firewall problem.
	ErrConnectTimeout = errors.New("vwire: connection timeout")

	// ErrCertificate means TLS verification failed. Config.VerifySSL=false
	// disables verification (insecure).
	ErrCertificate = errors.New("vwire: certificate verification failed")

	// ErrConnectionFailed covers every other connection failure.
	ErrConnectionFailed = errors.New("vwire: connection failed")

	// ErrPublishFailed is returned when the broker did not accept a message.
	ErrPublishFailed = errors.New("vwire: publish failed")

	// ErrAlreadyRunning is returned by Run when another Run is active.
	ErrAlreadyRunning = errors.New("vwire: already running")
)
