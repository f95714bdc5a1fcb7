package mqtt

import "errors"

// Errors returned by the transport. Callers match them with errors.Is.
var (
	ErrNotConnected     = errors.New("mqtt: not connected")
	ErrConnectionFailed = errors.New("mqtt: connect failed")
	ErrTimeout          = errors.New("mqtt: timed out")

	// ErrNotAuthorized means the broker rejected the credentials. With
	// token auth that is a wrong or regenerated device token.
	ErrNotAuthorized = errors.New("mqtt: not authorized")

	// ErrCertificate means the broker's TLS certificate failed verification.
	ErrCertificate      = errors.New("mqtt: broker certificate rejected")
	ErrInvalidTLSConfig = errors.New("mqtt: unusable TLS files")

	ErrPublishFailed   = errors.New("mqtt: publish failed")
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")
	ErrInvalidQoS      = errors.New("mqtt: qos must be 0, 1 or 2")
	ErrInvalidTopic    = errors.New("mqtt: empty topic")
)
