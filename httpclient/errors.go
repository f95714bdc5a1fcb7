package httpclient

import "errors"

// Sentinel errors for the HTTP fallback client.
var (
	// ErrInvalidToken is returned by New for a missing or short token.
	ErrInvalidToken = errors.New("httpclient: invalid device token")

	// ErrInvalidPin is returned for pin numbers or batch keys outside V0-V255.
	ErrInvalidPin = errors.New("httpclient: invalid pin")

	// ErrInvalidValue is returned when no value is given.
	ErrInvalidValue = errors.New("httpclient: invalid value")

	// ErrNotAuthorized is returned for 401 and 403 responses.
	ErrNotAuthorized = errors.New("httpclient: not authorized")

	// ErrPinNotFound is returned when reading a pin the server has no value for.
	ErrPinNotFound = errors.New("httpclient: pin not found")

	// ErrRequestFailed is returned for transport failures and other non-2xx responses.
	ErrRequestFailed = errors.New("httpclient: request failed")
)
