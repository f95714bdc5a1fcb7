package vwire

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxVirtualPins is the number of addressable virtual pins (V0-V255).
const MaxVirtualPins = 256

// Digital pin levels.
const (
	Low  = 0
	High = 1
)

// valueSeparator joins multi-value writes.
const valueSeparator = "\x00"

// Source tells where a cached pin value came from.
type Source string

// Pin value sources.
const (
	SourceDevice Source = "device" // written by this client
	SourceServer Source = "server" // received from the dashboard
)

// PinValue is the last known value of a virtual pin.
type PinValue struct {
	Pin       int       `json:"pin"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
}

// Name returns the pin name, e.g. "V5".
func (p PinValue) Name() string {
	return PinName(p.Pin)
}

// Values splits a multi-value write into its parts.
func (p PinValue) Values() []string {
	return strings.Split(p.Value, valueSeparator)
}

// Int parses the value as an integer. Decimal values are truncated.
func (p PinValue) Int() (int, error) {
	if n, err := strconv.Atoi(strings.TrimSpace(p.Value)); err == nil {
		return n, nil
	}
	f, err := p.Float()
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// Float parses the value as a float.
func (p PinValue) Float() (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(p.Value), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, p.Value)
	}
	return f, nil
}

// Bool interprets "1", "true", "on" (any case) as true and "0", "false",
// "off" or "" as false.
func (p PinValue) Bool() (bool, error) {
	switch strings.ToLower(strings.TrimSpace(p.Value)) {
	case "1", "true", "on":
		return true, nil
	case "0", "false", "off", "":
		return false, nil
	}
	f, err := p.Float()
	if err != nil {
		return false, err
	}
	return f != 0, nil
}

// PinName formats a pin number as "V<n>".
func PinName(pin int) string {
	return "V" + strconv.Itoa(pin)
}

// ParsePin accepts "V12", "v12" or "12" and returns the pin number.
func ParsePin(s string) (int, error) {
	name := strings.TrimSpace(s)
	if len(name) > 0 && (name[0] == 'V' || name[0] == 'v') {
		name = name[1:]
	}
	pin, err := strconv.Atoi(name)
	if err != nil || name == "" || name[0] == '+' || name[0] == '-' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPin, s)
	}
	if err := validatePin(pin); err != nil {
		return 0, err
	}
	return pin, nil
}

// parseTopicPin reads the pin segment of an inbound topic. Only the exact
// forms "V12" and "12" are accepted.
func parseTopicPin(s string) (int, error) {
	digits := strings.TrimPrefix(s, "V")
	if digits == "" || len(digits) > 1 && digits[0] == '0' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPin, s)
	}
	pin := 0
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPin, s)
		}
		pin = pin*10 + int(r-'0')
		if pin >= MaxVirtualPins {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPin, s)
		}
	}
	return pin, nil
}

func validatePin(pin int) error {
	if pin < 0 || pin >= MaxVirtualPins {
		return fmt.Errorf("%w: %d (must be 0-%d)", ErrInvalidPin, pin, MaxVirtualPins-1)
	}
	return nil
}

// FormatValues renders write values as a pin payload. Several values are
// joined with a NUL separator.
func FormatValues(values ...any) (string, error) {
	switch len(values) {
	case 0:
		return "", fmt.Errorf("%w: at least one value is required", ErrInvalidValue)
	case 1:
		return formatValue(values[0]), nil
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatValue(v)
	}
	return strings.Join(parts, valueSeparator), nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(x)
	case int8, int16, int32, int64:
		return fmt.Sprintf("%d", x)
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", x)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return x.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
