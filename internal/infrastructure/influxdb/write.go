package influxdb

import (
	"strconv"
	"strings"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/vwireiot/vwire-go/vwire"
)

// Measurement is the InfluxDB measurement holding pin history.
const Measurement = "pin_values"

// RecordPin writes a pin change. Its signature matches vwire.Client.Watch:
//
//	client.Watch(history.RecordPin)
//
// Non-blocking; dropped silently after Close.
func (c *Client) RecordPin(pv vwire.PinValue) {
	if !c.IsConnected() {
		return
	}
	c.points.WritePoint(PinPoint(c.device, pv))
}

// PinPoint builds the point for a pin value. The raw value is always stored
// in the "value" string field; values that parse as numbers also get a
// "numeric" float field so they can be graphed.
//
// Tags: device, pin (V0-V255), source (device/server).
func PinPoint(device string, pv vwire.PinValue) *write.Point {
	tags := map[string]string{
		"device": device,
		"pin":    pv.Name(),
		"source": string(pv.Source),
	}
	fields := map[string]interface{}{
		"value": pv.Value,
	}
	if f, ok := numeric(pv.Value); ok {
		fields["numeric"] = f
	}
	return write.NewPoint(Measurement, tags, fields, pv.Timestamp)
}

// numeric parses the first part of a value as a float.
func numeric(value string) (float64, bool) {
	first, _, _ := strings.Cut(value, "\x00")
	f, err := strconv.ParseFloat(strings.TrimSpace(first), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
