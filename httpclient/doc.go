// Package httpclient is a stateless HTTP fallback for devices that cannot
// hold an MQTT connection open.
//
// Every call is a single authenticated request against the device API:
//
//	POST /api/v1/device/pins/V{n}   write one pin   {"value": "..."}
//	POST /api/v1/device/pins        write a batch   {"pins": {"V0": "..."}}
//	GET  /api/v1/device/pins/V{n}   read one pin
//
// Requests carry "Authorization: Bearer {token}" and a fresh X-Request-ID.
//
// Usage:
//
//	hc, err := httpclient.New(token)
//	if err != nil {
//	    return err
//	}
//	err = hc.VirtualWrite(ctx, 0, 25.5)
//	err = hc.WriteBatch(ctx, map[string]any{"V0": 25.5, "V1": 60})
package httpclient
