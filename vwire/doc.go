// Package vwire is the Go client for the Vwire IoT platform.
//
// A Client connects a device to the Vwire cloud over MQTT and exchanges
// virtual pin values (V0-V255) with dashboard widgets.
//
// # Transports
//
// DefaultConfig uses MQTT over TLS on port 8883. WebSocketConfig uses MQTT
// over secure WebSocket on port 443 for networks that block MQTT ports.
// DevelopmentConfig talks plain MQTT to a local broker. CustomConfig picks
// any combination.
//
// # Usage
//
//	client, err := vwire.New(os.Getenv("VWIRE_AUTH_TOKEN"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client.OnVirtualWrite(0, func(v vwire.PinValue) {
//	    on, _ := v.Bool()
//	    led.Set(on)
//	})
//
//	client.Timer().SetInterval(2*time.Second, func() {
//	    client.VirtualWrite(1, sensor.Temperature())
//	})
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := client.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Connection failures wrap ErrNotAuthorized (wrong or regenerated token),
// ErrConnectTimeout (network or firewall) or ErrCertificate (TLS
// verification; Config.VerifySSL=false is the insecure opt-out).
//
// For devices that cannot keep a socket open, see package httpclient.
package vwire
