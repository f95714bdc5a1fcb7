// Package mqtt is the broker transport used by the vwire client.
//
// It dials the Vwire broker over one of four transports, keeps the
// connection alive with paho's auto-reconnect (optionally giving up after
// a number of attempts) and replays tracked subscriptions once the link
// comes back.
//
//	tcp_tls  ssl://host:8883
//	tcp      tcp://host:1883
//	wss      wss://host:443/mqtt
//	ws       ws://host:80/mqtt
//
// A typical caller:
//
//	c, err := mqtt.Connect(ctx, cfg, mqtt.Hooks{OnConnect: resync})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//	err = c.Subscribe("vwire/"+token+"/cmd/#", 1, onCommand)
package mqtt
