// Package influxdb records virtual pin history to InfluxDB.
//
// Every pin change seen by the agent becomes one point in the "pin_values"
// measurement, tagged with the device name, pin and source:
//
//	pin_values,device=greenhouse,pin=V0,source=device numeric=23.5,value="23.5" 1767268800000000000
//
// Usage:
//
//	history, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Device.Name)
//	if err != nil {
//	    return err
//	}
//	defer history.Close()
//
//	client.Watch(history.RecordPin)
//
// Writes are non-blocking and batched (batch_size, flush_interval);
// failures are reported through SetOnError.
package influxdb
