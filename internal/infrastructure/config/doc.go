// Package config loads the agent's YAML configuration.
//
// Load starts from Default, overlays the file, then applies a few
// environment overrides (VWIRE_AUTH_TOKEN, VWIRE_SERVER_HOST,
// VWIRE_SERVER_TRANSPORT, VWIRE_DATABASE_PATH, VWIRE_INFLUXDB_TOKEN) and
// validates the result. Keep the device token in the environment rather
// than in a world-readable file.
//
//	cfg, err := config.Load("configs/config.yaml")
//
// MQTTConfig lives here too. It is the transport-level view the mqtt
// package consumes; the SDK derives it from vwire.Config and it has no
// YAML form.
package config
