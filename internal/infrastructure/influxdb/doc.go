// Package influxdb provides time-series storage for observed device
// telemetry.
//
// The telemetry monitor feeds every observed telemetry tick and status
// heartbeat through this client so dashboards can chart battery and signal
// history per device. Writes are batched and non-blocking; a failed write
// never slows down message handling.
//
// InfluxDB is optional: when disabled in config, Connect returns
// ErrDisabled and the monitor simply skips the sink.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteDeviceTelemetry("btn-a1b2", "button", "mv-aurora", "cabin-12", 87.5, 62.0)
package influxdb
