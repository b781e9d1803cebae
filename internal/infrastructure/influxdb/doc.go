// Package influxdb provides InfluxDB connectivity for the ingest core.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, telemetry persistence, and health monitoring. The Client
// doubles as an ingest sink: accepted telemetry messages are decoded and
// written as time-series points tagged by device.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "iotdps",
//	    Bucket: "telemetry",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteTelemetry("sensor-01",
//	    map[string]interface{}{"temp": 21.5}, time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking; batch failures are counted (see
// WriteErrors), logged through the attached logger, and optionally
// delivered to a SetOnError callback. Connection and health check
// errors are returned directly.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size,
// flush_interval). This reduces network overhead for high-frequency
// telemetry.
package influxdb
