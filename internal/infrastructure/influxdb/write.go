package influxdb

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// telemetryMeasurement is the measurement name for device telemetry points.
const telemetryMeasurement = "telemetry"

// Ingest persists one telemetry message, satisfying the ingest sink
// contract. The payload is decoded as a JSON object and every numeric
// field becomes a field on a single point tagged with the device ID.
//
// Writes are non-blocking and batched; transport errors are counted and
// logged asynchronously, not returned here. When the client is
// disconnected the message is silently skipped so a storage outage never
// stalls ingestion.
func (c *Client) Ingest(deviceID, _ string, payload []byte) error {
	if !c.IsConnected() {
		return nil
	}

	var reading map[string]any
	if err := json.Unmarshal(payload, &reading); err != nil {
		return fmt.Errorf("%w: decode telemetry from %q: %w", ErrWriteFailed, deviceID, err)
	}

	fields := make(map[string]interface{}, len(reading))
	for name, value := range reading {
		if v, ok := value.(float64); ok {
			fields[name] = v
		}
	}
	if len(fields) == 0 {
		return nil
	}

	c.WriteTelemetry(deviceID, fields, time.Now())
	return nil
}

// WriteTelemetry writes one telemetry reading for a device.
//
// The write is non-blocking; points are batched and flushed by the
// client. Fields should already be numeric.
//
// Example:
//
//	client.WriteTelemetry("sensor-01",
//	    map[string]interface{}{"temp": 21.5, "humidity": 40.0}, time.Now())
func (c *Client) WriteTelemetry(deviceID string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		telemetryMeasurement,
		map[string]string{
			"device_id": deviceID,
		},
		fields,
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceState records a device connectivity transition.
//
// Used by the pipeline to keep an audit trail of online/offline changes
// alongside the telemetry itself.
func (c *Client) WriteDeviceState(deviceID string, online bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_state",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"online": online,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods, such as
// pipeline statistics.
//
// Example:
//
//	client.WritePoint("pipeline_stats",
//	    map[string]string{"instance": "ingest-01"},
//	    map[string]interface{}{"received": 1042, "dropped": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
