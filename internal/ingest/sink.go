package ingest

import "errors"

// Sink consumes telemetry that the coordinator has accepted: the message
// arrived on a device topic, the device is registered, and the queue
// admitted it.
//
// Implementations must be safe for use from a single worker goroutine; the
// coordinator never calls Ingest concurrently.
type Sink interface {
	// Ingest processes one telemetry message. A non-nil error is counted
	// and logged by the coordinator but does not stop ingestion.
	Ingest(deviceID, topic string, payload []byte) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(deviceID, topic string, payload []byte) error

// Ingest calls f.
func (f SinkFunc) Ingest(deviceID, topic string, payload []byte) error {
	return f(deviceID, topic, payload)
}

// MultiSink fans each message out to every sink in order. All sinks see
// every message; errors are joined rather than short-circuiting.
type MultiSink []Sink

// Ingest delivers the message to each sink and joins any errors.
func (m MultiSink) Ingest(deviceID, topic string, payload []byte) error {
	var errs []error
	for _, s := range m {
		if err := s.Ingest(deviceID, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
