package influxdb

import "errors"

// Sentinel errors for the telemetry sink backend, matchable with
// errors.Is:
//
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without the InfluxDB sink
//	}
var (
	// ErrDisabled is returned by Connect when the influxdb config
	// section has enabled: false. Callers treat it as "no sink", not a
	// failure.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps startup failures: unreachable server,
	// bad credentials, or an unhealthy ping response.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by operations that require a live
	// connection after the client has been closed.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed marks synchronous write-path failures, such as an
	// undecodable telemetry payload. Batched transport failures are
	// asynchronous and reported via the logger and WriteErrors counter
	// instead.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
