// Package device provides the Device Registry for the ingest core.
//
// The Device Registry is the catalogue of known telemetry sources and the
// single owner of their connectivity state. It is a pure in-memory data
// structure: no I/O, no persistence, no knowledge of the transport.
//
// # Key Types
//
//   - Device: A known telemetry source (id, connection state, last seen)
//   - ConnectionState: Offline or Online; devices start Offline
//   - RegistrationResult: Created or AlreadyExists (informational, never
//     an error)
//
// # Usage
//
//	registry := device.NewRegistry()
//	registry.SetLogger(log)
//
//	registry.Register("sensor-01")          // RegistrationCreated
//	registry.Register("sensor-01")          // RegistrationAlreadyExists, no-op
//
//	if err := registry.Connect("sensor-01"); err != nil {
//	    // errors.Is(err, device.ErrUnknownDevice)
//	}
//
//	ids := registry.ActiveDevices() // Online ids, registration order
//
// # Thread Safety
//
// The Registry is safe for concurrent use. It is written from the
// transport delivery goroutine (liveness updates) and read or written from
// foreground callers (registration, queries); all operations are protected
// by a read-write mutex.
package device
