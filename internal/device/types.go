package device

import "time"

// ConnectionState is the registry's belief about a device's connectivity.
// It is distinct from true physical connectivity; the registry only knows
// what the transport and the liveness policy tell it.
type ConnectionState int

// Connection states. Devices start Offline and are flipped by
// Connect/Disconnect calls on the registry.
const (
	StateOffline ConnectionState = iota
	StateOnline
)

// String returns the lowercase name of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateOnline:
		return "online"
	default:
		return "offline"
	}
}

// Device represents a known telemetry source tracked by the registry.
//
// The ID is assigned by the registrant and immutable after creation.
// Devices are never destroyed during normal operation; there is no
// unregister operation.
type Device struct {
	ID    string          `json:"id"`
	State ConnectionState `json:"state"`

	// LastSeen is the time of the most recent Connect call for this
	// device (zero until the device first comes online). Used by the
	// optional liveness timeout policy.
	LastSeen time.Time `json:"last_seen,omitempty"`
}

// RegistrationResult reports the outcome of a Register call.
// AlreadyExists is informational, not an error: re-registering an
// existing ID is a no-op that leaves state unchanged.
type RegistrationResult int

// Registration outcomes.
const (
	RegistrationCreated RegistrationResult = iota
	RegistrationAlreadyExists
)

// String returns a short name for the result.
func (r RegistrationResult) String() string {
	switch r {
	case RegistrationAlreadyExists:
		return "already_exists"
	default:
		return "created"
	}
}
