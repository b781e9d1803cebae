package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrUnknownDevice) {
//	    // handle unregistered id
//	}
var (
	// ErrUnknownDevice is returned when a state operation references an
	// ID that was never registered. The registry is left unchanged.
	ErrUnknownDevice = errors.New("device: unknown device")
)
