package device

import (
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the in-memory store of known devices and their connectivity
// state. It owns the id-to-device mapping exclusively; no other component
// mutates it directly.
//
// The registry is accessed from both the transport delivery goroutine
// (liveness updates) and foreground callers (registration, queries), so
// every read-modify-write is serialised behind a read-write mutex.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device

	// order records registration insertion order, which determines the
	// ordering of ActiveDevices results.
	order []string

	logger Logger
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[string]*Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Register adds a device to the registry.
//
// Registration is idempotent and never fails: registering an ID that
// already exists is a no-op that leaves the device's state unchanged and
// reports RegistrationAlreadyExists. The caller decides whether that
// outcome is logged or ignored.
//
// New devices start Offline.
func (r *Registry) Register(id string) RegistrationResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[id]; exists {
		r.logger.Debug("device already registered", "id", id)
		return RegistrationAlreadyExists
	}

	r.devices[id] = &Device{ID: id, State: StateOffline}
	r.order = append(r.order, id)

	r.logger.Info("device registered", "id", id)
	return RegistrationCreated
}

// Connect marks a device Online and records the observation time.
//
// Returns ErrUnknownDevice if the ID is not registered; the registry is
// left unchanged in that case. The state flip has no other side effects.
func (r *Registry) Connect(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return ErrUnknownDevice
	}

	d.State = StateOnline
	d.LastSeen = time.Now().UTC()

	r.logger.Debug("device online", "id", id)
	return nil
}

// Disconnect marks a device Offline.
//
// Returns ErrUnknownDevice if the ID is not registered; the registry is
// left unchanged in that case.
func (r *Registry) Disconnect(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return ErrUnknownDevice
	}

	d.State = StateOffline

	r.logger.Debug("device offline", "id", id)
	return nil
}

// ActiveDevices returns the IDs of all Online devices, ordered by
// registration insertion order.
//
// The returned slice is a snapshot: registry mutations after the call do
// not affect it.
func (r *Registry) ActiveDevices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if r.devices[id].State == StateOnline {
			active = append(active, id)
		}
	}
	return active
}

// Device retrieves a device by ID.
// The returned Device is a copy; callers can safely inspect it.
func (r *Registry) Device(id string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, ErrUnknownDevice
	}
	return *d, nil
}

// IsRegistered reports whether the ID exists in the registry.
func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.devices[id]
	return ok
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// ExpireIdle marks Online devices whose LastSeen is before cutoff as
// Offline and returns their IDs in registration order.
//
// This implements the liveness timeout policy: link loss alone never
// flips devices Offline, only sustained silence does.
func (r *Registry) ExpireIdle(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for _, id := range r.order {
		d := r.devices[id]
		if d.State == StateOnline && d.LastSeen.Before(cutoff) {
			d.State = StateOffline
			expired = append(expired, id)
		}
	}

	if len(expired) > 0 {
		r.logger.Info("devices expired by liveness timeout", "count", len(expired))
	}
	return expired
}

// Stats holds registry statistics for monitoring.
type Stats struct {
	Total   int
	Online  int
	Offline int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{Total: len(r.devices)}
	for _, d := range r.devices {
		if d.State == StateOnline {
			stats.Online++
		} else {
			stats.Offline++
		}
	}
	return stats
}
