package analytics

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const defaultWindowSize = 256

// Summary describes the recent readings of one metric on one device.
type Summary struct {
	// Count is the number of readings currently in the window.
	Count int

	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// window holds the most recent readings of a single metric, oldest first.
type window struct {
	values []float64
}

func (w *window) push(v float64, size int) {
	w.values = append(w.values, v)
	if len(w.values) > size {
		copy(w.values, w.values[1:])
		w.values = w.values[:size]
	}
}

// Analyzer computes rolling statistics over telemetry readings. It
// implements the ingest sink contract: each payload is decoded as a JSON
// object and every numeric field is folded into a per-device,
// per-metric sliding window.
//
// Non-numeric fields are skipped, so devices may mix readings with
// status strings in one payload.
type Analyzer struct {
	mu         sync.RWMutex
	windowSize int
	devices    map[string]map[string]*window
}

// New creates an Analyzer keeping the given number of readings per metric.
// A size below 1 falls back to the default.
func New(windowSize int) *Analyzer {
	if windowSize < 1 {
		windowSize = defaultWindowSize
	}
	return &Analyzer{
		windowSize: windowSize,
		devices:    make(map[string]map[string]*window),
	}
}

// Ingest decodes a telemetry payload and records every numeric field.
//
// Payloads that are not JSON objects are rejected; the pipeline counts
// the error and moves on.
func (a *Analyzer) Ingest(deviceID, _ string, payload []byte) error {
	var reading map[string]any
	if err := json.Unmarshal(payload, &reading); err != nil {
		return fmt.Errorf("analytics: decode telemetry from %q: %w", deviceID, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	metrics, ok := a.devices[deviceID]
	if !ok {
		metrics = make(map[string]*window)
		a.devices[deviceID] = metrics
	}

	for field, value := range reading {
		// json.Unmarshal into any yields float64 for every JSON number.
		v, ok := value.(float64)
		if !ok {
			continue
		}
		w, ok := metrics[field]
		if !ok {
			w = &window{}
			metrics[field] = w
		}
		w.push(v, a.windowSize)
	}

	return nil
}

// Summary returns the rolling statistics for one metric on one device.
// The second return value is false when the device or metric has no
// recorded readings.
func (a *Analyzer) Summary(deviceID, metric string) (Summary, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	w, ok := a.devices[deviceID][metric]
	if !ok || len(w.values) == 0 {
		return Summary{}, false
	}
	return summarize(w.values), true
}

// DeviceSummaries returns the statistics of every metric recorded for the
// device, keyed by metric name.
func (a *Analyzer) DeviceSummaries(deviceID string) map[string]Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	metrics := a.devices[deviceID]
	if len(metrics) == 0 {
		return nil
	}

	out := make(map[string]Summary, len(metrics))
	for name, w := range metrics {
		if len(w.values) == 0 {
			continue
		}
		out[name] = summarize(w.values)
	}
	return out
}

// Metrics returns the sorted metric names recorded for a device.
func (a *Analyzer) Metrics(deviceID string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	metrics := a.devices[deviceID]
	if len(metrics) == 0 {
		return nil
	}

	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func summarize(values []float64) Summary {
	s := Summary{
		Count: len(values),
		Mean:  stat.Mean(values, nil),
		Min:   floats.Min(values),
		Max:   floats.Max(values),
	}
	// Sample standard deviation needs at least two readings.
	if len(values) > 1 {
		s.StdDev = stat.StdDev(values, nil)
	}
	return s
}
