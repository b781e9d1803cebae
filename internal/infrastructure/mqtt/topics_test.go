package mqtt

import "testing"

func TestTopics_Builders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"DeviceTelemetry", topics.DeviceTelemetry("sensor-01"), "devices/sensor-01/telemetry"},
		{"DeviceStatus", topics.DeviceStatus("sensor-01"), "devices/sensor-01/status"},
		{"DeviceCommand", topics.DeviceCommand("sensor-01"), "devices/sensor-01/command"},
		{"AllTelemetry", topics.AllTelemetry(), "devices/+/telemetry"},
		{"AllDevices", topics.AllDevices(), "devices/#"},
		{"SystemStatus", topics.SystemStatus(), "system/ingest-core/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestDeviceID(t *testing.T) {
	tests := []struct {
		name   string
		topic  string
		wantID string
		wantOK bool
	}{
		{"telemetry topic", "devices/sensor-01/telemetry", "sensor-01", true},
		{"status topic", "devices/gw-7/status", "gw-7", true},
		{"nested suffix", "devices/sensor-01/telemetry/extra", "sensor-01", true},
		{"wrong prefix", "system/ingest-core/status", "", false},
		{"missing channel", "devices/sensor-01", "", false},
		{"empty device segment", "devices//telemetry", "", false},
		{"empty topic", "", "", false},
		{"bare prefix", "devices", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := DeviceID(tt.topic)
			if ok != tt.wantOK {
				t.Fatalf("DeviceID(%q) ok = %v, want %v", tt.topic, ok, tt.wantOK)
			}
			if id != tt.wantID {
				t.Errorf("DeviceID(%q) = %q, want %q", tt.topic, id, tt.wantID)
			}
		})
	}
}
