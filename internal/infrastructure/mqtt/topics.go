package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the device telemetry hierarchy.
//
// Device topics use the scheme: devices/{device_id}/{channel}
const (
	// TopicPrefixDevices is the base for all per-device topics.
	TopicPrefixDevices = "devices"

	// TopicPrefixSystem is the base for ingest-core system topics.
	TopicPrefixSystem = "system/ingest-core"
)

// Channel names under a device topic.
const (
	ChannelTelemetry = "telemetry"
	ChannelStatus    = "status"
	ChannelCommand   = "command"
)

// Topics provides builders for ingest-core MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	t := topics.DeviceTelemetry("sensor-01")
//	// Returns: "devices/sensor-01/telemetry"
type Topics struct{}

// DeviceTelemetry returns the topic a device publishes readings on.
//
// Example: devices/sensor-01/telemetry
func (Topics) DeviceTelemetry(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevices, deviceID, ChannelTelemetry)
}

// DeviceStatus returns the topic a device publishes its status on.
//
// Example: devices/sensor-01/status
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevices, deviceID, ChannelStatus)
}

// DeviceCommand returns the topic for commands to a device.
//
// Example: devices/sensor-01/command
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevices, deviceID, ChannelCommand)
}

// AllTelemetry returns the wildcard filter matching every device's
// telemetry channel.
//
// Example: devices/+/telemetry
func (Topics) AllTelemetry() string {
	return fmt.Sprintf("%s/+/%s", TopicPrefixDevices, ChannelTelemetry)
}

// AllDevices returns the wildcard filter matching every device topic.
//
// Example: devices/#
func (Topics) AllDevices() string {
	return TopicPrefixDevices + "/#"
}

// SystemStatus returns the topic the ingest core publishes its own
// online/offline status on (also used for the LWT).
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// DeviceID extracts the device ID from a topic in the device hierarchy.
//
// It returns the second segment of "devices/{id}/..." topics and false for
// topics outside the hierarchy or with an empty ID segment.
//
// Example:
//
//	id, ok := mqtt.DeviceID("devices/sensor-01/telemetry")
//	// id == "sensor-01", ok == true
func DeviceID(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != TopicPrefixDevices || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
