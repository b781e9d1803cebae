package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends a message to the specified MQTT topic.
//
// Publish hands the message to the transport's send queue and returns
// without waiting for broker acknowledgment; for QoS 1 and 2 the ack
// completes in the background, and delivery failures there are logged
// rather than returned. Failures already known at send time (client
// shut down mid-call) are returned. When the session is not Connected
// it fails with ErrNotConnected and has no observable side effect —
// there is no store-and-forward.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "devices/sensor-01/command")
//   - payload: The message payload, opaque bytes (max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new subscribers
//
// Returns:
//   - error: nil once queued, or wrapped error describing the failure
//
// Example:
//
//	topic := mqtt.Topics{}.DeviceCommand("sensor-01")
//	err := session.Publish(topic, []byte(`{"sample_rate":10}`), 1, false)
func (s *Session) Publish(topic string, payload []byte, qos byte, retained bool) error {
	// Validate inputs
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	// Check connection state
	client := s.currentClient()
	if client == nil || !s.IsConnected() {
		return ErrNotConnected
	}

	token := client.Publish(topic, qos, retained, payload)

	// Only failures the transport already knows about are surfaced;
	// acknowledgment for QoS > 0 completes in the background.
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
	default:
		go s.logTokenFailure("publish", topic, token)
	}

	return nil
}

// PublishRetained publishes a retained message with the configured default QoS.
//
// Use for state updates where new subscribers should receive the current
// state, such as the session's own online/offline status.
func (s *Session) PublishRetained(topic string, payload []byte) error {
	return s.Publish(topic, payload, byte(s.cfg.QoS), true)
}
