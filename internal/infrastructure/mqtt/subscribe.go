package mqtt

import (
	"fmt"
)

// Subscribe registers a handler for messages matching the topic filter.
//
// Filters can include MQTT wildcards:
//   - + (single-level): "devices/+/telemetry" matches any device
//   - # (multi-level): "devices/#" matches the whole device hierarchy
//
// The filter is always added to the session's tracked subscription set.
// When the session is Connected the subscription is issued immediately;
// when it is not, the filter is queued and applied on the next successful
// Connect. Tracked filters are also re-issued automatically after a
// reconnect, so one link-loss cycle never silently drops subscriptions.
//
// Handlers run serially on the delivery goroutine in arrival order and
// must not block for extended periods.
//
// Subscribe does not wait for the broker's acknowledgment: the request
// is queued on the transport and the call returns. A broker rejection
// arriving later is logged and the filter stays tracked, so the next
// reconnect retries it. Only failures already known at send time are
// returned.
//
// Parameters:
//   - topic: The topic filter to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback function invoked for each message
//
// Returns:
//   - error: nil once queued, or wrapped error on immediate rejection
//
// Example:
//
//	err := session.Subscribe(mqtt.Topics{}.AllTelemetry(), 1,
//	    func(topic string, payload []byte) error {
//	        return coordinator.HandleMessage(topic, payload)
//	    })
func (s *Session) Subscribe(topic string, qos byte, handler MessageHandler) error {
	// Validate inputs
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	// Track the filter first: this is what makes subscriptions durable
	// across disconnect/reconnect and what queues them while offline.
	s.subMu.Lock()
	s.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	s.subMu.Unlock()

	// Not connected: the filter stays queued and is applied on the next
	// successful Connect.
	client := s.currentClient()
	if client == nil || !s.IsConnected() {
		return nil
	}

	// Subscribe with wrapped handler (includes panic recovery)
	token := client.Subscribe(topic, qos, s.wrapHandler(handler))

	// Surface only failures the transport already knows about; the
	// SUBACK completes in the background. On a late rejection the filter
	// stays tracked and is retried on the next reconnect.
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			s.removeSubscription(topic)
			return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
		}
	default:
		go s.logTokenFailure("subscribe", topic, token)
	}

	return nil
}

// Unsubscribe removes a tracked filter and stops receiving its messages.
//
// The filter is removed from the tracked set regardless of connection
// state; when Connected, the broker-side unsubscribe is issued as well.
// Messages in flight may still be delivered.
//
// Parameters:
//   - topic: The exact topic filter that was subscribed to
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (s *Session) Unsubscribe(topic string) error {
	// Validate inputs
	if topic == "" {
		return ErrInvalidTopic
	}

	s.removeSubscription(topic)

	client := s.currentClient()
	if client == nil || !s.IsConnected() {
		// Nothing registered broker-side; removing the queued filter is
		// the whole job.
		return nil
	}

	token := client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

// removeSubscription drops a filter from the tracked set.
func (s *Session) removeSubscription(topic string) {
	s.subMu.Lock()
	delete(s.subscriptions, topic)
	s.subMu.Unlock()
}

// SubscriptionCount returns the number of tracked topic filters,
// including filters queued while disconnected.
func (s *Session) SubscriptionCount() int {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	return len(s.subscriptions)
}

// HasSubscription checks if a filter exists in the tracked set.
//
// Note: This checks only the exact filter string, not pattern matching.
func (s *Session) HasSubscription(topic string) bool {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	_, exists := s.subscriptions[topic]
	return exists
}
