// Package mqtt provides the transport session for the ingest core.
//
// This package manages:
//   - One logical connection per Session to the MQTT broker
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, queued while offline and
//     restored after reconnect
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// Sensor devices publish telemetry to the broker; the ingest core's single
// Session subscribes to the device hierarchy and hands inbound messages to
// the ingestion coordinator.
//
//	Sensor Devices → MQTT Broker → Session → Ingestion Coordinator
//
// # Lifecycle
//
// A Session is an explicitly owned resource: construct with New, call
// Connect, and Close before dropping it. Connect blocks until the
// handshake completes or fails and never loops retries internally — the
// caller owns retry policy, and every attempt starts from Disconnected.
// Link loss after a successful connect is handled by paho auto-reconnect
// (Connected → Reconnecting → Connected), with tracked subscriptions
// re-issued automatically.
//
// # Delivery Ordering
//
// Inbound messages are dispatched serially, in arrival order, on the
// session's delivery goroutine (paho ordered dispatch). Lifecycle
// callbacks share that execution context, so handlers observe a single
// consistent ordering of lifecycle and message events. Handlers must not
// block indefinitely; hand anything slow to a queue.
//
// # Usage
//
//	session := mqtt.New(cfg.MQTT)
//	session.SetLogger(log)
//	defer session.Close()
//
//	// Filters registered before Connect are applied on connect.
//	err := session.Subscribe(mqtt.Topics{}.AllTelemetry(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Info("received", "topic", topic)
//	        return nil
//	    })
//
//	if err := session.Connect(); err != nil {
//	    // errors.Is(err, mqtt.ErrConnectionFailed); caller decides on retry
//	}
package mqtt
