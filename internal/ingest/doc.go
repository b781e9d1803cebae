// Package ingest coordinates telemetry ingestion: it binds the MQTT
// transport to the device registry and pushes accepted messages through a
// bounded queue into one or more sinks.
//
// The Coordinator is the composition point. It pre-registers configured
// devices, establishes the broker connection with a retry budget, and
// routes every inbound device message:
//
//	session := mqtt.New(cfg.MQTT)
//	registry := device.NewRegistry()
//	coord := ingest.New(cfg.Ingest, registry, session, sink, logger)
//	coord.Start()
//	coord.Bind(cfg.MQTT.Topics, byte(cfg.MQTT.QoS))
//	err := coord.ConnectTransport(ctx)
//
// Backpressure is explicit: the queue between the transport's delivery
// goroutine and the sink worker is bounded, and overflow follows the
// configured policy (drop_oldest or reject_new). A slow sink therefore
// costs queued messages, never broker throughput.
package ingest
