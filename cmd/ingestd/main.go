// ingestd - Device Registry & Telemetry Ingestion Coordinator
//
// This is the main entry point for the ingest core daemon. It connects to
// an MQTT broker, subscribes to device telemetry topics, tracks device
// connectivity in an in-memory registry, and pushes accepted telemetry
// through a bounded queue into the configured sinks (rolling analytics,
// InfluxDB time-series storage).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iotdps/ingest-core/internal/analytics"
	"github.com/iotdps/ingest-core/internal/device"
	"github.com/iotdps/ingest-core/internal/infrastructure/config"
	"github.com/iotdps/ingest-core/internal/infrastructure/influxdb"
	"github.com/iotdps/ingest-core/internal/infrastructure/logging"
	"github.com/iotdps/ingest-core/internal/infrastructure/mqtt"
	"github.com/iotdps/ingest-core/internal/ingest"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting ingest core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration. A missing or unreadable file is not fatal: the
	// daemon starts on defaults so a fresh install still comes up.
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Warn("configuration not loaded, using defaults", "path", configPath, "error", err)
	} else {
		log.Info("configuration loaded", "path", configPath)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Initialise device registry
	registry := device.NewRegistry()
	registry.SetLogger(log)

	// Create the MQTT session (connection comes later, with retries)
	session := mqtt.New(cfg.MQTT)
	session.SetLogger(log)
	defer func() {
		log.Info("closing MQTT session")
		if closeErr := session.Close(); closeErr != nil {
			log.Error("error closing MQTT session", "error", closeErr)
		}
	}()
	session.SetOnConnect(func() {
		log.Info("MQTT session established")
	})
	session.SetOnConnectionLost(func(err error) {
		log.Warn("MQTT connection lost, reconnecting", "error", err)
	})

	// Assemble the sink chain
	var sinks ingest.MultiSink

	var analyzer *analytics.Analyzer
	if cfg.Analytics.Enabled {
		analyzer = analytics.New(cfg.Analytics.WindowSize)
		sinks = append(sinks, analyzer)
		log.Info("analytics sink enabled", "window_size", cfg.Analytics.WindowSize)
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetLogger(log)
		sinks = append(sinks, influxClient)
		log.Info("InfluxDB sink enabled",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// With every sink disabled, telemetry still flows; it is just logged.
	if len(sinks) == 0 {
		sinks = append(sinks, ingest.SinkFunc(func(deviceID, topic string, payload []byte) error {
			log.Debug("telemetry received", "device_id", deviceID, "topic", topic, "bytes", len(payload))
			return nil
		}))
		log.Warn("no sinks configured, telemetry is logged and discarded")
	}

	// Assemble and start the coordinator
	coordinator := ingest.New(cfg.Ingest, registry, session, sinks, log)
	coordinator.Start()
	defer func() {
		log.Info("stopping coordinator")
		if closeErr := coordinator.Close(); closeErr != nil {
			log.Error("error stopping coordinator", "error", closeErr)
		}
	}()

	// Pre-register configured devices
	for _, id := range cfg.Ingest.Devices {
		coordinator.RegisterDevice(id)
	}
	log.Info("device registry initialised", "devices", registry.Count())

	// Bind telemetry filters before connecting so no early message is
	// missed; queued filters apply on connect.
	if err := coordinator.Bind(cfg.MQTT.Topics, byte(cfg.MQTT.QoS)); err != nil {
		return fmt.Errorf("binding telemetry filters: %w", err)
	}

	// Connect to the broker with the configured retry budget
	if err := coordinator.ConnectTransport(ctx); err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Verify all connections are healthy
	if err := healthCheck(ctx, session, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Record final pipeline counters before the defer chain tears down.
	stats := coordinator.Stats()
	log.Info("pipeline statistics",
		"received", stats.Received,
		"dropped", stats.Dropped,
		"unregistered", stats.Unregistered,
		"sink_errors", stats.SinkErrors,
	)
	if influxClient != nil {
		influxClient.WritePoint("pipeline_stats",
			map[string]string{"instance": cfg.MQTT.Broker.ClientID},
			map[string]interface{}{
				"received":     stats.Received,
				"dropped":      stats.Dropped,
				"unregistered": stats.Unregistered,
				"sink_errors":  stats.SinkErrors,
				"write_errors": influxClient.WriteErrors(),
			})
	}

	// Deferred Close() calls run in reverse order:
	// 1. Coordinator (drains the queue into the sinks)
	// 2. InfluxDB (flushes batched writes, if enabled)
	// 3. MQTT session (publishes offline status, disconnects)

	log.Info("ingest core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses INGEST_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("INGEST_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - session: MQTT session to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, session *mqtt.Session, influxClient *influxdb.Client) error {
	if err := session.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
