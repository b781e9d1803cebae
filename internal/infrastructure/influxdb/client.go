package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/iotdps/ingest-core/internal/infrastructure/config"
)

// Timeouts for the synchronous InfluxDB operations (connect-time ping and
// health checks). Writes themselves are asynchronous and carry no timeout
// here.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	// millisecondsPerSecond converts the configured flush interval
	// (seconds) to the milliseconds the InfluxDB API expects.
	millisecondsPerSecond = 1000
)

// Logger is the minimal logging interface the client needs for reporting
// asynchronous write failures. *logging.Logger satisfies it.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Client is the telemetry pipeline's InfluxDB v2 sink backend.
//
// It owns the connection, batches points through the non-blocking write
// API, and accounts for asynchronous write failures so the pipeline can
// report them alongside its own counters.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Write operations are non-blocking and batched.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig

	// connected tracks current connection state.
	connected bool
	mu        sync.RWMutex

	logger Logger

	// onError is an optional hook invoked for each async write error,
	// in addition to logging and counting.
	onError func(err error)

	// writeErrors counts asynchronous write failures since Connect.
	writeErrors atomic.Uint64
}

// Connect establishes a connection to the InfluxDB server and prepares it
// as a telemetry sink.
//
// The batch size and flush interval come straight from cfg; callers are
// expected to have run config.Validate, which guarantees both are
// positive. Connectivity is verified with a ping before the client is
// returned, so a returned client is known-good at startup.
//
// Parameters:
//   - cfg: InfluxDB section of the ingest configuration
//
// Returns:
//   - *Client: Connected client ready to receive telemetry
//   - error: ErrDisabled when the sink is switched off, or wrapped
//     ErrConnectionFailed
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	// #nosec G115 -- config.Validate guarantees positive values
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(cfg.BatchSize)).
			SetFlushInterval(uint(cfg.FlushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	c := &Client{
		client:    client,
		writeAPI:  writeAPI,
		cfg:       cfg,
		connected: true,
	}

	// Batched writes fail out-of-band; drain the error channel for the
	// lifetime of the connection.
	go c.handleWriteErrors(writeAPI.Errors())

	return c, nil
}

// handleWriteErrors drains the write API's error channel, counting and
// logging each failure. A dropped batch must never stall ingestion, so
// failures are reported here rather than surfaced to writers.
func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.writeErrors.Add(1)

		c.mu.RLock()
		logger := c.logger
		callback := c.onError
		c.mu.RUnlock()

		if logger != nil {
			logger.Error("InfluxDB write error", "error", err)
		}
		if callback != nil {
			callback(err)
		}
	}
}

// SetLogger attaches a logger for asynchronous write failures. Without
// one, failures are still counted but not logged.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// SetOnError registers an additional callback for async write errors,
// for callers that need to react beyond logging (tests, alerting).
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// WriteErrors returns the number of asynchronous write failures observed
// since Connect. The pipeline folds this into its shutdown statistics.
func (c *Client) WriteErrors() uint64 {
	return c.writeErrors.Load()
}

// HealthCheck verifies the InfluxDB connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}

	return nil
}

// IsConnected reports whether the client considers itself connected.
//
// This reflects the last known state; HealthCheck performs an active
// ping.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Flush forces all buffered points to be written now.
//
// Blocks until the buffer drains. No-op when disconnected or closed.
func (c *Client) Flush() {
	if c.writeAPI == nil {
		return
	}

	if !c.IsConnected() {
		return
	}

	c.writeAPI.Flush()
}

// Close flushes any buffered telemetry and shuts the connection down.
//
// Returns:
//   - error: Always nil; kept for symmetry with the other pipeline
//     components' Close methods
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()

	return nil
}
