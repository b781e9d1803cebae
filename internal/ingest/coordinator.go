package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/iotdps/ingest-core/internal/device"
	"github.com/iotdps/ingest-core/internal/infrastructure/config"
	"github.com/iotdps/ingest-core/internal/infrastructure/mqtt"
)

// Transport is the subset of the MQTT session the coordinator drives.
// *mqtt.Session satisfies it; tests substitute a fake.
type Transport interface {
	Connect() error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Logger is the minimal logging interface the coordinator needs.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// envelope is one accepted telemetry message queued for sink delivery.
type envelope struct {
	deviceID   string
	topic      string
	payload    []byte
	receivedAt time.Time
}

// Coordinator ties the device registry, the MQTT transport and the
// telemetry sinks together. It owns the ingest pipeline:
//
//	broker -> HandleMessage -> registry bookkeeping -> bounded queue -> sink
//
// Inbound messages are accepted on the transport's delivery goroutine and
// handed to a single worker through the queue, so a slow sink never blocks
// the MQTT client. When the queue is full the configured overflow policy
// decides whether the oldest queued message is evicted (drop_oldest) or the
// new one is rejected (reject_new).
type Coordinator struct {
	cfg       config.IngestConfig
	registry  *device.Registry
	transport Transport
	sink      Sink
	logger    Logger

	queue chan envelope
	stop  chan struct{}
	wg    sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool

	received     atomic.Uint64
	dropped      atomic.Uint64
	unregistered atomic.Uint64
	sinkErrors   atomic.Uint64
}

// Stats is a point-in-time snapshot of coordinator counters.
type Stats struct {
	// Received counts every message handed to HandleMessage.
	Received uint64

	// Dropped counts messages lost to queue overflow, under either policy.
	Dropped uint64

	// Unregistered counts messages whose sending device was never
	// registered. They are still forwarded to the sink; only the liveness
	// update is skipped.
	Unregistered uint64

	// SinkErrors counts messages a sink rejected.
	SinkErrors uint64

	// Queued is the number of messages currently waiting for the worker.
	Queued int
}

// New creates a Coordinator wired to the given registry, transport and
// sink. A nil logger disables logging.
//
// Call Start to launch the delivery worker before subscribing.
func New(cfg config.IngestConfig, registry *device.Registry, transport Transport, sink Sink, logger Logger) *Coordinator {
	if logger == nil {
		logger = noopLogger{}
	}

	capacity := cfg.Queue.Capacity
	if capacity < 1 {
		capacity = 1
	}

	return &Coordinator{
		cfg:       cfg,
		registry:  registry,
		transport: transport,
		sink:      sink,
		logger:    logger,
		queue:     make(chan envelope, capacity),
		stop:      make(chan struct{}),
	}
}

// Start launches the sink delivery worker and, when heartbeat monitoring
// is enabled, the idle-device reaper. Start is idempotent.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.deliveryLoop()

		if c.cfg.Heartbeat.Enabled {
			c.wg.Add(1)
			go c.reapLoop()
			c.logger.Info("heartbeat monitoring enabled",
				"interval", c.cfg.Heartbeat.GetInterval(),
				"timeout", c.cfg.Heartbeat.GetTimeout())
		}
	})
}

// Close stops accepting messages, drains whatever is already queued into
// the sink, and waits for the workers to exit. Close is idempotent; the
// transport is not closed here, its owner does that.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stop)
		c.wg.Wait()
	})
	return nil
}

// RegisterDevice adds a device ID to the registry. Registering an already
// known device is a no-op reported through the result value.
func (c *Coordinator) RegisterDevice(id string) device.RegistrationResult {
	result := c.registry.Register(id)
	if result == device.RegistrationCreated {
		c.logger.Info("device registered", "device_id", id)
	}
	return result
}

// ConnectTransport establishes the broker connection, retrying per the
// configured policy. The first attempt counts against max_attempts; the
// delay between attempts follows the exponential or fixed strategy. The
// context cancels the retry loop between attempts.
//
// Returns the final connect error once the attempt budget is exhausted.
func (c *Coordinator) ConnectTransport(ctx context.Context) error {
	retry := c.cfg.Retry

	var policy backoff.BackOff
	switch retry.Strategy {
	case config.RetryStrategyFixed:
		policy = backoff.NewConstantBackOff(retry.GetInitialDelay())
	default:
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = retry.GetInitialDelay()
		exp.MaxInterval = retry.GetMaxDelay()
		exp.MaxElapsedTime = 0
		policy = exp
	}
	if retry.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(retry.MaxAttempts-1))
	}
	policy = backoff.WithContext(policy, ctx)

	attempts := 0
	operation := func() error {
		attempts++
		return c.transport.Connect()
	}
	notify := func(err error, next time.Duration) {
		c.logger.Warn("broker connection failed, retrying",
			"attempt", attempts,
			"max_attempts", retry.MaxAttempts,
			"retry_in", next,
			"error", err)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return fmt.Errorf("connect transport after %d attempts: %w", attempts, err)
	}

	c.logger.Info("broker connection established", "attempts", attempts)
	return nil
}

// Subscribe routes a topic filter into the ingest pipeline. Filters
// subscribed while the transport is offline are applied when it connects.
func (c *Coordinator) Subscribe(filter string, qos byte) error {
	if err := c.transport.Subscribe(filter, qos, c.HandleMessage); err != nil {
		return fmt.Errorf("subscribe filter %q: %w", filter, err)
	}
	c.logger.Info("telemetry filter bound", "filter", filter, "qos", qos)
	return nil
}

// Bind subscribes the ingest pipeline to each topic filter in order.
func (c *Coordinator) Bind(filters []string, qos byte) error {
	for _, filter := range filters {
		if err := c.Subscribe(filter, qos); err != nil {
			return err
		}
	}
	return nil
}

// Publish sends a payload on an arbitrary topic through the transport.
// It fails with mqtt.ErrNotConnected while the session is offline.
func (c *Coordinator) Publish(topic string, payload []byte, qos byte) error {
	return c.transport.Publish(topic, payload, qos, false)
}

// HandleMessage is the inbound path for every subscribed topic. It runs on
// the transport's delivery goroutine and must stay fast: registry
// bookkeeping plus an enqueue, never a sink call.
//
// Messages outside the device topic hierarchy are dropped without error;
// ingestion must survive arbitrary traffic on shared brokers. Messages
// from unregistered devices skip the liveness update but still reach the
// sink.
func (c *Coordinator) HandleMessage(topic string, payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.received.Add(1)

	deviceID, ok := mqtt.DeviceID(topic)
	if !ok {
		c.logger.Debug("message outside device hierarchy", "topic", topic)
		return nil
	}

	// Marks the device online and refreshes its last-seen time.
	if err := c.registry.Connect(deviceID); err != nil {
		if !errors.Is(err, device.ErrUnknownDevice) {
			return fmt.Errorf("handle message: %w", err)
		}
		c.unregistered.Add(1)
		c.logger.Debug("message from unregistered device",
			"device_id", deviceID, "topic", topic)
	}

	return c.enqueue(envelope{
		deviceID:   deviceID,
		topic:      topic,
		payload:    payload,
		receivedAt: time.Now().UTC(),
	})
}

// PublishCommand sends a command payload to a registered device's command
// topic. Unknown devices are rejected with device.ErrUnknownDevice.
func (c *Coordinator) PublishCommand(deviceID string, payload []byte, qos byte) error {
	if !c.registry.IsRegistered(deviceID) {
		return fmt.Errorf("publish command to %q: %w", deviceID, device.ErrUnknownDevice)
	}
	topic := mqtt.Topics{}.DeviceCommand(deviceID)
	return c.transport.Publish(topic, payload, qos, false)
}

// ActiveDevices returns the Online device IDs in registration order.
func (c *Coordinator) ActiveDevices() []string {
	return c.registry.ActiveDevices()
}

// Stats returns a snapshot of the coordinator's counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Received:     c.received.Load(),
		Dropped:      c.dropped.Load(),
		Unregistered: c.unregistered.Load(),
		SinkErrors:   c.sinkErrors.Load(),
		Queued:       len(c.queue),
	}
}

// enqueue admits an envelope to the queue, applying the overflow policy
// when it is full.
func (c *Coordinator) enqueue(env envelope) error {
	if c.cfg.Queue.Policy == config.QueuePolicyRejectNew {
		select {
		case c.queue <- env:
			return nil
		default:
			c.dropped.Add(1)
			c.logger.Warn("queue full, rejecting message",
				"device_id", env.deviceID, "capacity", cap(c.queue))
			return ErrQueueFull
		}
	}

	// drop_oldest: evict until the new envelope fits. The loop terminates
	// because each pass either sends or frees a slot.
	for {
		select {
		case c.queue <- env:
			return nil
		default:
		}
		select {
		case evicted := <-c.queue:
			c.dropped.Add(1)
			c.logger.Warn("queue full, dropping oldest message",
				"evicted_device_id", evicted.deviceID, "capacity", cap(c.queue))
		default:
		}
	}
}

// deliveryLoop is the single consumer of the queue. On shutdown it drains
// already-accepted messages before exiting.
func (c *Coordinator) deliveryLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stop:
			for {
				select {
				case env := <-c.queue:
					c.deliver(env)
				default:
					return
				}
			}
		case env := <-c.queue:
			c.deliver(env)
		}
	}
}

func (c *Coordinator) deliver(env envelope) {
	if err := c.sink.Ingest(env.deviceID, env.topic, env.payload); err != nil {
		c.sinkErrors.Add(1)
		c.logger.Error("sink rejected telemetry",
			"device_id", env.deviceID, "topic", env.topic, "error", err)
	}
}

// reapLoop periodically marks devices offline after prolonged silence.
func (c *Coordinator) reapLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.Heartbeat.GetInterval())
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-c.cfg.Heartbeat.GetTimeout())
			for _, id := range c.registry.ExpireIdle(cutoff) {
				c.logger.Warn("device silent past heartbeat timeout, marked offline",
					"device_id", id, "timeout", c.cfg.Heartbeat.GetTimeout())
			}
		}
	}
}
