package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/iotdps/ingest-core/internal/infrastructure/config"
)

// SessionState describes where the session is in its connection lifecycle.
type SessionState int

// Session lifecycle states.
//
// The normal cycle is Disconnected → Connecting → Connected →
// Disconnecting → Disconnected. On transport-level link loss the paho
// layer drives Connected → Reconnecting → Connected.
const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnecting
)

// String returns the lowercase name of the state.
func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// Session manages one logical connection to an MQTT broker, wrapping
// paho.mqtt.golang. It owns the connection handle exclusively: at most one
// active connection per session instance, and no other component touches
// the handle directly.
//
// A Session is an explicitly constructed, explicitly closed resource:
// create it with New, connect with Connect, and call Close before dropping
// it. Connect does not loop retries internally; retry policy belongs to
// the caller.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Close is safe to call concurrently with an in-flight Connect.
//   - Subscriptions survive one reconnect cycle: tracked filters are
//     automatically re-issued when the connection is re-established.
type Session struct {
	cfg     config.MQTTConfig
	options *pahomqtt.ClientOptions
	client  pahomqtt.Client

	// newClient builds the underlying paho client. Replaceable in tests.
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	// subscriptions tracks topic filters for queued subscribe while
	// disconnected and for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	state   SessionState
	stateMu sync.RWMutex

	// Callbacks for connection lifecycle events (optional).
	onConnect        func()
	onConnectionLost func(err error)
	callbackMu       sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription holds subscription details for queued and restored filters.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run serially on the session's delivery goroutine in arrival
// order; no two callbacks from the same session run concurrently. They
// must not block indefinitely, or all further message and lifecycle
// delivery for the session stalls — hand off to a queue for anything slow.
//
// Parameters:
//   - topic: The topic the message was received on (wildcards expanded)
//   - payload: The raw message payload, treated as opaque bytes
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler func(topic string, payload []byte) error

// New creates a Session for the configured broker.
//
// The session starts Disconnected; nothing touches the network until
// Connect is called. Topic filters may be registered via Subscribe before
// connecting — they are applied on the first successful Connect.
func New(cfg config.MQTTConfig) *Session {
	opts := buildClientOptions(cfg)
	configureLWT(opts, opts.ClientID)

	s := &Session{
		cfg:           cfg,
		options:       opts,
		newClient:     pahomqtt.NewClient,
		subscriptions: make(map[string]subscription),
	}

	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		s.handleConnect(c)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.handleConnectionLost(err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		s.setState(StateReconnecting)
	})

	return s
}

// Connect performs the connection handshake against the configured broker
// and starts the background delivery loop.
//
// Connect blocks until the handshake completes or fails (this is the
// documented completion model; there is no separate async signal for the
// initial connect). On success the session is Connected and every filter
// previously registered via Subscribe is issued. On failure the session
// returns to Disconnected and surfaces ErrConnectionFailed; each Connect
// call is an independent attempt, so callers implement retry by calling
// again. Only one handshake runs at a time: a Connect issued while
// another is still in flight (or while Close is in progress) fails
// immediately instead of replacing the live handshake's client.
//
// Returns:
//   - error: nil on success, or wrapped ErrConnectionFailed
func (s *Session) Connect() error {
	s.stateMu.Lock()
	switch s.state {
	case StateConnected, StateReconnecting:
		s.stateMu.Unlock()
		return nil
	case StateConnecting:
		// Another goroutine owns the in-flight handshake; a second
		// client here would leak the first.
		s.stateMu.Unlock()
		return fmt.Errorf("%w: connect already in progress", ErrConnectionFailed)
	case StateDisconnecting:
		s.stateMu.Unlock()
		return fmt.Errorf("%w: session is closing", ErrConnectionFailed)
	}
	s.state = StateConnecting
	client := s.newClient(s.options)
	s.client = client
	s.stateMu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		s.setState(StateDisconnected)
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		s.setState(StateDisconnected)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	s.stateMu.Lock()
	if s.state == StateDisconnecting || s.state == StateDisconnected {
		// Close won the race with the in-flight handshake.
		s.stateMu.Unlock()
		client.Disconnect(0)
		return fmt.Errorf("%w: session closed during connect", ErrConnectionFailed)
	}
	// The OnConnect callback runs asynchronously and may not have executed
	// yet; set the state here so IsConnected reflects the successful
	// handshake. The callback handles subscription restoration and status
	// publishing.
	s.state = StateConnected
	s.stateMu.Unlock()

	return nil
}

// handleConnect runs on every established connection, initial and reconnect.
func (s *Session) handleConnect(c pahomqtt.Client) {
	s.setState(StateConnected)

	// Issue every tracked filter: queued filters on first connect,
	// restored filters after link loss.
	s.restoreSubscriptions(c)

	s.publishOnlineStatus()

	s.callbackMu.RLock()
	callback := s.onConnect
	s.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleConnectionLost runs when an established connection drops.
func (s *Session) handleConnectionLost(err error) {
	s.stateMu.Lock()
	if s.state == StateDisconnecting || s.state == StateDisconnected {
		// Expected during Close; not a link loss.
		s.stateMu.Unlock()
		return
	}
	// Paho auto-reconnect takes over from here.
	s.state = StateReconnecting
	s.stateMu.Unlock()

	if logger := s.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}

	s.callbackMu.RLock()
	callback := s.onConnectionLost
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions issues every tracked topic filter on the given
// connection.
func (s *Session) restoreSubscriptions(c pahomqtt.Client) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, sub := range s.subscriptions {
		// Errors here are not actionable mid-callback; the broker either
		// accepts the filter or the next reconnect retries it.
		c.Subscribe(sub.topic, sub.qos, s.wrapHandler(sub.handler))
	}
}

// publishOnlineStatus publishes the session's retained online status to
// the system status topic.
func (s *Session) publishOnlineStatus() {
	payload := buildOnlinePayload(s.options.ClientID)
	if err := s.PublishRetained(Topics{}.SystemStatus(), []byte(payload)); err != nil {
		if logger := s.getLogger(); logger != nil {
			logger.Warn("online status publish failed", "error", err)
		}
	}
}

// logTokenFailure waits out a queued operation's token and logs a late
// broker rejection. Runs on its own goroutine; the wait is bounded.
func (s *Session) logTokenFailure(op, topic string, token pahomqtt.Token) {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return
	}
	if err := token.Error(); err != nil {
		if logger := s.getLogger(); logger != nil {
			logger.Warn("broker rejected "+op, "topic", topic, "error", err)
		}
	}
}

// Close gracefully disconnects from the MQTT broker and releases the
// connection handle.
//
// It publishes a graceful offline status (distinct from the LWT crash
// status), waits for pending operations, and stops the delivery loop; no
// handler or lifecycle callback fires after Close returns. Close is
// idempotent and safe to call concurrently with an in-flight Connect.
//
// Returns:
//   - error: Always nil; closing an already-closed session is not an error
func (s *Session) Close() error {
	// Graceful retained offline status, distinct from the LWT crash
	// status. A no-op when the link is already down.
	if s.IsConnected() {
		payload := buildOfflinePayload(s.options.ClientID)
		_ = s.PublishRetained(Topics{}.SystemStatus(), []byte(payload))
	}

	s.stateMu.Lock()
	if s.state == StateDisconnected {
		s.stateMu.Unlock()
		return nil
	}
	s.state = StateDisconnecting
	client := s.client
	s.stateMu.Unlock()

	if client != nil {
		// Quiesce period lets the offline status and other pending
		// operations drain before the delivery loop stops.
		client.Disconnect(defaultDisconnectQuiesce)
	}

	s.stateMu.Lock()
	s.state = StateDisconnected
	s.client = nil
	s.stateMu.Unlock()

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Session) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !s.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// IsConnected reports whether the session currently has a live connection.
func (s *Session) IsConnected() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state == StateConnected && s.client != nil && s.client.IsConnected()
}

// setState updates the lifecycle state.
func (s *Session) setState(state SessionState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

// currentClient returns the active connection handle (may be nil).
func (s *Session) currentClient() pahomqtt.Client {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.client
}

// SetOnConnect sets a callback invoked when a connection is established.
// This fires on the initial connect and on every reconnect, on the same
// execution context as message delivery.
func (s *Session) SetOnConnect(callback func()) {
	s.callbackMu.Lock()
	s.onConnect = callback
	s.callbackMu.Unlock()
}

// SetOnConnectionLost sets a callback invoked when an established
// connection is lost. The error describes why. Not fired for Close.
func (s *Session) SetOnConnectionLost(callback func(err error)) {
	s.callbackMu.Lock()
	s.onConnectionLost = callback
	s.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional
// logging. A panicking handler must never take down the delivery loop.
func (s *Session) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := s.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := s.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
