package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/iotdps/ingest-core/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.BrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "ingest-test",
			TLS:      false,
		},
		QoS: 1,
	}
}

// =============================================================================
// Fakes for the paho client and token interfaces
// =============================================================================

type fakeToken struct {
	err error

	// pending simulates an operation the broker has not yet
	// acknowledged.
	pending bool
}

func (t *fakeToken) Wait() bool                     { return !t.pending }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.pending {
		close(ch)
	}
	return ch
}

type publishRecord struct {
	topic    string
	payload  any
	qos      byte
	retained bool
}

// fakeClient implements pahomqtt.Client without any network I/O.
// Connection outcomes and inbound messages are driven by the test.
type fakeClient struct {
	mu sync.Mutex

	connectErr error
	connected  bool

	// publishErr fails Publish calls at send time.
	publishErr error

	// pendingTokens makes Publish and Subscribe return tokens that
	// never complete, as if the broker withheld every ack.
	pendingTokens bool

	subscribed []string
	handlers   map[string]pahomqtt.MessageHandler
	published  []publishRecord

	disconnectCalls int
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakeClient) Connect() pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return &fakeToken{err: f.connectErr}
	}
	f.connected = true
	return &fakeToken{}
}

func (f *fakeClient) Disconnect(_ uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnectCalls++
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return &fakeToken{err: f.publishErr}
	}
	f.published = append(f.published, publishRecord{topic: topic, payload: payload, qos: qos, retained: retained})
	return &fakeToken{pending: f.pendingTokens}
}

func (f *fakeClient) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, topic)
	f.handlers[topic] = callback
	return &fakeToken{pending: f.pendingTokens}
}

func (f *fakeClient) SubscribeMultiple(filters map[string]byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	for topic := range filters {
		f.Subscribe(topic, filters[topic], callback)
	}
	return &fakeToken{}
}

func (f *fakeClient) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, topic := range topics {
		delete(f.handlers, topic)
	}
	return &fakeToken{}
}

func (f *fakeClient) AddRoute(string, pahomqtt.MessageHandler) {}

func (f *fakeClient) OptionsReader() pahomqtt.ClientOptionsReader {
	return pahomqtt.ClientOptionsReader{}
}

// deliver invokes the handler registered for a filter, simulating an
// inbound message from the broker.
func (f *fakeClient) deliver(t *testing.T, filter, topic string, payload []byte) {
	t.Helper()
	f.mu.Lock()
	handler, ok := f.handlers[filter]
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no handler registered for filter %q", filter)
	}
	handler(f, &fakeMessage{topic: topic, payload: payload})
}

func (f *fakeClient) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribed)
}

func (f *fakeClient) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// newTestSession returns a session backed by a fake paho client.
// The fake is installed via the session's client factory seam.
func newTestSession(cfg config.MQTTConfig, fake *fakeClient) *Session {
	s := New(cfg)
	s.newClient = func(_ *pahomqtt.ClientOptions) pahomqtt.Client {
		return fake
	}
	return s
}

// =============================================================================
// Connection Lifecycle Tests
// =============================================================================

func TestConnect(t *testing.T) {
	fake := newFakeClient()
	s := newTestSession(testConfig(), fake)

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Close()

	if !s.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if got := s.State(); got != StateConnected {
		t.Errorf("State() = %v, want StateConnected", got)
	}
}

func TestConnect_Failure(t *testing.T) {
	fake := newFakeClient()
	fake.connectErr = errors.New("connection refused")
	s := newTestSession(testConfig(), fake)

	err := s.Connect()
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}

	// The session must return to Disconnected so the caller can retry.
	if got := s.State(); got != StateDisconnected {
		t.Errorf("State() = %v after failed connect, want StateDisconnected", got)
	}
	if s.IsConnected() {
		t.Error("IsConnected() = true after failed connect, want false")
	}
}

func TestConnect_RetryAfterFailure(t *testing.T) {
	fake := newFakeClient()
	fake.connectErr = errors.New("connection refused")
	s := newTestSession(testConfig(), fake)

	// Each Connect call is an independent attempt.
	for i := 0; i < 3; i++ {
		if err := s.Connect(); err == nil {
			t.Fatalf("Connect() attempt %d succeeded, want failure", i+1)
		}
	}

	fake.connectErr = nil
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() after clearing fault error = %v", err)
	}
	if got := s.State(); got != StateConnected {
		t.Errorf("State() = %v, want StateConnected", got)
	}
}

func TestConnect_AlreadyConnected(t *testing.T) {
	fake := newFakeClient()
	s := newTestSession(testConfig(), fake)

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := s.Connect(); err != nil {
		t.Errorf("second Connect() error = %v, want nil", err)
	}
}

func TestConnect_WhileHandshakeInFlight(t *testing.T) {
	for _, state := range []SessionState{StateConnecting, StateDisconnecting} {
		t.Run(state.String(), func(t *testing.T) {
			fake := newFakeClient()
			s := newTestSession(testConfig(), fake)

			factoryCalls := 0
			s.newClient = func(_ *pahomqtt.ClientOptions) pahomqtt.Client {
				factoryCalls++
				return fake
			}
			s.setState(state)

			// A second Connect must not build a client of its own: that
			// would replace (and leak) the one the in-flight handshake
			// owns.
			err := s.Connect()
			if !errors.Is(err, ErrConnectionFailed) {
				t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
			}
			if factoryCalls != 0 {
				t.Errorf("client factory calls = %d, want 0", factoryCalls)
			}
			if got := s.State(); got != state {
				t.Errorf("State() = %v, want unchanged %v", got, state)
			}
		})
	}
}

func TestConnect_PublishesOnlineStatus(t *testing.T) {
	fake := newFakeClient()
	s := newTestSession(testConfig(), fake)

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer s.Close()
	s.options.OnConnect(fake)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	found := false
	for _, p := range fake.published {
		if p.topic == (Topics{}).SystemStatus() && p.retained {
			found = true
		}
	}
	if !found {
		t.Error("established connection did not publish retained online status")
	}
}

func TestClose(t *testing.T) {
	fake := newFakeClient()
	s := newTestSession(testConfig(), fake)

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	if s.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
	if got := s.State(); got != StateDisconnected {
		t.Errorf("State() = %v after Close(), want StateDisconnected", got)
	}
	if fake.disconnectCalls != 1 {
		t.Errorf("disconnect calls = %d, want 1", fake.disconnectCalls)
	}
}

func TestClose_Idempotent(t *testing.T) {
	fake := newFakeClient()
	s := newTestSession(testConfig(), fake)

	if err := s.Close(); err != nil {
		t.Errorf("Close() on never-connected session error = %v", err)
	}

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if fake.disconnectCalls != 1 {
		t.Errorf("disconnect calls = %d, want 1", fake.disconnectCalls)
	}
}

func TestClose_PublishesGracefulOffline(t *testing.T) {
	fake := newFakeClient()
	s := newTestSession(testConfig(), fake)

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	s.Close()

	fake.mu.Lock()
	defer fake.mu.Unlock()
	found := false
	for _, p := range fake.published {
		if p.topic == (Topics{}).SystemStatus() && p.retained {
			found = true
		}
	}
	if !found {
		t.Error("Close() did not publish retained offline status")
	}
}

// =============================================================================
// Subscription Tests
// =============================================================================

func TestSubscribe_QueuedWhileDisconnected(t *testing.T) {
	fake := newFakeClient()
	s := newTestSession(testConfig(), fake)

	topics := Topics{}
	err := s.Subscribe(topics.AllTelemetry(), 1, func(string, []byte) error { return nil })
	if err != nil {
		t.Fatalf("Subscribe() while disconnected error = %v, want nil (queued)", err)
	}

	// Queued only: no broker call yet.
	if got := fake.subscribeCount(); got != 0 {
		t.Errorf("broker subscribe calls = %d before connect, want 0", got)
	}
	if !s.HasSubscription(topics.AllTelemetry()) {
		t.Error("HasSubscription() = false for queued filter, want true")
	}

	// On connect, the queued filter is applied.
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	s.options.OnConnect(fake)

	if got := fake.subscribeCount(); got != 1 {
		t.Errorf("broker subscribe calls = %d after connect, want 1", got)
	}
}

func TestSubscribe_ImmediateWhileConnected(t *testing.T) {
	fake := newFakeClient()
	s := newTestSession(testConfig(), fake)

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	err := s.Subscribe("devices/+/status", 1, func(string, []byte) error { return nil })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if got := fake.subscribeCount(); got != 1 {
		t.Errorf("broker subscribe calls = %d, want 1", got)
	}
}

func TestSubscribe_DoesNotBlockOnAck(t *testing.T) {
	fake := newFakeClient()
	fake.pendingTokens = true
	s := newTestSession(testConfig(), fake)

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// The broker withholds the SUBACK; Subscribe returns once the
	// request is queued and the filter stays tracked for reconnect.
	start := time.Now()
	filter := "devices/+/status"
	err := s.Subscribe(filter, 1, func(string, []byte) error { return nil })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Subscribe() took %v waiting for ack, want prompt return", elapsed)
	}
	if !s.HasSubscription(filter) {
		t.Error("HasSubscription() = false, want tracked filter")
	}
}

func TestSubscribe_RestoredOnReconnect(t *testing.T) {
	fake := newFakeClient()
	s := newTestSession(testConfig(), fake)

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	filter := Topics{}.AllTelemetry()
	if err := s.Subscribe(filter, 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if got := fake.subscribeCount(); got != 1 {
		t.Fatalf("broker subscribe calls = %d, want 1", got)
	}

	// Simulate link loss followed by paho-driven reconnect.
	s.options.OnConnectionLost(fake, errors.New("broken pipe"))
	if got := s.State(); got != StateReconnecting {
		t.Errorf("State() = %v after link loss, want StateReconnecting", got)
	}

	s.options.OnConnect(fake)

	// Every filter subscribed before the disconnection must be active
	// again without the caller re-issuing Subscribe.
	if got := fake.subscribeCount(); got != 2 {
		t.Errorf("broker subscribe calls = %d after reconnect, want 2", got)
	}
	if got := s.State(); got != StateConnected {
		t.Errorf("State() = %v after reconnect, want StateConnected", got)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	s := newTestSession(testConfig(), newFakeClient())
	handler := func(string, []byte) error { return nil }

	if err := s.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty topic) error = %v, want ErrInvalidTopic", err)
	}
	if err := s.Subscribe("devices/#", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := s.Subscribe("devices/#", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
}

func TestUnsubscribe_RemovesQueuedFilter(t *testing.T) {
	s := newTestSession(testConfig(), newFakeClient())

	filter := Topics{}.AllTelemetry()
	s.Subscribe(filter, 1, func(string, []byte) error { return nil })

	if err := s.Unsubscribe(filter); err != nil {
		t.Fatalf("Unsubscribe() while disconnected error = %v", err)
	}
	if s.HasSubscription(filter) {
		t.Error("HasSubscription() = true after Unsubscribe, want false")
	}
	if got := s.SubscriptionCount(); got != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", got)
	}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish_NotConnected(t *testing.T) {
	fake := newFakeClient()
	s := newTestSession(testConfig(), fake)

	err := s.Publish("devices/sensor-01/command", []byte(`{}`), 1, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Publish() error = %v, want ErrNotConnected", err)
	}

	// No observable side effect on the transport.
	if got := fake.publishCount(); got != 0 {
		t.Errorf("broker publish calls = %d, want 0", got)
	}
}

func TestPublish_Connected(t *testing.T) {
	fake := newFakeClient()
	s := newTestSession(testConfig(), fake)

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	err := s.Publish("devices/sensor-01/command", []byte(`{"sample_rate":10}`), 1, false)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if got := fake.publishCount(); got != 1 {
		t.Errorf("broker publish calls = %d, want 1", got)
	}
}

func TestPublish_DoesNotBlockOnAck(t *testing.T) {
	fake := newFakeClient()
	fake.pendingTokens = true
	s := newTestSession(testConfig(), fake)

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// The broker never acks; Publish must still return promptly once
	// the message is queued.
	start := time.Now()
	err := s.Publish("devices/sensor-01/command", []byte(`{}`), 1, false)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Publish() took %v waiting for ack, want prompt return", elapsed)
	}
	if got := fake.publishCount(); got != 1 {
		t.Errorf("broker publish calls = %d, want 1", got)
	}
}

func TestPublish_ImmediateFailure(t *testing.T) {
	fake := newFakeClient()
	fake.publishErr = errors.New("client is closed")
	s := newTestSession(testConfig(), fake)

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	err := s.Publish("devices/sensor-01/command", []byte(`{}`), 1, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestPublish_Validation(t *testing.T) {
	s := newTestSession(testConfig(), newFakeClient())

	if err := s.Publish("", []byte(`{}`), 1, false); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish(empty topic) error = %v, want ErrInvalidTopic", err)
	}
	if err := s.Publish("devices/d/command", []byte(`{}`), 3, false); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish(qos 3) error = %v, want ErrInvalidQoS", err)
	}

	oversized := make([]byte, maxPayloadSize+1)
	if err := s.Publish("devices/d/command", oversized, 1, false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish(oversized) error = %v, want ErrPublishFailed", err)
	}
}

// =============================================================================
// Delivery Tests
// =============================================================================

func TestMessageDelivery_ArrivalOrder(t *testing.T) {
	fake := newFakeClient()
	s := newTestSession(testConfig(), fake)

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var received []string
	filter := Topics{}.AllTelemetry()
	err := s.Subscribe(filter, 1, func(_ string, payload []byte) error {
		received = append(received, string(payload))
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for _, p := range []string{"1", "2", "3"} {
		fake.deliver(t, filter, "devices/d1/telemetry", []byte(p))
	}

	if len(received) != 3 || received[0] != "1" || received[1] != "2" || received[2] != "3" {
		t.Errorf("received = %v, want [1 2 3]", received)
	}
}

func TestMessageDelivery_PanicRecovered(t *testing.T) {
	fake := newFakeClient()
	s := newTestSession(testConfig(), fake)
	logger := &capturingLogger{}
	s.SetLogger(logger)

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	filter := Topics{}.AllTelemetry()
	err := s.Subscribe(filter, 1, func(string, []byte) error {
		panic("handler blew up")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// Must not panic the delivery path.
	fake.deliver(t, filter, "devices/d1/telemetry", []byte(`{}`))

	if logger.errorCount() == 0 {
		t.Error("expected panic to be logged")
	}
}

type capturingLogger struct {
	mu     sync.Mutex
	errors int
	warns  int
}

func (l *capturingLogger) Error(string, ...any) {
	l.mu.Lock()
	l.errors++
	l.mu.Unlock()
}

func (l *capturingLogger) Warn(string, ...any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}

func (l *capturingLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errors
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	fake := newFakeClient()
	s := newTestSession(testConfig(), fake)

	if err := s.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() while disconnected error = %v, want ErrNotConnected", err)
	}

	if err := s.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	s := newTestSession(testConfig(), newFakeClient())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with cancelled context error = nil, want error")
	}
}

// =============================================================================
// State String Tests
// =============================================================================

func TestSessionState_String(t *testing.T) {
	tests := []struct {
		state SessionState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateReconnecting, "reconnecting"},
		{StateDisconnecting, "disconnecting"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
