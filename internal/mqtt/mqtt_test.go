package mqtt

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/solar-hot-water/internal/config"
)

func TestTopicFor(t *testing.T) {
	tests := []struct {
		prefix, path, want string
	}{
		{"signalk/vessels/self/", "electrical.solar.279.panelPower", "signalk/vessels/self/electrical/solar/279/panelPower"},
		{"signalk/vessels/self", "mqtt.switch.solar_hot_water", "signalk/vessels/self/mqtt/switch/solar_hot_water"},
		{"", "a.b.c", "a/b/c"},
		{"root/", "already/a/topic", "root/already/a/topic"},
		{"root/", " padded.path ", "root/padded/path"},
	}
	for _, tt := range tests {
		if got := TopicFor(tt.prefix, tt.path); got != tt.want {
			t.Errorf("TopicFor(%q, %q): got %q, want %q", tt.prefix, tt.path, got, tt.want)
		}
	}
}

func TestFormatOutput(t *testing.T) {
	if got := string(FormatOutput(1)); got != "1" {
		t.Errorf("FormatOutput(1): got %q, want %q", got, "1")
	}
	if got := string(FormatOutput(0)); got != "0" {
		t.Errorf("FormatOutput(0): got %q, want %q", got, "0")
	}
}

func TestFormatSystemPayload(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		Event:     EventShutdown,
		Reason:    "SIGTERM",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var parsed SystemPayload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.System.Timestamp != "2026-02-02T22:18:12Z" {
		t.Errorf("unexpected timestamp: %s", parsed.System.Timestamp)
	}
	if parsed.System.Event != "SHUTDOWN" {
		t.Errorf("unexpected event: %s", parsed.System.Event)
	}
	if parsed.System.Reason != "SIGTERM" {
		t.Errorf("unexpected reason: %s", parsed.System.Reason)
	}
	if strings.Contains(string(payload), "message") {
		t.Errorf("empty message should be omitted: %s", payload)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"already":"formatted"}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: EventHeartbeat, RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("got %s, want %s", payload, raw)
	}
}

func TestFakeBusInjectAndUnsubscribe(t *testing.T) {
	bus := NewFakeBus()
	var got []string
	unsub, err := bus.Subscribe("a.b", func(p []byte) { got = append(got, string(p)) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bus.Inject("a.b", "1")
	bus.Inject("other", "2")
	unsub()
	bus.Inject("a.b", "3")

	if len(got) != 1 || got[0] != "1" {
		t.Errorf("got %v, want [1]", got)
	}
	if n := bus.Subscribers("a.b"); n != 0 {
		t.Errorf("subscribers after unsubscribe: got %d, want 0", n)
	}
}

func TestFakeBusErrors(t *testing.T) {
	bus := NewFakeBus()
	bus.SubscribeError = map[string]error{"bad": errors.New("nope")}
	if _, err := bus.Subscribe("bad", func([]byte) {}); err == nil {
		t.Error("expected subscribe error")
	}
	bus.WriteError = errors.New("write failed")
	if err := bus.Write("out", 1); err == nil {
		t.Error("expected write error")
	}
	if len(bus.Writes()) != 0 {
		t.Error("failed write should not be recorded")
	}
}

// RealBus tests run against mockClient via newMQTTClient.

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type mockClient struct {
	mu           sync.Mutex
	opts         *paho.ClientOptions
	connected    bool
	connectErr   error
	subscribeErr error
	subs         map[string]paho.MessageHandler
	subscribed   []string
	unsubscribed []string
	published    []published
	// ack, if set, holds every publish token until it is closed.
	ack chan struct{}
}

func (m *mockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockClient) Connect() paho.Token {
	if m.connectErr != nil {
		return &dummyToken{err: m.connectErr}
	}
	m.setConnected(true)
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(nil)
	}
	return &dummyToken{}
}

func (m *mockClient) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *mockClient) Disconnect(uint) { m.setConnected(false) }

func (m *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, published{topic, qos, retained, string(payload.([]byte))})
	if m.ack != nil {
		return &heldToken{ack: m.ack}
	}
	return &dummyToken{}
}

func (m *mockClient) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return &dummyToken{err: m.subscribeErr}
	}
	if m.subs == nil {
		m.subs = make(map[string]paho.MessageHandler)
	}
	m.subs[topic] = cb
	m.subscribed = append(m.subscribed, topic)
	return &dummyToken{}
}

func (m *mockClient) Unsubscribe(topics ...string) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, topic := range topics {
		delete(m.subs, topic)
		m.unsubscribed = append(m.unsubscribed, topic)
	}
	return &dummyToken{}
}

func (m *mockClient) deliver(topic, payload string) {
	m.mu.Lock()
	cb := m.subs[topic]
	m.mu.Unlock()
	if cb != nil {
		cb(nil, mockMessage{topic: topic, p: []byte(payload)})
	}
}

func (m *mockClient) sent() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]published(nil), m.published...)
}

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type heldToken struct{ ack chan struct{} }

func (h heldToken) Wait() bool { <-h.ack; return true }
func (h heldToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-h.ack:
		return true
	case <-time.After(d):
		return false
	}
}
func (h heldToken) Done() <-chan struct{} { return h.ack }
func (h heldToken) Error() error          { return nil }

type mockMessage struct {
	topic string
	p     []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}

func dialMock(t *testing.T, mc *mockClient) *RealBus {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() { newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) } })

	bus, err := Dial(config.Default().MQTT, zerolog.Nop())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return bus
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDialSetsOptions(t *testing.T) {
	mc := &mockClient{}
	dialMock(t, mc)

	if !strings.HasPrefix(mc.opts.ClientID, "solar-hot-water-") {
		t.Errorf("unexpected client id: %s", mc.opts.ClientID)
	}
	if !mc.opts.WillEnabled || mc.opts.WillTopic != "plugins/solarhotwater/system" || !mc.opts.WillRetained {
		t.Errorf("will not configured: enabled=%v topic=%s retained=%v", mc.opts.WillEnabled, mc.opts.WillTopic, mc.opts.WillRetained)
	}
	if !strings.Contains(string(mc.opts.WillPayload), EventOffline) {
		t.Errorf("will payload missing OFFLINE: %s", mc.opts.WillPayload)
	}
	if len(mc.sent()) != 0 {
		t.Errorf("first connect should not publish, got %v", mc.sent())
	}
}

func TestDialConnectError(t *testing.T) {
	mc := &mockClient{connectErr: errors.New("refused")}
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	defer func() { newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) } }()

	if _, err := Dial(config.Default().MQTT, zerolog.Nop()); err == nil {
		t.Fatal("expected connect error")
	}
}

func TestClientIDExplicit(t *testing.T) {
	cfg := config.Default().MQTT
	cfg.ClientID = "boat-heater"
	if got := ClientID(cfg); got != "boat-heater" {
		t.Errorf("got %s, want boat-heater", got)
	}
}

func TestRealBusSubscribeDispatch(t *testing.T) {
	mc := &mockClient{}
	bus := dialMock(t, mc)

	var got []string
	var mu sync.Mutex
	unsub, err := bus.Subscribe("electrical.solar.279.panelPower", func(p []byte) {
		mu.Lock()
		got = append(got, string(p))
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	topic := "signalk/vessels/self/electrical/solar/279/panelPower"
	if len(mc.subscribed) != 1 || mc.subscribed[0] != topic {
		t.Fatalf("subscribed: got %v, want [%s]", mc.subscribed, topic)
	}

	mc.deliver(topic, "560")
	waitUntil(t, "dispatch", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	if got[0] != "560" {
		t.Errorf("dispatched: got %v, want [560]", got)
	}
	mu.Unlock()

	unsub()
	unsub()
	if len(mc.unsubscribed) != 1 || mc.unsubscribed[0] != topic {
		t.Errorf("unsubscribed: got %v, want [%s]", mc.unsubscribed, topic)
	}
}

func TestRealBusSharedTopicSubscribesOnce(t *testing.T) {
	mc := &mockClient{}
	bus := dialMock(t, mc)

	var n atomic.Int32
	unsubA, _ := bus.Subscribe("a.b", func([]byte) { n.Add(1) })
	unsubB, _ := bus.Subscribe("a.b", func([]byte) { n.Add(1) })
	if len(mc.subscribed) != 1 {
		t.Errorf("broker subscriptions: got %d, want 1", len(mc.subscribed))
	}

	mc.deliver("signalk/vessels/self/a/b", "1")
	waitUntil(t, "both handlers", func() bool { return n.Load() == 2 })

	unsubA()
	if len(mc.unsubscribed) != 0 {
		t.Error("topic unsubscribed while a handler remains")
	}
	unsubB()
	if len(mc.unsubscribed) != 1 {
		t.Error("topic not unsubscribed after last handler")
	}
}

func TestRealBusHandlerPublishDoesNotBlockRouter(t *testing.T) {
	mc := &mockClient{}
	bus := dialMock(t, mc)
	t.Cleanup(func() { bus.Close() })

	unsub, err := bus.Subscribe("electrical.solar.279.panelPower", func(p []byte) {
		_ = bus.Write("plugins.solarhotwater.state", 1)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	mc.mu.Lock()
	mc.ack = make(chan struct{})
	mc.mu.Unlock()

	topic := "signalk/vessels/self/electrical/solar/279/panelPower"
	done := make(chan struct{})
	go func() {
		for i := 0; i < 3; i++ {
			mc.deliver(topic, "560")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delivery blocked while a handler waited for a publish ack")
	}

	close(mc.ack)
	waitUntil(t, "three publishes", func() bool { return len(mc.sent()) == 3 })
}

func TestRealBusDropsMessagesAfterClose(t *testing.T) {
	mc := &mockClient{}
	bus := dialMock(t, mc)

	var n atomic.Int32
	bus.Subscribe("a.b", func([]byte) { n.Add(1) })
	bus.Close()

	done := make(chan struct{})
	go func() {
		bus.dispatch(nil, mockMessage{topic: "signalk/vessels/self/a/b", p: []byte("1")})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked after close")
	}
	if n.Load() != 0 {
		t.Errorf("handler calls after close: got %d, want 0", n.Load())
	}
}

func TestRealBusSubscribeError(t *testing.T) {
	mc := &mockClient{}
	bus := dialMock(t, mc)
	mc.subscribeErr = errors.New("not authorized")

	if _, err := bus.Subscribe("a.b", func([]byte) {}); err == nil {
		t.Fatal("expected subscribe error")
	}

	// A failed subscription must not be restored on reconnect.
	mc.subscribeErr = nil
	mc.opts.OnConnect(nil)
	if len(mc.subscribed) != 0 {
		t.Errorf("failed subscription restored: %v", mc.subscribed)
	}
}

func TestRealBusWriteRetained(t *testing.T) {
	mc := &mockClient{}
	bus := dialMock(t, mc)

	if err := bus.Write("plugins.solarhotwater.state", 1); err != nil {
		t.Fatalf("write: %v", err)
	}
	sent := mc.sent()
	if len(sent) != 1 {
		t.Fatalf("published: got %d, want 1", len(sent))
	}
	want := published{"signalk/vessels/self/plugins/solarhotwater/state", 1, true, "1"}
	if sent[0] != want {
		t.Errorf("published: got %+v, want %+v", sent[0], want)
	}
}

func TestRealBusQueuesWhileDisconnected(t *testing.T) {
	mc := &mockClient{}
	bus := dialMock(t, mc)
	unsub, _ := bus.Subscribe("a.b", func([]byte) {})
	defer unsub()

	mc.setConnected(false)
	_ = bus.Write("out", 0)
	_ = bus.Write("out", 1)

	if len(mc.sent()) != 0 {
		t.Fatalf("published while disconnected: %v", mc.sent())
	}
	if bus.Queued() != 1 {
		t.Errorf("queued: got %d, want 1", bus.Queued())
	}

	mc.setConnected(true)
	mc.opts.OnConnect(nil)

	sent := mc.sent()
	if len(sent) != 2 {
		t.Fatalf("published after reconnect: got %d, want 2", len(sent))
	}
	if sent[0].payload != "1" {
		t.Errorf("replayed payload: got %s, want 1", sent[0].payload)
	}
	if sent[1].topic != "plugins/solarhotwater/system" || !strings.Contains(sent[1].payload, EventReconnected) {
		t.Errorf("expected RECONNECTED event, got %+v", sent[1])
	}
	if bus.Queued() != 0 {
		t.Errorf("queued after replay: got %d, want 0", bus.Queued())
	}
	if len(mc.subscribed) != 2 {
		t.Errorf("resubscribe: got %v", mc.subscribed)
	}
}

func TestRealBusPublishSystem(t *testing.T) {
	mc := &mockClient{}
	bus := dialMock(t, mc)

	ev := SystemEvent{Timestamp: time.Now(), Event: EventStatus, Message: "control output is standing by"}
	if err := bus.PublishSystem(ev); err != nil {
		t.Fatalf("publish system: %v", err)
	}
	sent := mc.sent()
	if len(sent) != 1 || sent[0].retained {
		t.Fatalf("unexpected publish: %+v", sent)
	}
	var parsed SystemPayload
	if err := json.Unmarshal([]byte(sent[0].payload), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.System.Message != "control output is standing by" {
		t.Errorf("unexpected message: %s", parsed.System.Message)
	}
}

func TestRealBusClose(t *testing.T) {
	mc := &mockClient{}
	bus := dialMock(t, mc)
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if bus.IsConnected() {
		t.Error("still connected after close")
	}
	if _, err := bus.Subscribe("a.b", func([]byte) {}); err == nil {
		t.Error("subscribe after close should fail")
	}
}
