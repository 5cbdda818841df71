package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sweeney/solar-hot-water/internal/config"
)

const (
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	inboxSize         = 64
)

// pahoClient is the subset of paho.Client used by RealBus.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

type handler struct {
	id uint64
	fn func([]byte)
}

type inbound struct {
	topic   string
	payload []byte
}

// RealBus reads and writes data bus paths on an actual MQTT broker.
type RealBus struct {
	cli pahoClient
	cfg config.MQTT
	log zerolog.Logger

	mu        sync.Mutex
	handlers  map[string][]handler // topic -> subscribers
	nextID    uint64
	outbox    *outbox
	connected bool // true after the first successful connect
	closed    bool

	// Handlers run on one worker so paho's router never waits on a publish.
	inbox     chan inbound
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// ClientID returns the configured client ID, or a generated one if empty.
func ClientID(cfg config.MQTT) string {
	if cfg.ClientID != "" {
		return cfg.ClientID
	}
	return "solar-hot-water-" + uuid.NewString()[:8]
}

// Dial connects to the broker described by cfg. It fails if the first
// connection isn't established within cfg.ConnectTimeout; after that the
// client reconnects on its own and RealBus resubscribes and replays queued
// writes.
func Dial(cfg config.MQTT, log zerolog.Logger) (*RealBus, error) {
	b := &RealBus{
		cfg:      cfg,
		log:      log,
		handlers: make(map[string][]handler),
		outbox:   newOutbox(cfg.OutboxSize, log),
		inbox:    make(chan inbound, inboxSize),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go b.deliver()

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventOffline})
	if err != nil {
		b.stopWorker()
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(ClientID(cfg)).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	if cfg.SystemTopic != "" {
		opts.SetBinaryWill(cfg.SystemTopic, will, cfg.QoS, true)
	}
	opts.OnConnect = func(paho.Client) { b.onConnect() }
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		b.log.Warn().Err(err).Msg("mqtt connection lost")
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		b.log.Info().Msg("mqtt reconnecting")
	}

	b.cli = newMQTTClient(opts)
	token := b.cli.Connect()
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if !token.WaitTimeout(timeout) {
		b.cli.Disconnect(0)
		b.stopWorker()
		return nil, fmt.Errorf("connect to %s: timeout after %s", cfg.Broker, timeout)
	}
	if err := token.Error(); err != nil {
		b.stopWorker()
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return b, nil
}

// onConnect runs on every (re)connection. Subscriptions are restored
// because the session is clean, and writes queued while offline are replayed.
func (b *RealBus) onConnect() {
	b.mu.Lock()
	reconnect := b.connected
	b.connected = true
	topics := make([]string, 0, len(b.handlers))
	for topic := range b.handlers {
		topics = append(topics, topic)
	}
	pending := b.outbox.drainAll()
	b.mu.Unlock()

	b.log.Info().Bool("reconnect", reconnect).Msg("mqtt connected")

	for _, topic := range topics {
		token := b.cli.Subscribe(topic, b.cfg.QoS, b.dispatch)
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			b.log.Error().Err(token.Error()).Str("topic", topic).Msg("resubscribe failed")
		}
	}
	for _, msg := range pending {
		if err := b.send(msg); err != nil {
			b.log.Error().Err(err).Str("topic", msg.topic).Msg("replay failed")
		}
	}
	if len(pending) > 0 {
		b.log.Info().Int("count", len(pending)).Msg("replayed queued messages")
	}

	if reconnect && b.cfg.SystemTopic != "" {
		ev := SystemEvent{Timestamp: time.Now(), Event: EventReconnected, Retained: true}
		if err := b.PublishSystem(ev); err != nil {
			b.log.Error().Err(err).Msg("publish reconnected event")
		}
	}
}

// dispatch runs on paho's router goroutine. It only queues the message for
// deliver; a handler may publish and wait for the ack, which the router
// must stay free to read.
func (b *RealBus) dispatch(_ paho.Client, msg paho.Message) {
	m := inbound{topic: msg.Topic(), payload: append([]byte(nil), msg.Payload()...)}
	select {
	case b.inbox <- m:
	case <-b.quit:
	}
}

// deliver hands queued messages to the subscribers of their topic, in
// arrival order.
func (b *RealBus) deliver() {
	defer close(b.stopped)
	for {
		select {
		case m := <-b.inbox:
			b.mu.Lock()
			hs := append([]handler(nil), b.handlers[m.topic]...)
			b.mu.Unlock()
			for _, h := range hs {
				h.fn(m.payload)
			}
		case <-b.quit:
			return
		}
	}
}

func (b *RealBus) stopWorker() {
	b.closeOnce.Do(func() { close(b.quit) })
	<-b.stopped
}

// Subscribe delivers every payload published on path's topic to fn.
// The returned function removes the subscription.
func (b *RealBus) Subscribe(path string, fn func([]byte)) (func(), error) {
	topic := TopicFor(b.cfg.TopicPrefix, path)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.New("bus closed")
	}
	b.nextID++
	id := b.nextID
	first := len(b.handlers[topic]) == 0
	b.handlers[topic] = append(b.handlers[topic], handler{id: id, fn: fn})
	b.mu.Unlock()

	if first && b.cli.IsConnected() {
		token := b.cli.Subscribe(topic, b.cfg.QoS, b.dispatch)
		if !token.WaitTimeout(publishTimeout) {
			b.remove(topic, id)
			return nil, fmt.Errorf("subscribe %s: timeout", topic)
		}
		if err := token.Error(); err != nil {
			b.remove(topic, id)
			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	b.log.Debug().Str("path", path).Str("topic", topic).Msg("subscribed")

	var once sync.Once
	return func() { once.Do(func() { b.remove(topic, id) }) }, nil
}

func (b *RealBus) remove(topic string, id uint64) {
	b.mu.Lock()
	hs := b.handlers[topic]
	for i, h := range hs {
		if h.id == id {
			hs = append(hs[:i:i], hs[i+1:]...)
			break
		}
	}
	last := len(hs) == 0
	if last {
		delete(b.handlers, topic)
	} else {
		b.handlers[topic] = hs
	}
	b.mu.Unlock()

	if last && b.cli.IsConnected() {
		b.cli.Unsubscribe(topic).WaitTimeout(publishTimeout)
	}
}

// Write publishes value to path's topic. While the broker is unreachable the
// value is queued and replayed after reconnection.
func (b *RealBus) Write(path string, value int) error {
	return b.publish(bufferedMsg{
		topic:    TopicFor(b.cfg.TopicPrefix, path),
		payload:  FormatOutput(value),
		qos:      b.cfg.QoS,
		retained: b.cfg.RetainOutput,
	})
}

// PublishSystem sends a system lifecycle event to the system topic.
func (b *RealBus) PublishSystem(event SystemEvent) error {
	if b.cfg.SystemTopic == "" {
		return nil
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return b.publish(bufferedMsg{
		topic:    b.cfg.SystemTopic,
		payload:  payload,
		qos:      b.cfg.QoS,
		retained: event.Retained,
	})
}

func (b *RealBus) publish(msg bufferedMsg) error {
	if !b.cli.IsConnected() {
		b.mu.Lock()
		b.outbox.push(msg)
		b.mu.Unlock()
		b.log.Debug().Str("topic", msg.topic).Msg("broker unreachable, queued")
		return nil
	}
	return b.send(msg)
}

func (b *RealBus) send(msg bufferedMsg) error {
	token := b.cli.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (b *RealBus) IsConnected() bool {
	return b.cli.IsConnected()
}

// Queued returns the number of topics waiting for reconnection.
func (b *RealBus) Queued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outbox.len()
}

// Close disconnects from the broker and stops delivering messages. Messages
// still queued for delivery are dropped.
func (b *RealBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cli.Disconnect(disconnectQuiesce)
	b.stopWorker()
	return nil
}
