package mqtt

import "github.com/rs/zerolog"

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while disconnected. Only the newest
// message per topic is kept, since a later output value supersedes an
// earlier one. Topics are replayed in the order they were first queued.
// When full, the oldest topic is dropped.
// Not safe for concurrent use; the caller must synchronize.
type outbox struct {
	order    []string
	msgs     map[string]bufferedMsg
	capacity int
	overflow bool // true if any topic was dropped since last drain
	log      zerolog.Logger
}

func newOutbox(capacity int, log zerolog.Logger) *outbox {
	return &outbox{
		msgs:     make(map[string]bufferedMsg),
		capacity: capacity,
		log:      log,
	}
}

func (o *outbox) push(msg bufferedMsg) {
	if o.capacity <= 0 {
		return
	}
	if _, ok := o.msgs[msg.topic]; ok {
		o.msgs[msg.topic] = msg
		return
	}
	if len(o.order) == o.capacity {
		if !o.overflow {
			o.log.Warn().Int("capacity", o.capacity).Msg("outbox full, dropping oldest topic")
			o.overflow = true
		}
		oldest := o.order[0]
		o.order = o.order[1:]
		delete(o.msgs, oldest)
	}
	o.order = append(o.order, msg.topic)
	o.msgs[msg.topic] = msg
}

func (o *outbox) drainAll() []bufferedMsg {
	if len(o.order) == 0 {
		return nil
	}
	result := make([]bufferedMsg, 0, len(o.order))
	for _, topic := range o.order {
		result = append(result, o.msgs[topic])
	}
	o.order = nil
	o.msgs = make(map[string]bufferedMsg)
	o.overflow = false
	return result
}

func (o *outbox) len() int {
	return len(o.order)
}
