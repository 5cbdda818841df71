package mqtt

import (
	"sync"
)

// Written records a single output write.
type Written struct {
	Path  string
	Value int
}

// FakeBus is an in-memory data bus for tests. It is safe for concurrent use.
type FakeBus struct {
	mu       sync.Mutex
	subs     map[string][]*fakeSub
	writes   []Written
	system   []SystemEvent
	payloads [][]byte

	// SubscribeError, if set, is returned by Subscribe for the paths it names.
	SubscribeError map[string]error

	// WriteError, if set, is returned by Write.
	WriteError error

	// Connected controls the return value of IsConnected.
	Connected bool

	// Closed tracks if Close was called.
	Closed bool
}

type fakeSub struct {
	fn     func([]byte)
	active bool
}

// NewFakeBus creates a connected FakeBus.
func NewFakeBus() *FakeBus {
	return &FakeBus{subs: make(map[string][]*fakeSub), Connected: true}
}

// Subscribe registers fn for payloads injected on path.
func (f *FakeBus) Subscribe(path string, fn func([]byte)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.SubscribeError[path]; err != nil {
		return nil, err
	}
	s := &fakeSub{fn: fn, active: true}
	f.subs[path] = append(f.subs[path], s)
	return func() {
		f.mu.Lock()
		s.active = false
		f.mu.Unlock()
	}, nil
}

// Inject delivers payload to every active subscriber of path.
func (f *FakeBus) Inject(path string, payload string) {
	f.mu.Lock()
	var fns []func([]byte)
	for _, s := range f.subs[path] {
		if s.active {
			fns = append(fns, s.fn)
		}
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn([]byte(payload))
	}
}

// Subscribers returns the number of active subscribers on path.
func (f *FakeBus) Subscribers(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs[path] {
		if s.active {
			n++
		}
	}
	return n
}

// Write records the output value.
func (f *FakeBus) Write(path string, value int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		return f.WriteError
	}
	f.writes = append(f.writes, Written{Path: path, Value: value})
	return nil
}

// Writes returns a copy of all recorded writes.
func (f *FakeBus) Writes() []Written {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Written(nil), f.writes...)
}

// Values returns the recorded write values in order.
func (f *FakeBus) Values() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.writes))
	for i, w := range f.writes {
		out[i] = w.Value
	}
	return out
}

// PublishSystem records the system event.
func (f *FakeBus) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.system = append(f.system, event)
	f.payloads = append(f.payloads, payload)
	return nil
}

// SystemEvents returns a copy of all recorded system events.
func (f *FakeBus) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.system...)
}

// SystemPayloads returns the JSON payloads for recorded system events.
func (f *FakeBus) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

// IsConnected reports whether the fake bus is "connected".
func (f *FakeBus) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// SetConnected changes the value reported by IsConnected.
func (f *FakeBus) SetConnected(v bool) {
	f.mu.Lock()
	f.Connected = v
	f.mu.Unlock()
}

// Close marks the bus as closed.
func (f *FakeBus) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
