// Package gpio drives the heater contactor relay with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Relay switches a single output line.
type Relay interface {
	// Set energises the relay when on is true.
	Set(on bool) error

	// Close de-energises the relay and releases GPIO resources.
	Close() error
}

// Sink adapts a Relay to the controller output: any non-zero value
// energises the relay. The path is ignored.
type Sink struct {
	Relay Relay
}

// Write sets the relay from an output value.
func (s Sink) Write(_ string, value int) error {
	return s.Relay.Set(value != 0)
}
