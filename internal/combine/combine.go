// Package combine synchronises independently arriving input values into
// complete tuples.
//
// A Combiner holds the latest value of each of its inputs. It fires its
// callback with a copy of all values once every input has been seen, and
// after that whenever an input changes. An input that repeats its previous
// value is swallowed. Callbacks are delivered one at a time, in the order the
// updates were accepted.
package combine

import (
	"fmt"
	"sync"
)

// Func receives a complete tuple. The slice is a copy and may be retained.
type Func func(values []float64)

// Combiner merges N inputs. It is safe for concurrent use.
type Combiner struct {
	mu     sync.Mutex
	values []float64
	seen   []bool
	fire   Func
	closed bool
}

// New returns a combiner for n inputs that calls fire for each new tuple.
func New(n int, fire Func) *Combiner {
	if n <= 0 {
		panic(fmt.Sprintf("combine: input count must be positive, got %d", n))
	}
	return &Combiner{
		values: make([]float64, n),
		seen:   make([]bool, n),
		fire:   fire,
	}
}

// Update records value for input i. It returns true if the update produced
// a callback. The callback runs synchronously on the caller's goroutine
// while the combiner is locked, so it must not call back into the combiner.
func (c *Combiner) Update(i int, value float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || i < 0 || i >= len(c.values) {
		return false
	}
	if c.seen[i] && c.values[i] == value {
		return false
	}
	c.values[i] = value
	c.seen[i] = true

	if !c.primedLocked() {
		return false
	}

	out := make([]float64, len(c.values))
	copy(out, c.values)
	c.fire(out)
	return true
}

// Primed reports whether every input has received a value.
func (c *Combiner) Primed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primedLocked()
}

// Missing returns the indexes of inputs that have not yet received a value.
func (c *Combiner) Missing() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var missing []int
	for i, ok := range c.seen {
		if !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// Close stops all further callbacks. Once Close returns, no callback is
// running and none will start.
func (c *Combiner) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Combiner) primedLocked() bool {
	for _, ok := range c.seen {
		if !ok {
			return false
		}
	}
	return true
}
