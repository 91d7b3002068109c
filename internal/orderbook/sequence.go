package orderbook

import "sync/atomic"

// Counter is a Sequencer starting at 1.
type Counter struct {
	n atomic.Uint64
}

// Next returns the next value.
func (c *Counter) Next() uint64 {
	return c.n.Add(1)
}

// Last returns the most recently issued value, 0 if none.
func (c *Counter) Last() uint64 {
	return c.n.Load()
}
