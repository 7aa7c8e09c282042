package crypto

import "sync/atomic"

// Counter hands out packet counters. Every value is handed out once, even
// if the packet built with it is later discarded. A Counter is shared by
// every Builder that may seal under the same keys.
type Counter struct {
	n atomic.Uint64
}

// NewCounter returns a counter whose first value is start+1
func NewCounter(start uint64) *Counter {
	c := new(Counter)
	c.n.Store(start)
	return c
}

// Next returns a value no other caller has seen
func (c *Counter) Next() uint64 {
	return c.n.Add(1)
}

// Load returns the last value handed out
func (c *Counter) Load() uint64 {
	return c.n.Load()
}
