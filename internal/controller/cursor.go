package controller

import (
	"sync"
	"sync/atomic"
)

// Cursor keeps one round-robin position per object name. Positions start at
// zero, are created on first use and live for the life of the process.
// Thread-safe: concurrent Next calls for one name never lose an advance.
type Cursor struct {
	positions sync.Map // name -> *atomic.Uint32
}

// NewCursor creates an empty cursor.
func NewCursor() *Cursor {
	return &Cursor{}
}

func (c *Cursor) position(name string) *atomic.Uint32 {
	if p, ok := c.positions.Load(name); ok {
		return p.(*atomic.Uint32)
	}
	p, _ := c.positions.LoadOrStore(name, new(atomic.Uint32))
	return p.(*atomic.Uint32)
}

// Next returns the current index for name and advances it to (i+1) mod n.
// n must be positive.
func (c *Cursor) Next(name string, n int) int {
	p := c.position(name)
	for {
		cur := p.Load()
		// The replica set is fixed, but keep a stale index in range.
		idx := cur % uint32(n)
		if p.CompareAndSwap(cur, (idx+1)%uint32(n)) {
			return int(idx)
		}
	}
}

// Peek returns the index the next dispatch for name will use, without
// advancing it. Unknown names report zero.
func (c *Cursor) Peek(name string) int {
	if p, ok := c.positions.Load(name); ok {
		return int(p.(*atomic.Uint32).Load())
	}
	return 0
}
