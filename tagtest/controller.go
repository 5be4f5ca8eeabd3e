// Package tagtest provides an in-memory controller and a tag.Channel double
// for exercising the cache, codec and dispatcher without a PLC.
package tagtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"clxtag/tag"
)

// ErrTagNotFound is returned by Initialize for names the controller does not
// define.
var ErrTagNotFound = errors.New("tag not found")

// Op names a channel operation for counters and fault injection.
type Op string

const (
	OpInitialize Op = "initialize"
	OpRead       Op = "read"
	OpWrite      Op = "write"
	OpDispose    Op = "dispose"
)

type memory struct {
	typ      tag.Type
	elemSize int
	data     []byte
}

// Controller holds tag memory shared by every channel opened from it.
type Controller struct {
	mu        sync.Mutex
	tags      map[string]*memory
	faults    map[string]map[Op]error
	counts    map[Op]int
	opened    []tag.Attributes
	live      int
	initDelay time.Duration
}

// NewController returns an empty controller.
func NewController() *Controller {
	return &Controller{
		tags:   make(map[string]*memory),
		faults: make(map[string]map[Op]error),
		counts: make(map[Op]int),
	}
}

// elemSize is the byte size of one controller element. BOOL arrays are
// stored as 32-bit words.
func elemSize(t tag.Type) int {
	if t.IsBit() {
		return 4
	}
	return t.Width()
}

// Define creates (or replaces) a tag of type t holding length logical
// elements, zero filled. A length of 0 defines a scalar.
func (c *Controller) Define(name string, t tag.Type, length int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	size := elemSize(t)
	c.tags[name] = &memory{
		typ:      t,
		elemSize: size,
		data:     make([]byte, size*t.ElementCount(length)),
	}
}

// Bytes returns a copy of a tag's memory.
func (c *Controller) Bytes(name string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.tags[name]
	if !ok {
		return nil
	}
	return append([]byte(nil), m.data...)
}

// Poke overwrites a tag's memory at offset. It panics on unknown names or
// out-of-range writes; it is only meant for test setup.
func (c *Controller) Poke(name string, offset int, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.tags[name]
	if !ok {
		panic(fmt.Sprintf("tagtest: poke of undefined tag %q", name))
	}
	copy(m.data[offset:offset+len(b)], b)
}

// Fault makes op fail with err for every channel on the named tag. A nil
// err clears the fault.
func (c *Controller) Fault(name string, op Op, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.faults[name], op)
		return
	}
	if c.faults[name] == nil {
		c.faults[name] = make(map[Op]error)
	}
	c.faults[name][op] = err
}

// SetInitDelay makes every Initialize wait d (or until its context ends).
func (c *Controller) SetInitDelay(d time.Duration) {
	c.mu.Lock()
	c.initDelay = d
	c.mu.Unlock()
}

// Count returns how many times op has been called across all channels.
func (c *Controller) Count(op Op) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[op]
}

// IO returns the number of Read plus Write calls.
func (c *Controller) IO() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[OpRead] + c.counts[OpWrite]
}

// Opened returns the attributes of every channel built so far, in order.
func (c *Controller) Opened() []tag.Attributes {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]tag.Attributes(nil), c.opened...)
}

// Live returns the number of channels opened and not yet disposed.
func (c *Controller) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// ResetCounts zeroes the operation counters and the opened list.
func (c *Controller) ResetCounts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = make(map[Op]int)
	c.opened = nil
}

// Opener returns a tag.Opener producing channels backed by c.
func (c *Controller) Opener() tag.Opener {
	return func(attrs tag.Attributes) tag.Channel {
		c.mu.Lock()
		c.opened = append(c.opened, attrs)
		c.live++
		c.mu.Unlock()
		return &Channel{ctrl: c, attrs: attrs, count: attrs.ElementCount}
	}
}

// enter records op and returns any injected fault for it.
func (c *Controller) enter(name string, op Op) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[op]++
	return c.faults[name][op]
}

func (c *Controller) lookup(name string) (*memory, error) {
	m, ok := c.tags[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTagNotFound, name)
	}
	return m, nil
}

func (c *Controller) wait(ctx context.Context) error {
	c.mu.Lock()
	d := c.initDelay
	c.mu.Unlock()
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
