package plc

import (
	"time"

	"clxtag/tag"
)

// Op identifies the kind of transfer in an Event.
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// Event describes one successful transfer. Value is a tag.Value for scalar
// and indexed-bit requests and a []tag.Value for arrays and ranges.
type Event struct {
	PLC   string
	Tag   string
	Type  tag.Type
	Op    Op
	Value any
	Time  time.Time
}

// Observer receives events synchronously on the calling goroutine and must
// not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
