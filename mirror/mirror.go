// Package mirror copies tag activity to external systems and carries write
// requests from them back to the controllers.
//
// A Fanout is installed as the plc.Observer of every managed PLC. Events are
// queued and delivered to each Sink by a small worker pool, so a slow broker
// never stalls tag I/O; when the queue is full new events are dropped and
// counted.
package mirror

import (
	"context"
	"time"

	"clxtag/plc"
	"clxtag/tag"
)

// Message is the JSON document published for every mirrored transfer.
type Message struct {
	PLC       string    `json:"plc"`
	Tag       string    `json:"tag"`
	Type      string    `json:"type"`
	Op        string    `json:"op"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// FromEvent converts an observer event into a Message. Array values become
// native slices ([]int32 for Dint, ...).
func FromEvent(e plc.Event) Message {
	var value any
	switch v := e.Value.(type) {
	case tag.Value:
		value = v.Any()
	case []tag.Value:
		value = plc.NativeSlice(e.Type, v)
	default:
		value = v
	}
	return Message{
		PLC:       e.PLC,
		Tag:       e.Tag,
		Type:      e.Type.String(),
		Op:        string(e.Op),
		Value:     value,
		Timestamp: e.Time.UTC(),
	}
}

// Sink publishes messages to one external system.
type Sink interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
}
