package tag

import (
	"context"
	"time"
)

// Controller families understood by the transport.
const (
	PLCControlLogix = "controllogix"
	PLCCompactLogix = "compactlogix"
	PLCMicro800     = "micro800"
)

// ProtocolEIP is the only supported protocol: Allen-Bradley EtherNet/IP.
const ProtocolEIP = "ab_eip"

// Attributes describe one controller session before it is initialised.
type Attributes struct {
	Name         string
	Gateway      string
	Path         string
	PLC          string
	Protocol     string
	Timeout      time.Duration
	ElementCount int
}

// Channel is one session against a single tag on a controller. It owns a
// local copy of the tag's bytes: Read refreshes the copy, Write sends it, and
// the accessors operate on it at a byte offset (or bit index).
//
// Implementations enforce the configured timeout; callers never add one.
type Channel interface {
	// Initialize opens the session and sizes the local buffer.
	Initialize(ctx context.Context) error
	Read(ctx context.Context) error
	Write(ctx context.Context) error

	// Size is the byte length of the whole element span.
	Size() int
	ElementCount() int
	// SetElementCount resizes the span; it takes effect on the next Read.
	SetElementCount(n int) error

	GetBit(index int) (bool, error)
	SetBit(index int, v bool) error

	GetInt8(offset int) (int8, error)
	SetInt8(offset int, v int8) error
	GetUint8(offset int) (uint8, error)
	SetUint8(offset int, v uint8) error
	GetInt16(offset int) (int16, error)
	SetInt16(offset int, v int16) error
	GetInt32(offset int) (int32, error)
	SetInt32(offset int, v int32) error
	GetInt64(offset int) (int64, error)
	SetInt64(offset int, v int64) error
	GetFloat32(offset int) (float32, error)
	SetFloat32(offset int, v float32) error

	// Dispose releases the session. It is safe to call more than once.
	Dispose() error
}

// Opener builds an uninitialised channel for the given attributes.
type Opener func(attrs Attributes) Channel
