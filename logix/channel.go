// Package logix implements tag channels against ControlLogix and
// CompactLogix controllers using unconnected explicit messaging.
package logix

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"clxtag/cip"
	"clxtag/eip"
	"clxtag/logging"
	"clxtag/tag"
)

var (
	ErrNotInitialized = errors.New("channel not initialized")
	ErrDisposed       = errors.New("channel disposed")
	ErrOutOfBounds    = errors.New("offset out of bounds")
)

// DefaultTimeout bounds each channel operation when the attributes carry
// none.
const DefaultTimeout = 5 * time.Second

// transport is the part of an EtherNet/IP session a channel uses.
type transport interface {
	SendRRData(ctx context.Context, packet eip.CommonPacket) (*eip.CommonPacket, error)
	Close() error
}

type dialFunc func(ctx context.Context, address string, timeout time.Duration) (transport, error)

func dialEIP(ctx context.Context, address string, timeout time.Duration) (transport, error) {
	c, err := eip.Dial(ctx, address, timeout)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Channel is a tag.Channel for one controller tag. Each channel owns its
// own EtherNet/IP session.
type Channel struct {
	attrs tag.Attributes
	dial  dialFunc

	mu       sync.Mutex
	conn     transport
	route    cip.EPath_t
	path     cip.EPath_t
	typ      typeInfo
	count    int
	elemSize int
	buf      []byte
	ready    bool
	disposed bool
}

var _ tag.Channel = (*Channel)(nil)

// Open returns an uninitialised channel for attrs. It satisfies tag.Opener.
func Open(attrs tag.Attributes) tag.Channel {
	return newChannel(attrs, dialEIP)
}

func newChannel(attrs tag.Attributes, dial dialFunc) *Channel {
	if attrs.Timeout <= 0 {
		attrs.Timeout = DefaultTimeout
	}
	return &Channel{attrs: attrs, dial: dial, count: max(attrs.ElementCount, 1)}
}

// Initialize connects to the gateway and reads the tag once to learn its
// type and element size.
func (c *Channel) Initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.attrs.Timeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	if c.ready {
		return nil
	}

	path, err := cip.EPath().Symbol(c.attrs.Name).Build()
	if err != nil {
		return fmt.Errorf("tag %q: %w", c.attrs.Name, err)
	}
	c.path = path

	// Micro800 controllers are addressed directly.
	if c.attrs.PLC != tag.PLCMicro800 {
		if c.route, err = cip.ParseRoute(c.attrs.Path); err != nil {
			return err
		}
	}

	if err := c.connect(ctx); err != nil {
		return err
	}

	typ, data, err := c.readTag(ctx, c.count)
	if err != nil {
		c.closeConn()
		logging.DebugError("logix", "initialize "+c.attrs.Name, err)
		return fmt.Errorf("read %s: %w", c.attrs.Name, err)
	}
	if len(data) == 0 || len(data)%c.count != 0 {
		c.closeConn()
		return fmt.Errorf("read %s: %d bytes do not divide into %d elements", c.attrs.Name, len(data), c.count)
	}

	c.typ = typ
	c.elemSize = len(data) / c.count
	c.buf = data
	c.ready = true
	logging.DebugLog("logix", "initialized %s on %s: type %s, %d x %d bytes",
		c.attrs.Name, c.attrs.Gateway, typ, c.count, c.elemSize)
	return nil
}

func (c *Channel) Read(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.attrs.Timeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}

	if err := c.connect(ctx); err != nil {
		return err
	}
	_, data, err := c.readTag(ctx, c.count)
	if err != nil {
		return fmt.Errorf("read %s: %w", c.attrs.Name, err)
	}
	if len(data) != c.count*c.elemSize {
		return fmt.Errorf("read %s: got %d bytes, expected %d", c.attrs.Name, len(data), c.count*c.elemSize)
	}
	c.buf = data
	return nil
}

func (c *Channel) Write(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.attrs.Timeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.usable(); err != nil {
		return err
	}

	if err := c.connect(ctx); err != nil {
		return err
	}
	if err := c.writeTag(ctx, c.typ, c.count, c.buf); err != nil {
		return fmt.Errorf("write %s: %w", c.attrs.Name, err)
	}
	return nil
}

func (c *Channel) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

func (c *Channel) ElementCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// SetElementCount resizes the local buffer; new elements are zero until the
// next Read.
func (c *Channel) SetElementCount(n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid element count %d", n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = n
	if c.ready {
		buf := make([]byte, n*c.elemSize)
		copy(buf, c.buf)
		c.buf = buf
	}
	return nil
}

func (c *Channel) Dispose() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil
	}
	c.disposed = true
	c.ready = false
	c.buf = nil
	return c.closeConn()
}

// connect dials the gateway unless a session is already open. A session
// dropped by a transport fault is replaced here, once per call. c.mu must
// be held.
func (c *Channel) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	conn, err := c.dial(ctx, c.attrs.Gateway, c.attrs.Timeout)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// closeConn drops the session. c.mu must be held.
func (c *Channel) closeConn() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Channel) usable() error {
	if c.disposed {
		return ErrDisposed
	}
	if !c.ready {
		return ErrNotInitialized
	}
	return nil
}

// span returns the n bytes at offset. c.mu must be held.
func (c *Channel) span(offset, n int) ([]byte, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	if offset < 0 || offset+n > len(c.buf) {
		return nil, fmt.Errorf("%w: %d+%d > %d", ErrOutOfBounds, offset, n, len(c.buf))
	}
	return c.buf[offset : offset+n], nil
}

func get[T any](c *Channel, offset, n int, decode func([]byte) T) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.span(offset, n)
	if err != nil {
		var zero T
		return zero, err
	}
	return decode(b), nil
}

func set(c *Channel, offset, n int, encode func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.span(offset, n)
	if err != nil {
		return err
	}
	encode(b)
	return nil
}

func (c *Channel) GetBit(index int) (bool, error) {
	if index < 0 {
		return false, fmt.Errorf("%w: bit %d", ErrOutOfBounds, index)
	}
	return get(c, index/8, 1, func(b []byte) bool { return b[0]&(1<<(index%8)) != 0 })
}

func (c *Channel) SetBit(index int, v bool) error {
	if index < 0 {
		return fmt.Errorf("%w: bit %d", ErrOutOfBounds, index)
	}
	return set(c, index/8, 1, func(b []byte) {
		if v {
			b[0] |= 1 << (index % 8)
		} else {
			b[0] &^= 1 << (index % 8)
		}
	})
}

func (c *Channel) GetInt8(offset int) (int8, error) {
	return get(c, offset, 1, func(b []byte) int8 { return int8(b[0]) })
}

func (c *Channel) SetInt8(offset int, v int8) error {
	return set(c, offset, 1, func(b []byte) { b[0] = byte(v) })
}

func (c *Channel) GetUint8(offset int) (uint8, error) {
	return get(c, offset, 1, func(b []byte) uint8 { return b[0] })
}

func (c *Channel) SetUint8(offset int, v uint8) error {
	return set(c, offset, 1, func(b []byte) { b[0] = v })
}

func (c *Channel) GetInt16(offset int) (int16, error) {
	return get(c, offset, 2, func(b []byte) int16 { return int16(binary.LittleEndian.Uint16(b)) })
}

func (c *Channel) SetInt16(offset int, v int16) error {
	return set(c, offset, 2, func(b []byte) { binary.LittleEndian.PutUint16(b, uint16(v)) })
}

func (c *Channel) GetInt32(offset int) (int32, error) {
	return get(c, offset, 4, func(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b)) })
}

func (c *Channel) SetInt32(offset int, v int32) error {
	return set(c, offset, 4, func(b []byte) { binary.LittleEndian.PutUint32(b, uint32(v)) })
}

func (c *Channel) GetInt64(offset int) (int64, error) {
	return get(c, offset, 8, func(b []byte) int64 { return int64(binary.LittleEndian.Uint64(b)) })
}

func (c *Channel) SetInt64(offset int, v int64) error {
	return set(c, offset, 8, func(b []byte) { binary.LittleEndian.PutUint64(b, uint64(v)) })
}

func (c *Channel) GetFloat32(offset int) (float32, error) {
	return get(c, offset, 4, func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) })
}

func (c *Channel) SetFloat32(offset int, v float32) error {
	return set(c, offset, 4, func(b []byte) { binary.LittleEndian.PutUint32(b, math.Float32bits(v)) })
}
