package tagtest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"clxtag/tag"
)

// Errors reported by the channel double.
var (
	ErrNotInitialized = errors.New("channel not initialized")
	ErrDisposed       = errors.New("channel disposed")
	ErrOutOfBounds    = errors.New("offset out of bounds")
	ErrTooManyElems   = errors.New("element count exceeds tag size")
)

// Channel is a tag.Channel over a Controller's memory. The local buffer is
// only synchronised with the controller on Read and Write.
type Channel struct {
	ctrl  *Controller
	attrs tag.Attributes

	mu       sync.Mutex
	count    int
	elemSize int
	buf      []byte
	ready    bool
	disposed bool
}

var _ tag.Channel = (*Channel)(nil)

// Attributes returns the attributes the channel was opened with.
func (ch *Channel) Attributes() tag.Attributes { return ch.attrs }

func (ch *Channel) Initialize(ctx context.Context) error {
	if err := ch.ctrl.enter(ch.attrs.Name, OpInitialize); err != nil {
		return err
	}
	if err := ch.ctrl.wait(ctx); err != nil {
		return err
	}

	ch.ctrl.mu.Lock()
	m, err := ch.ctrl.lookup(ch.attrs.Name)
	ch.ctrl.mu.Unlock()
	if err != nil {
		return err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.disposed {
		return ErrDisposed
	}
	if ch.count <= 0 {
		ch.count = 1
	}
	ch.elemSize = m.elemSize
	ch.buf = make([]byte, ch.count*ch.elemSize)
	ch.ready = true
	return ch.load()
}

// load copies controller memory into the local buffer. ch.mu must be held.
func (ch *Channel) load() error {
	ch.ctrl.mu.Lock()
	defer ch.ctrl.mu.Unlock()
	m, err := ch.ctrl.lookup(ch.attrs.Name)
	if err != nil {
		return err
	}
	if len(ch.buf) > len(m.data) {
		return fmt.Errorf("%w: %s has %d bytes, requested %d", ErrTooManyElems, ch.attrs.Name, len(m.data), len(ch.buf))
	}
	copy(ch.buf, m.data)
	return nil
}

func (ch *Channel) Read(ctx context.Context) error {
	if err := ch.ctrl.enter(ch.attrs.Name, OpRead); err != nil {
		return err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.usable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ch.load()
}

func (ch *Channel) Write(ctx context.Context) error {
	if err := ch.ctrl.enter(ch.attrs.Name, OpWrite); err != nil {
		return err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if err := ch.usable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ch.ctrl.mu.Lock()
	defer ch.ctrl.mu.Unlock()
	m, err := ch.ctrl.lookup(ch.attrs.Name)
	if err != nil {
		return err
	}
	if len(ch.buf) > len(m.data) {
		return fmt.Errorf("%w: %s", ErrTooManyElems, ch.attrs.Name)
	}
	copy(m.data, ch.buf)
	return nil
}

func (ch *Channel) Size() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.buf)
}

func (ch *Channel) ElementCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.count
}

func (ch *Channel) SetElementCount(n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid element count %d", n)
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.count = n
	if ch.ready {
		buf := make([]byte, n*ch.elemSize)
		copy(buf, ch.buf)
		ch.buf = buf
	}
	return nil
}

func (ch *Channel) Dispose() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.disposed {
		return nil
	}
	ch.disposed = true
	ch.ready = false
	ch.buf = nil
	ch.ctrl.mu.Lock()
	ch.ctrl.counts[OpDispose]++
	ch.ctrl.live--
	ch.ctrl.mu.Unlock()
	return nil
}

// Disposed reports whether Dispose has run.
func (ch *Channel) Disposed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.disposed
}

func (ch *Channel) usable() error {
	if ch.disposed {
		return ErrDisposed
	}
	if !ch.ready {
		return ErrNotInitialized
	}
	return nil
}

// span returns the n bytes at offset, checking bounds. ch.mu must be held.
func (ch *Channel) span(offset, n int) ([]byte, error) {
	if err := ch.usable(); err != nil {
		return nil, err
	}
	if offset < 0 || offset+n > len(ch.buf) {
		return nil, fmt.Errorf("%w: %d+%d > %d", ErrOutOfBounds, offset, n, len(ch.buf))
	}
	return ch.buf[offset : offset+n], nil
}

func (ch *Channel) GetBit(index int) (bool, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	b, err := ch.bit(index)
	if err != nil {
		return false, err
	}
	return b[0]&(1<<(index%8)) != 0, nil
}

func (ch *Channel) SetBit(index int, v bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	b, err := ch.bit(index)
	if err != nil {
		return err
	}
	if v {
		b[0] |= 1 << (index % 8)
	} else {
		b[0] &^= 1 << (index % 8)
	}
	return nil
}

func (ch *Channel) bit(index int) ([]byte, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: bit %d", ErrOutOfBounds, index)
	}
	return ch.span(index/8, 1)
}

func (ch *Channel) GetInt8(offset int) (int8, error) {
	v, err := ch.GetUint8(offset)
	return int8(v), err
}

func (ch *Channel) SetInt8(offset int, v int8) error {
	return ch.SetUint8(offset, uint8(v))
}

func (ch *Channel) GetUint8(offset int) (uint8, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	b, err := ch.span(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (ch *Channel) SetUint8(offset int, v uint8) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	b, err := ch.span(offset, 1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

func (ch *Channel) GetInt16(offset int) (int16, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	b, err := ch.span(offset, 2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

func (ch *Channel) SetInt16(offset int, v int16) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	b, err := ch.span(offset, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, uint16(v))
	return nil
}

func (ch *Channel) GetInt32(offset int) (int32, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	b, err := ch.span(offset, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (ch *Channel) SetInt32(offset int, v int32) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	b, err := ch.span(offset, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, uint32(v))
	return nil
}

func (ch *Channel) GetInt64(offset int) (int64, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	b, err := ch.span(offset, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (ch *Channel) SetInt64(offset int, v int64) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	b, err := ch.span(offset, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, uint64(v))
	return nil
}

func (ch *Channel) GetFloat32(offset int) (float32, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	b, err := ch.span(offset, 4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

func (ch *Channel) SetFloat32(offset int, v float32) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	b, err := ch.span(offset, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return nil
}
