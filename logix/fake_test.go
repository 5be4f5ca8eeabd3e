package logix

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"clxtag/cip"
	"clxtag/eip"
)

type fakeTag struct {
	typ  []byte
	elem int
	data []byte
}

// fakeLogix answers Logix tag services from memory. Replies larger than
// maxReply bytes are split with partial-transfer status.
type fakeLogix struct {
	mu        sync.Mutex
	tags      map[string]*fakeTag
	maxReply  int
	routeFail bool
	dialErr   error
	// faults fails the next n requests with errReset. Like eip.Client, the
	// session then answers eip.ErrClosed until it is dialed again.
	faults int
	broken bool

	addr     string
	dials    int
	closed   int
	services []byte
	routes   [][]byte
	lastType []byte
}

func newFakeLogix() *fakeLogix {
	return &fakeLogix{tags: make(map[string]*fakeTag), maxReply: 400}
}

func (f *fakeLogix) define(name string, typ []byte, elem, count int) *fakeTag {
	t := &fakeTag{typ: typ, elem: elem, data: make([]byte, elem*count)}
	f.tags[name] = t
	return t
}

func (f *fakeLogix) dial(ctx context.Context, address string, timeout time.Duration) (transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	f.addr = address
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	f.broken = false
	return f, nil
}

func (f *fakeLogix) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

var cmPath = []byte{0x20, 0x06, 0x24, 0x01}

func (f *fakeLogix) SendRRData(ctx context.Context, p eip.CommonPacket) (*eip.CommonPacket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req, err := p.UnconnectedData()
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.broken {
		return nil, eip.ErrClosed
	}
	if f.faults > 0 {
		f.faults--
		f.broken = true
		return nil, errReset
	}

	if req[0] == cip.SvcUnconnectedSend && req[1] == 2 && bytes.Equal(req[2:6], cmPath) {
		size := int(binary.LittleEndian.Uint16(req[8:10]))
		msg := req[10 : 10+size]
		off := 10 + size + size%2
		words := int(req[off])
		f.routes = append(f.routes, append([]byte(nil), req[off+2:off+2+2*words]...))
		if f.routeFail {
			out := eip.UnconnectedPacket(reply(cip.SvcUnconnectedSend, 0x01, []uint16{0x0204}, nil))
			return &out, nil
		}
		req = msg
	}

	out := eip.UnconnectedPacket(f.serve(req))
	return &out, nil
}

func reply(svc, status byte, ext []uint16, data []byte) []byte {
	out := []byte{svc | cip.ReplyMask, 0, status, byte(len(ext))}
	for _, w := range ext {
		out = binary.LittleEndian.AppendUint16(out, w)
	}
	return append(out, data...)
}

func (f *fakeLogix) serve(req []byte) []byte {
	svc := req[0]
	f.services = append(f.services, svc)
	words := int(req[1])
	path := req[2 : 2+2*words]
	body := req[2+2*words:]

	if path[0] != 0x91 {
		return reply(svc, cip.StatusPathSegmentError, nil, nil)
	}
	t, ok := f.tags[string(path[2:2+int(path[1])])]
	if !ok {
		return reply(svc, cip.StatusPathUnknown, nil, nil)
	}

	switch svc {
	case SvcReadTag, SvcReadTagFragmented:
		want := int(binary.LittleEndian.Uint16(body)) * t.elem
		if want > len(t.data) {
			return reply(svc, cip.StatusGeneralError, []uint16{ExtStatusBeyondEnd}, nil)
		}
		off := 0
		if svc == SvcReadTagFragmented {
			off = int(binary.LittleEndian.Uint32(body[2:6]))
		}
		end := min(off+f.maxReply, want)
		status := cip.StatusSuccess
		if end < want {
			status = cip.StatusPartialTransfer
		}
		return reply(svc, status, nil, append(append([]byte(nil), t.typ...), t.data[off:end]...))

	case SvcWriteTag, SvcWriteTagFragmented:
		n := 2
		if binary.LittleEndian.Uint16(body) == TypeStructure {
			n = 4
		}
		f.lastType = append([]byte(nil), body[:n]...)
		if !bytes.Equal(body[:n], t.typ) {
			return reply(svc, cip.StatusGeneralError, []uint16{ExtStatusIllegalType}, nil)
		}
		data := body[n+2:]
		off := 0
		if svc == SvcWriteTagFragmented {
			off = int(binary.LittleEndian.Uint32(data))
			data = data[4:]
		}
		if off+len(data) > len(t.data) {
			return reply(svc, cip.StatusGeneralError, []uint16{ExtStatusSizeTooLarge}, nil)
		}
		copy(t.data[off:], data)
		return reply(svc, cip.StatusSuccess, nil, nil)
	}
	return reply(svc, cip.StatusServiceNotSupp, nil, nil)
}

func (f *fakeLogix) count(svc byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.services {
		if s == svc {
			n++
		}
	}
	return n
}

var (
	errRefused = errors.New("connection refused")
	errReset   = errors.New("connection reset")
)
