package cip

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

type LogicalType byte
type LogicalFormat byte
type SegmentType byte

const (
	CipPortSegment     SegmentType = 0b000
	CipLogicalSegment  SegmentType = 0b001
	CipSymbolicSegment SegmentType = 0b011

	CipLogicalTypeClassId     LogicalType = 0x0
	CipLogicalTypeInstanceId  LogicalType = 0b1
	CipLogicalTypeAttributeId LogicalType = 0b100

	CipLogicalFormat8bit  LogicalFormat = 0b0
	CipLogicalFormat16bit LogicalFormat = 0b1
	CipLogicalFormat32bit LogicalFormat = 0b10
)

// EPath_t is an encoded path used in CIP communications.
type EPath_t []byte

// WordLen is the path length in 16-bit words.
func (p EPath_t) WordLen() byte {
	return byte(len(p) / 2)
}

// PathBuilder is a fluent EPath builder. The first error sticks and is
// returned by Build.
type PathBuilder struct {
	err   error
	epath EPath_t
}

func EPath() *PathBuilder {
	return &PathBuilder{}
}

func (b *PathBuilder) add(p EPath_t, err error) *PathBuilder {
	if b.err != nil {
		return b
	}
	if err != nil {
		b.err = err
		return b
	}
	b.epath = append(b.epath, p...)
	return b
}

// Port adds a port segment: leave through port, to link address link.
func (b *PathBuilder) Port(port, link byte) *PathBuilder {
	if port > 14 {
		return b.add(nil, fmt.Errorf("port %d out of range 0-14", port))
	}
	return b.add(EPath_t{(byte(CipPortSegment) << 5) | port, link}, nil)
}

func (b *PathBuilder) Class(id byte) *PathBuilder {
	return b.add(logicalSegment(CipLogicalTypeClassId, CipLogicalFormat8bit, []byte{id}))
}

func (b *PathBuilder) Instance(id byte) *PathBuilder {
	return b.add(logicalSegment(CipLogicalTypeInstanceId, CipLogicalFormat8bit, []byte{id}))
}

func (b *PathBuilder) Instance16(id uint16) *PathBuilder {
	return b.add(logicalSegment(CipLogicalTypeInstanceId, CipLogicalFormat16bit, binary.LittleEndian.AppendUint16(nil, id)))
}

func (b *PathBuilder) Attribute(id byte) *PathBuilder {
	return b.add(logicalSegment(CipLogicalTypeAttributeId, CipLogicalFormat8bit, []byte{id}))
}

// Symbol adds a tag name. Dots separate symbolic segments, "Program:Main"
// stays one segment, and bracketed indexes (including "[1,2]") become
// member segments.
func (b *PathBuilder) Symbol(tag string) *PathBuilder {
	parts, err := splitTagPath(tag)
	if err != nil {
		return b.add(nil, err)
	}
	for _, part := range parts {
		if part.isIndex {
			b = b.add(memberSegment(part.index))
		} else {
			b = b.add(symbolicSegmentAsciiExt([]byte(part.name)))
		}
	}
	return b
}

// Build returns a copy of the path, padded to a word boundary.
func (b *PathBuilder) Build() (EPath_t, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := append(EPath_t{}, b.epath...)
	if len(out)%2 != 0 {
		out = append(out, 0x00)
	}
	return out, nil
}

// ParseRoute parses a route in the "1,0" form: pairs of port and link
// address, comma separated. An empty route means the target is the device
// at the gateway address.
func ParseRoute(route string) (EPath_t, error) {
	route = strings.TrimSpace(route)
	if route == "" {
		return nil, nil
	}
	fields := strings.Split(route, ",")
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("route %q: expected port,link pairs", route)
	}
	b := EPath()
	for i := 0; i < len(fields); i += 2 {
		port, err := strconv.ParseUint(strings.TrimSpace(fields[i]), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("route %q: bad port %q", route, fields[i])
		}
		link, err := strconv.ParseUint(strings.TrimSpace(fields[i+1]), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("route %q: bad link %q", route, fields[i+1])
		}
		b.Port(byte(port), byte(link))
	}
	return b.Build()
}

// logicalSegment encodes a padded logical segment. 16 and 32-bit values are
// preceded by a pad byte for word alignment.
func logicalSegment(logicalType LogicalType, format LogicalFormat, value []byte) (EPath_t, error) {
	switch format {
	case CipLogicalFormat8bit:
		if len(value) != 1 {
			return nil, fmt.Errorf("LogicalSegment: 8-bit format requires 1 byte, got %d", len(value))
		}
	case CipLogicalFormat16bit:
		if len(value) != 2 {
			return nil, fmt.Errorf("LogicalSegment: 16-bit format requires 2 bytes, got %d", len(value))
		}
	case CipLogicalFormat32bit:
		if len(value) != 4 {
			return nil, fmt.Errorf("LogicalSegment: 32-bit format requires 4 bytes, got %d", len(value))
		}
	default:
		return nil, fmt.Errorf("LogicalSegment: unsupported logical format %v", format)
	}

	out := make(EPath_t, 1, 2+len(value))
	out[0] = (byte(CipLogicalSegment) << 5) | (byte(logicalType)&0b111)<<2 | byte(format)&0b11
	if format != CipLogicalFormat8bit {
		out = append(out, 0x00)
	}
	return append(out, value...), nil
}

type tagPart struct {
	name    string
	index   uint32
	isIndex bool
}

// splitTagPath parses "Program:Main.Tag[5].Member" into components.
func splitTagPath(tag string) ([]tagPart, error) {
	var parts []tagPart
	current := ""

	for i := 0; i < len(tag); i++ {
		ch := tag[i]
		switch ch {
		case '.':
			if current != "" {
				parts = append(parts, tagPart{name: current})
				current = ""
			}
		case '[':
			if current != "" {
				parts = append(parts, tagPart{name: current})
				current = ""
			}
			end := strings.IndexByte(tag[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("tag %q: unterminated index", tag)
			}
			for _, s := range strings.Split(tag[i+1:i+end], ",") {
				idx, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
				if err != nil {
					return nil, fmt.Errorf("tag %q: bad index %q", tag, s)
				}
				parts = append(parts, tagPart{index: uint32(idx), isIndex: true})
			}
			i += end
		case ']':
			return nil, fmt.Errorf("tag %q: unexpected ']'", tag)
		default:
			current += string(ch)
		}
	}
	if current != "" {
		parts = append(parts, tagPart{name: current})
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty tag name")
	}
	return parts, nil
}

// memberSegment creates a member/element segment for array indexing.
func memberSegment(index uint32) (EPath_t, error) {
	if index <= 0xFF {
		return EPath_t{0x28, byte(index)}, nil
	} else if index <= 0xFFFF {
		return EPath_t{0x29, 0x00, byte(index), byte(index >> 8)}, nil
	}
	return EPath_t{0x2A, 0x00, byte(index), byte(index >> 8), byte(index >> 16), byte(index >> 24)}, nil
}

func symbolicSegmentAsciiExt(symbol []byte) (EPath_t, error) {
	if len(symbol) > 255 {
		return nil, fmt.Errorf("SymbolicSegmentAsciiExt: Symbol is too long, maximum 255 bytes.")
	}
	if len(symbol) == 0 {
		return nil, fmt.Errorf("SymbolicSegmentAsciiExt: Symbol length is zero - cannot encode epath.")
	}
	out := EPath_t{0x91, byte(len(symbol))}
	out = append(out, symbol...)
	if len(out)%2 != 0 {
		out = append(out, 0x00)
	}
	return out, nil
}
