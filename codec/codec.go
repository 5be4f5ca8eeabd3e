// Package codec maps logical element ranges onto a tag channel's byte
// buffer: byte strides for numeric arrays, bit indices for packed BOOL
// arrays, and the fixed length-prefixed layout of Logix strings.
package codec

import (
	"context"
	"fmt"

	"clxtag/tag"
)

// Stride returns the byte distance between consecutive elements of an
// array of the given length held by ch. Strings always use the fixed
// element stride; bit kinds have no byte stride and return 0.
func Stride(ch tag.Channel, t tag.Type, length int) int {
	switch {
	case t.IsBit():
		return 0
	case t.IsString():
		return tag.StringStride
	case length <= 0:
		return ch.Size()
	default:
		return ch.Size() / length
	}
}

// ElementCount returns how many controller elements hold length logical
// elements of type t. Bit kinds pack 32 per element.
func ElementCount(t tag.Type, length int) int {
	return t.ElementCount(length)
}

// BitElementCount returns the number of 32-bit words needed to address
// bit index.
func BitElementCount(index int) int {
	return index/tag.BitsPerElement + 1
}

// EncodeElement stages v as element index of ch. The value's type must
// match t.
func EncodeElement(ch tag.Channel, t tag.Type, index, stride int, v tag.Value) error {
	if !v.IsValid() || !(v.Type() == t || (v.Type().IsBit() && t.IsBit())) {
		return fmt.Errorf("%w: %s value for %s tag", tag.ErrWrongType, v.Type(), t)
	}

	off := index * stride
	switch t {
	case tag.Bool, tag.Bit:
		return ch.SetBit(index, v.Bool())
	case tag.Sint:
		return ch.SetInt8(off, int8(v.Int()))
	case tag.Int:
		return ch.SetInt16(off, int16(v.Int()))
	case tag.Dint:
		return ch.SetInt32(off, int32(v.Int()))
	case tag.Lint:
		return ch.SetInt64(off, v.Int())
	case tag.Real:
		return ch.SetFloat32(off, v.Float())
	case tag.String:
		return writeString(ch, off, v.Str())
	}
	return fmt.Errorf("%w: %s", tag.ErrWrongType, t)
}

// DecodeElement reads element index of ch as type t.
func DecodeElement(ch tag.Channel, t tag.Type, index, stride int) (tag.Value, error) {
	off := index * stride
	switch t {
	case tag.Bool, tag.Bit:
		b, err := ch.GetBit(index)
		return tag.BoolValue(b), err
	case tag.Sint:
		n, err := ch.GetInt8(off)
		return tag.SintValue(n), err
	case tag.Int:
		n, err := ch.GetInt16(off)
		return tag.IntValue(n), err
	case tag.Dint:
		n, err := ch.GetInt32(off)
		return tag.DintValue(n), err
	case tag.Lint:
		n, err := ch.GetInt64(off)
		return tag.LintValue(n), err
	case tag.Real:
		f, err := ch.GetFloat32(off)
		return tag.RealValue(f), err
	case tag.String:
		s, err := readString(ch, off)
		return tag.StringValue(s), err
	}
	return tag.Value{}, fmt.Errorf("%w: %s", tag.ErrWrongType, t)
}

// Encode stages values as elements [0, len(values)) of ch, where ch holds
// length logical elements.
func Encode(ch tag.Channel, t tag.Type, length int, values []tag.Value) error {
	if err := tag.CheckSpan(length, 0, len(values)); err != nil {
		return err
	}
	return encodeFrom(ch, t, length, 0, values)
}

// Decode reads the first count elements of ch, which holds length logical
// elements.
func Decode(ch tag.Channel, t tag.Type, length, count int) ([]tag.Value, error) {
	if err := tag.CheckSpan(length, 0, count); err != nil {
		return nil, err
	}
	return decodeFrom(ch, t, length, 0, count)
}

// WriteRange writes values into elements [start, start+len(values)) of an
// array of the given length and sends the buffer. The span is checked
// before ch is touched. An over-long string aborts the call before any
// element is staged.
func WriteRange(ctx context.Context, ch tag.Channel, t tag.Type, length, start int, values []tag.Value) error {
	if err := tag.CheckSpan(length, start, len(values)); err != nil {
		return err
	}
	if err := encodeFrom(ch, t, length, start, values); err != nil {
		return err
	}
	return ch.Write(ctx)
}

// ReadRange reads elements [start, start+count) of an array of the given
// length. The span is checked before ch is touched.
func ReadRange(ctx context.Context, ch tag.Channel, t tag.Type, length, start, count int) ([]tag.Value, error) {
	if err := tag.CheckSpan(length, start, count); err != nil {
		return nil, err
	}
	if err := ch.Read(ctx); err != nil {
		return nil, err
	}
	return decodeFrom(ch, t, length, start, count)
}

func encodeFrom(ch tag.Channel, t tag.Type, length, start int, values []tag.Value) error {
	if err := CheckStrings(t, values); err != nil {
		return err
	}
	stride := Stride(ch, t, length)
	for i, v := range values {
		if err := EncodeElement(ch, t, start+i, stride, v); err != nil {
			return err
		}
	}
	return nil
}

func decodeFrom(ch tag.Channel, t tag.Type, length, start, count int) ([]tag.Value, error) {
	stride := Stride(ch, t, length)
	out := make([]tag.Value, count)
	for i := range out {
		v, err := DecodeElement(ch, t, start+i, stride)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
