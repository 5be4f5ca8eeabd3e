package plc

import (
	"context"
	"fmt"

	"clxtag/codec"
	"clxtag/logging"
	"clxtag/tag"
)

// Unit is the value type of write responses, which never carry a value.
type Unit = struct{}

func wrongType(want tag.Type, got tag.Value) error {
	if !want.Valid() {
		return fmt.Errorf("%w: unsupported tag type %s", tag.ErrWrongType, want)
	}
	return fmt.Errorf("%w: %s value for %s tag", tag.ErrWrongType, got.Type(), want)
}

// Read reads a scalar tag. For Bool and Bit, a name of the form "base[n]"
// reads bit n of the BOOL array base.
func (p *PLC) Read(ctx context.Context, name string, typ tag.Type) tag.Response[tag.Value] {
	v, err := p.read(ctx, name, typ)
	if err != nil {
		logging.DebugError("plc", "read "+name, err)
		return tag.Fail[tag.Value](name, err)
	}
	p.observe(OpRead, name, typ, v)
	return tag.OK(name, v)
}

// ReadArray reads a whole array (shape.Count == 0) or the slice
// [shape.Start, shape.Start+shape.Count) of an array of shape.Length
// elements.
func (p *PLC) ReadArray(ctx context.Context, name string, typ tag.Type, shape tag.Shape) tag.Response[[]tag.Value] {
	vals, err := p.readArray(ctx, name, typ, shape)
	if err != nil {
		logging.DebugError("plc", "read array "+name, err)
		return tag.Fail[[]tag.Value](name, err)
	}
	p.observe(OpRead, name, typ, vals)
	return tag.OK(name, vals)
}

// ReadDims reads a whole array of up to three dimensions through the cache.
// Elements are returned in controller order.
func (p *PLC) ReadDims(ctx context.Context, name string, typ tag.Type, dims ...int) tag.Response[[]tag.Value] {
	vals, err := p.readWhole(ctx, name, typ, dims...)
	if err != nil {
		logging.DebugError("plc", "read array "+name, err)
		return tag.Fail[[]tag.Value](name, err)
	}
	p.observe(OpRead, name, typ, vals)
	return tag.OK(name, vals)
}

// Write writes a scalar tag. For Bool and Bit, a name of the form "base[n]"
// writes bit n of the BOOL array base and leaves the other bits as read.
func (p *PLC) Write(ctx context.Context, name string, typ tag.Type, v tag.Value) tag.Response[Unit] {
	if err := p.write(ctx, name, typ, v); err != nil {
		logging.DebugError("plc", "write "+name, err)
		return tag.Fail[Unit](name, err)
	}
	p.observe(OpWrite, name, typ, v)
	return tag.Done[Unit](name)
}

// WriteArray writes a whole array of shape.Length elements, or, when
// shape.Count > 0, writes values starting at shape.Start. A name of the
// form "base[n]" with a whole-array shape writes values starting at n.
func (p *PLC) WriteArray(ctx context.Context, name string, typ tag.Type, values []tag.Value, shape tag.Shape) tag.Response[Unit] {
	if err := p.writeArray(ctx, name, typ, values, shape); err != nil {
		logging.DebugError("plc", "write array "+name, err)
		return tag.Fail[Unit](name, err)
	}
	p.observe(OpWrite, name, typ, values)
	return tag.Done[Unit](name)
}

// WriteDims writes a whole array of up to three dimensions through the
// cache. len(values) must equal the product of dims.
func (p *PLC) WriteDims(ctx context.Context, name string, typ tag.Type, values []tag.Value, dims ...int) tag.Response[Unit] {
	err := checkValues(typ, values)
	if err == nil {
		err = p.writeWhole(ctx, name, typ, values, dims...)
	}
	if err != nil {
		logging.DebugError("plc", "write array "+name, err)
		return tag.Fail[Unit](name, err)
	}
	p.observe(OpWrite, name, typ, values)
	return tag.Done[Unit](name)
}

func (p *PLC) read(ctx context.Context, name string, typ tag.Type) (tag.Value, error) {
	if !typ.Valid() {
		return tag.Value{}, wrongType(typ, tag.Value{})
	}
	if typ.IsBit() {
		n, err := tag.ParseName(name)
		if err != nil {
			return tag.Value{}, err
		}
		if n.Indexed {
			return p.readBit(ctx, n)
		}
	}

	s, err := p.cache.GetOrCreate(ctx, name, typ)
	if err != nil {
		return tag.Value{}, err
	}
	s.Lock()
	defer s.Unlock()

	if err := s.SetDimensions(); err != nil {
		return tag.Value{}, err
	}
	ch := s.Channel()
	if err := ch.Read(ctx); err != nil {
		return tag.Value{}, err
	}
	return codec.DecodeElement(ch, typ, 0, codec.Stride(ch, typ, 1))
}

func (p *PLC) readBit(ctx context.Context, n tag.Name) (tag.Value, error) {
	var v tag.Value
	err := p.withAdhoc(ctx, n.Base, codec.BitElementCount(n.Index), func(ch tag.Channel) error {
		b, err := ch.GetBit(n.Index)
		if err != nil {
			return err
		}
		v = tag.BoolValue(b)
		return nil
	})
	return v, err
}

func (p *PLC) readArray(ctx context.Context, name string, typ tag.Type, shape tag.Shape) ([]tag.Value, error) {
	if !typ.Valid() {
		return nil, wrongType(typ, tag.Value{})
	}
	if err := checkShape(shape); err != nil {
		return nil, err
	}
	if shape.IsRange() {
		return p.readRange(ctx, name, typ, shape)
	}
	return p.readWhole(ctx, name, typ, shape.Length)
}

func (p *PLC) readWhole(ctx context.Context, name string, typ tag.Type, dims ...int) ([]tag.Value, error) {
	if !typ.Valid() {
		return nil, wrongType(typ, tag.Value{})
	}
	total, err := tag.CheckDimensions(dims)
	if err != nil {
		return nil, err
	}

	s, err := p.cache.GetOrCreate(ctx, name, typ)
	if err != nil {
		return nil, err
	}
	s.Lock()
	defer s.Unlock()

	if err := s.SetDimensions(dims...); err != nil {
		return nil, err
	}
	ch := s.Channel()
	if err := ch.Read(ctx); err != nil {
		return nil, err
	}
	return codec.Decode(ch, typ, total, total)
}

func (p *PLC) readRange(ctx context.Context, name string, typ tag.Type, shape tag.Shape) ([]tag.Value, error) {
	var out []tag.Value
	err := p.withAdhoc(ctx, name, typ.ElementCount(shape.Length), func(ch tag.Channel) error {
		vals, err := codec.ReadRange(ctx, ch, typ, shape.Length, shape.Start, shape.Count)
		out = vals
		return err
	})
	return out, err
}

func (p *PLC) write(ctx context.Context, name string, typ tag.Type, v tag.Value) error {
	if !typ.Valid() || !v.Is(typ) {
		return wrongType(typ, v)
	}
	if err := codec.CheckStrings(typ, []tag.Value{v}); err != nil {
		return err
	}
	if typ.IsBit() {
		n, err := tag.ParseName(name)
		if err != nil {
			return err
		}
		if n.Indexed {
			return p.writeBit(ctx, n, v.Bool())
		}
	}

	s, err := p.cache.GetOrCreate(ctx, name, typ)
	if err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()

	if err := s.SetDimensions(); err != nil {
		return err
	}
	ch := s.Channel()
	if err := codec.EncodeElement(ch, typ, 0, codec.Stride(ch, typ, 1), v); err != nil {
		return err
	}
	return ch.Write(ctx)
}

func (p *PLC) writeBit(ctx context.Context, n tag.Name, v bool) error {
	return p.withAdhoc(ctx, n.Base, codec.BitElementCount(n.Index), func(ch tag.Channel) error {
		if err := ch.SetBit(n.Index, v); err != nil {
			return err
		}
		return ch.Write(ctx)
	})
}

func (p *PLC) writeArray(ctx context.Context, name string, typ tag.Type, values []tag.Value, shape tag.Shape) error {
	if err := checkValues(typ, values); err != nil {
		return err
	}
	if err := checkShape(shape); err != nil {
		return err
	}

	if shape.IsRange() {
		return p.writeRange(ctx, name, typ, shape.Length, shape.Start, values)
	}
	if n, err := tag.ParseName(name); err == nil && n.Indexed {
		return p.writeRange(ctx, n.Base, typ, shape.Length, n.Index, values)
	}
	return p.writeWhole(ctx, name, typ, values, shape.Length)
}

func (p *PLC) writeWhole(ctx context.Context, name string, typ tag.Type, values []tag.Value, dims ...int) error {
	total, err := tag.CheckDimensions(dims)
	if err != nil {
		return err
	}
	if len(values) != total {
		return fmt.Errorf("%w: %d values for %d elements", tag.ErrMismatchLength, len(values), total)
	}
	if err := codec.CheckStrings(typ, values); err != nil {
		return err
	}

	s, err := p.cache.GetOrCreate(ctx, name, typ)
	if err != nil {
		return err
	}
	s.Lock()
	defer s.Unlock()

	if err := s.SetDimensions(dims...); err != nil {
		return err
	}
	ch := s.Channel()
	if err := codec.Encode(ch, typ, total, values); err != nil {
		return err
	}
	return ch.Write(ctx)
}

func (p *PLC) writeRange(ctx context.Context, name string, typ tag.Type, length, start int, values []tag.Value) error {
	if err := tag.CheckSpan(length, start, len(values)); err != nil {
		return err
	}
	if err := codec.CheckStrings(typ, values); err != nil {
		return err
	}
	return p.withAdhoc(ctx, name, typ.ElementCount(length), func(ch tag.Channel) error {
		return codec.WriteRange(ctx, ch, typ, length, start, values)
	})
}

// checkShape rejects shapes that cannot address an array.
func checkShape(shape tag.Shape) error {
	if shape.Length <= 0 {
		return fmt.Errorf("%w: array length %d", tag.ErrMismatchLength, shape.Length)
	}
	return shape.Validate()
}

func checkValues(typ tag.Type, values []tag.Value) error {
	if !typ.Valid() {
		return wrongType(typ, tag.Value{})
	}
	for _, v := range values {
		if !v.Is(typ) {
			return wrongType(typ, v)
		}
	}
	return nil
}

