package plc

import (
	"context"

	"clxtag/tag"
)

// ReadText reads a scalar and renders it as text (True/False for booleans).
func (p *PLC) ReadText(ctx context.Context, name string, typ tag.Type) tag.Response[string] {
	return tag.Map(p.Read(ctx, name, typ), tag.Value.String)
}

// ReadArrayText reads an array or range and renders each element as text.
func (p *PLC) ReadArrayText(ctx context.Context, name string, typ tag.Type, shape tag.Shape) tag.Response[[]string] {
	return tag.Map(p.ReadArray(ctx, name, typ, shape), func(vals []tag.Value) []string {
		out := make([]string, len(vals))
		for i, v := range vals {
			out[i] = v.String()
		}
		return out
	})
}

// DRead reads a scalar and returns its native Go value (bool, int8, int16,
// int32, int64, float32 or string).
func (p *PLC) DRead(ctx context.Context, name string, typ tag.Type) tag.Response[any] {
	return tag.Map(p.Read(ctx, name, typ), tag.Value.Any)
}

// DReadArray reads an array or range and returns a native slice ([]int32
// for Dint, []bool for Bool, ...).
func (p *PLC) DReadArray(ctx context.Context, name string, typ tag.Type, shape tag.Shape) tag.Response[any] {
	return tag.Map(p.ReadArray(ctx, name, typ, shape), func(vals []tag.Value) any {
		return NativeSlice(typ, vals)
	})
}

// DWrite writes a loosely typed scalar. x may be the native Go type or any
// form tag.Coerce accepts (JSON numbers, strings).
func (p *PLC) DWrite(ctx context.Context, name string, typ tag.Type, x any) tag.Response[any] {
	v, err := tag.Coerce(typ, x)
	if err != nil {
		return tag.Fail[any](name, err)
	}
	return erase(p.Write(ctx, name, typ, v))
}

// DWriteArray writes a loosely typed slice as an array or range.
func (p *PLC) DWriteArray(ctx context.Context, name string, typ tag.Type, x any, shape tag.Shape) tag.Response[any] {
	vals, err := tag.CoerceAll(typ, x)
	if err != nil {
		return tag.Fail[any](name, err)
	}
	return erase(p.WriteArray(ctx, name, typ, vals, shape))
}

func erase[T any](r tag.Response[T]) tag.Response[any] {
	return tag.Map(r, func(v T) any { return v })
}

// NativeSlice converts decoded values to the native slice type for typ.
func NativeSlice(typ tag.Type, vals []tag.Value) any {
	switch typ {
	case tag.Bool, tag.Bit:
		return collect(vals, tag.Value.Bool)
	case tag.Sint:
		return collect(vals, func(v tag.Value) int8 { return int8(v.Int()) })
	case tag.Int:
		return collect(vals, func(v tag.Value) int16 { return int16(v.Int()) })
	case tag.Dint:
		return collect(vals, func(v tag.Value) int32 { return int32(v.Int()) })
	case tag.Lint:
		return collect(vals, tag.Value.Int)
	case tag.Real:
		return collect(vals, tag.Value.Float)
	case tag.String:
		return collect(vals, tag.Value.Str)
	}
	return collect(vals, tag.Value.Any)
}

func collect[T any](vals []tag.Value, f func(tag.Value) T) []T {
	out := make([]T, len(vals))
	for i, v := range vals {
		out[i] = f(v)
	}
	return out
}
