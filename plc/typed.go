package plc

import (
	"context"

	"clxtag/tag"
)

// Native is the set of Go types that map one to one onto tag types: bool
// for Bool/Bit, int8 Sint, int16 Int, int32 Dint, int64 Lint, float32 Real
// and string String.
type Native interface {
	bool | int8 | int16 | int32 | int64 | float32 | string
}

// checkNative fails with tag.ErrWrongType when T does not match typ.
func checkNative[T Native](typ tag.Type) error {
	var zero T
	_, err := tag.ValueOf(typ, zero)
	return err
}

// ReadAs reads a scalar as T. A T that does not match typ fails before any
// I/O.
func ReadAs[T Native](ctx context.Context, p *PLC, name string, typ tag.Type) tag.Response[T] {
	if err := checkNative[T](typ); err != nil {
		return tag.Fail[T](name, err)
	}
	return tag.Map(p.Read(ctx, name, typ), func(v tag.Value) T {
		return v.Any().(T)
	})
}

// WriteAs writes a scalar of type T.
func WriteAs[T Native](ctx context.Context, p *PLC, name string, typ tag.Type, v T) tag.Response[Unit] {
	val, err := tag.ValueOf(typ, v)
	if err != nil {
		return tag.Fail[Unit](name, err)
	}
	return p.Write(ctx, name, typ, val)
}

// ReadSliceAs reads an array or range as []T.
func ReadSliceAs[T Native](ctx context.Context, p *PLC, name string, typ tag.Type, shape tag.Shape) tag.Response[[]T] {
	if err := checkNative[T](typ); err != nil {
		return tag.Fail[[]T](name, err)
	}
	return tag.Map(p.ReadArray(ctx, name, typ, shape), func(vals []tag.Value) []T {
		out := make([]T, len(vals))
		for i, v := range vals {
			out[i] = v.Any().(T)
		}
		return out
	})
}

// WriteSliceAs writes values as an array or range.
func WriteSliceAs[T Native](ctx context.Context, p *PLC, name string, typ tag.Type, values []T, shape tag.Shape) tag.Response[Unit] {
	vals := make([]tag.Value, len(values))
	for i, v := range values {
		val, err := tag.ValueOf(typ, v)
		if err != nil {
			return tag.Fail[Unit](name, err)
		}
		vals[i] = val
	}
	return p.WriteArray(ctx, name, typ, vals, shape)
}
