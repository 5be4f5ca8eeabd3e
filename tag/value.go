package tag

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value holds one element of any supported type. The zero Value is invalid.
type Value struct {
	typ Type
	b   bool
	i   int64
	f   float32
	s   string
}

func BoolValue(v bool) Value     { return Value{typ: Bool, b: v} }
func SintValue(v int8) Value     { return Value{typ: Sint, i: int64(v)} }
func IntValue(v int16) Value     { return Value{typ: Int, i: int64(v)} }
func DintValue(v int32) Value    { return Value{typ: Dint, i: int64(v)} }
func LintValue(v int64) Value    { return Value{typ: Lint, i: v} }
func RealValue(v float32) Value  { return Value{typ: Real, f: v} }
func StringValue(v string) Value { return Value{typ: String, s: v} }

// Type returns the value's type. Bit values report Bool.
func (v Value) Type() Type { return v.typ }

// IsValid reports whether v was built by one of the constructors.
func (v Value) IsValid() bool { return v.typ != 0 }

func (v Value) Bool() bool     { return v.b }
func (v Value) Int() int64     { return v.i }
func (v Value) Float() float32 { return v.f }
func (v Value) Str() string    { return v.s }

// Any returns the native Go value: bool, int8, int16, int32, int64, float32
// or string.
func (v Value) Any() any {
	switch v.typ {
	case Bool, Bit:
		return v.b
	case Sint:
		return int8(v.i)
	case Int:
		return int16(v.i)
	case Dint:
		return int32(v.i)
	case Lint:
		return v.i
	case Real:
		return v.f
	case String:
		return v.s
	default:
		return nil
	}
}

// String renders the value the way the controller client always has:
// booleans as True/False, numbers in invariant format.
func (v Value) String() string {
	switch v.typ {
	case Bool, Bit:
		if v.b {
			return "True"
		}
		return "False"
	case Sint, Int, Dint, Lint:
		return strconv.FormatInt(v.i, 10)
	case Real:
		return strconv.FormatFloat(float64(v.f), 'g', -1, 32)
	case String:
		return v.s
	default:
		return ""
	}
}

// MarshalJSON encodes the native value.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// Equal reports whether both values have the same type and contents.
func (v Value) Equal(o Value) bool {
	return v.typ == o.typ && v.b == o.b && v.i == o.i && v.f == o.f && v.s == o.s
}

// ValueOf converts a native Go value to a Value of type t. The Go type must
// match exactly (int32 for Dint, float32 for Real, ...); anything else is
// ErrWrongType.
func ValueOf(t Type, x any) (Value, error) {
	switch t {
	case Bool, Bit:
		if b, ok := x.(bool); ok {
			return BoolValue(b), nil
		}
	case Sint:
		if n, ok := x.(int8); ok {
			return SintValue(n), nil
		}
	case Int:
		if n, ok := x.(int16); ok {
			return IntValue(n), nil
		}
	case Dint:
		if n, ok := x.(int32); ok {
			return DintValue(n), nil
		}
	case Lint:
		if n, ok := x.(int64); ok {
			return LintValue(n), nil
		}
	case Real:
		if f, ok := x.(float32); ok {
			return RealValue(f), nil
		}
	case String:
		if s, ok := x.(string); ok {
			return StringValue(s), nil
		}
	}
	return Value{}, fmt.Errorf("%w: %T is not %s", ErrWrongType, x, t)
}

// ValuesOf converts a native slice ([]int32, []bool, ...) element by element.
func ValuesOf(t Type, x any) ([]Value, error) {
	switch s := x.(type) {
	case []Value:
		for _, v := range s {
			if !sameType(v.typ, t) {
				return nil, fmt.Errorf("%w: %s element in %s array", ErrWrongType, v.typ, t)
			}
		}
		return s, nil
	case []bool:
		return convertSlice(t, s)
	case []int8:
		return convertSlice(t, s)
	case []int16:
		return convertSlice(t, s)
	case []int32:
		return convertSlice(t, s)
	case []int64:
		return convertSlice(t, s)
	case []float32:
		return convertSlice(t, s)
	case []string:
		return convertSlice(t, s)
	case []any:
		return convertSlice(t, s)
	}
	return nil, fmt.Errorf("%w: %T is not a %s array", ErrWrongType, x, t)
}

func convertSlice[E any](t Type, in []E) ([]Value, error) {
	out := make([]Value, len(in))
	for i, e := range in {
		v, err := ValueOf(t, e)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// CoerceAll converts a slice as ValuesOf does, falling back to Coerce for
// each element of a []any.
func CoerceAll(t Type, x any) ([]Value, error) {
	vals, err := ValuesOf(t, x)
	if err == nil {
		return vals, nil
	}
	items, ok := x.([]any)
	if !ok {
		return nil, err
	}
	out := make([]Value, len(items))
	for i, item := range items {
		v, err := Coerce(t, item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Is reports whether v holds a value acceptable for a tag of type t.
func (v Value) Is(t Type) bool {
	return v.IsValid() && sameType(v.typ, t)
}

func sameType(a, b Type) bool {
	return a == b || (a.IsBit() && b.IsBit())
}

// Coerce converts loosely typed input, as decoded from JSON or a command
// line, to a Value of type t. Numbers are range checked against the target
// width.
func Coerce(t Type, x any) (Value, error) {
	if v, err := ValueOf(t, x); err == nil {
		return v, nil
	}

	switch t {
	case Bool, Bit:
		switch b := x.(type) {
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return Value{}, fmt.Errorf("%w: %q is not a boolean", ErrWrongType, b)
			}
			return BoolValue(parsed), nil
		case float64:
			return BoolValue(b != 0), nil
		case int:
			return BoolValue(b != 0), nil
		}
	case Sint, Int, Dint, Lint:
		n, err := toInt64(x)
		if err != nil {
			return Value{}, err
		}
		return intValue(t, n)
	case Real:
		f, err := toFloat64(x)
		if err != nil {
			return Value{}, err
		}
		if math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
			return Value{}, fmt.Errorf("%w: %v overflows Real", ErrWrongType, f)
		}
		return RealValue(float32(f)), nil
	case String:
		switch s := x.(type) {
		case fmt.Stringer:
			return StringValue(s.String()), nil
		case float64, int, int64, bool:
			return StringValue(fmt.Sprint(s)), nil
		}
	}
	return Value{}, fmt.Errorf("%w: cannot use %T as %s", ErrWrongType, x, t)
}

func intValue(t Type, n int64) (Value, error) {
	var lo, hi int64
	switch t {
	case Sint:
		lo, hi = math.MinInt8, math.MaxInt8
	case Int:
		lo, hi = math.MinInt16, math.MaxInt16
	case Dint:
		lo, hi = math.MinInt32, math.MaxInt32
	default:
		return LintValue(n), nil
	}
	if n < lo || n > hi {
		return Value{}, fmt.Errorf("%w: %d out of range for %s", ErrWrongType, n, t)
	}
	return Value{typ: t, i: n}, nil
}

func toInt64(x any) (int64, error) {
	switch n := x.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%w: %v is not an integer", ErrWrongType, n)
		}
		if n < -(1<<63) || n >= 1<<63 {
			return 0, fmt.Errorf("%w: %v overflows a 64-bit integer", ErrWrongType, n)
		}
		return int64(n), nil
	case json.Number:
		if v, err := n.Int64(); err == nil {
			return v, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrWrongType, n.String())
		}
		return toInt64(f)
	case string:
		v, err := strconv.ParseInt(strings.TrimSpace(n), 0, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrWrongType, n)
		}
		return v, nil
	}
	return 0, fmt.Errorf("%w: %T is not an integer", ErrWrongType, x)
}

func toFloat64(x any) (float64, error) {
	switch n := x.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		v, err := strconv.ParseFloat(strings.TrimSpace(n), 32)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrWrongType, n)
		}
		return v, nil
	}
	return 0, fmt.Errorf("%w: %T is not a number", ErrWrongType, x)
}

// Zero returns the zero value of type t.
func Zero(t Type) Value {
	if t.IsBit() {
		return BoolValue(false)
	}
	return Value{typ: t}
}
