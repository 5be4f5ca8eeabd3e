package tag

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		in      string
		base    string
		index   int
		indexed bool
		wantErr bool
	}{
		{"Counter", "Counter", 0, false, false},
		{"Flags[40]", "Flags", 40, true, false},
		{"Flags[0]", "Flags", 0, true, false},
		{" Flags[3] ", "Flags", 3, true, false},
		{"Program:Main.Bits[7]", "Program:Main.Bits", 7, true, false},
		{"Arr[2].Flags[31]", "Arr[2].Flags", 31, true, false},
		{"Arr[2].Member", "Arr[2].Member", 0, false, false},
		{"Flags[-1]", "", 0, false, true},
		{"Flags[x]", "", 0, false, true},
		{"Flags[]", "", 0, false, true},
		{"[3]", "", 0, false, true},
		{"Flags[3", "", 0, false, true},
		{"", "", 0, false, true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			n, err := ParseName(tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidName) {
					t.Fatalf("ParseName(%q) expected ErrInvalidName, got %+v, %v", tc.in, n, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseName(%q): %v", tc.in, err)
			}
			if n.Base != tc.base || n.Index != tc.index || n.Indexed != tc.indexed {
				t.Errorf("ParseName(%q) = %+v, want base=%q index=%d indexed=%v", tc.in, n, tc.base, tc.index, tc.indexed)
			}
		})
	}
}

func TestName_String(t *testing.T) {
	if got := (Name{Base: "Flags", Index: 4, Indexed: true}).String(); got != "Flags[4]" {
		t.Errorf("got %q", got)
	}
	if got := (Name{Base: "Counter"}).String(); got != "Counter" {
		t.Errorf("got %q", got)
	}
}

func TestType(t *testing.T) {
	t.Run("ElementCount", func(t *testing.T) {
		tests := []struct {
			typ    Type
			length int
			want   int
		}{
			{Bool, 1, 1},
			{Bool, 32, 1},
			{Bool, 33, 2},
			{Bit, 64, 2},
			{Bit, 100, 4},
			{Dint, 10, 10},
			{String, 3, 3},
			{Real, 0, 1},
		}
		for _, tc := range tests {
			if got := tc.typ.ElementCount(tc.length); got != tc.want {
				t.Errorf("%s.ElementCount(%d) = %d, want %d", tc.typ, tc.length, got, tc.want)
			}
		}
	})

	t.Run("Width", func(t *testing.T) {
		want := map[Type]int{Bool: 0, Bit: 0, Sint: 1, Int: 2, Dint: 4, Lint: 8, Real: 4, String: 88}
		for typ, w := range want {
			if got := typ.Width(); got != w {
				t.Errorf("%s.Width() = %d, want %d", typ, got, w)
			}
		}
	})

	t.Run("Kind", func(t *testing.T) {
		k, ok := Real.Kind()
		if !ok || !k.Float || k.Width != 4 {
			t.Errorf("Real kind = %+v, %v", k, ok)
		}
		if _, ok := String.Kind(); ok {
			t.Error("String has no numeric kind")
		}
		if _, ok := Bit.Kind(); ok {
			t.Error("Bit has no numeric kind")
		}
	})

	t.Run("ParseType", func(t *testing.T) {
		for _, typ := range Types() {
			got, err := ParseType(typ.String())
			if err != nil || got != typ {
				t.Errorf("ParseType(%q) = %v, %v", typ.String(), got, err)
			}
		}
		if _, err := ParseType("udint"); !errors.Is(err, ErrWrongType) {
			t.Errorf("expected ErrWrongType, got %v", err)
		}
	})

	t.Run("Valid", func(t *testing.T) {
		if Type(0).Valid() || Type(99).Valid() {
			t.Error("out of range types must be invalid")
		}
		if Type(99).String() != "Type(99)" {
			t.Errorf("got %q", Type(99).String())
		}
	})
}

func TestShape_Validate(t *testing.T) {
	tests := []struct {
		name    string
		shape   Shape
		wantErr error
	}{
		{"scalar", Scalar(), nil},
		{"whole array", Array(10), nil},
		{"range fits", Range(10, 3, 7), nil},
		{"range overflows", Range(10, 4, 7), ErrMismatchLength},
		{"negative start", Range(10, -1, 2), ErrMismatchLength},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.shape.Validate()
			if !errors.Is(err, tc.wantErr) && !(err == nil && tc.wantErr == nil) {
				t.Errorf("Validate() = %v, want %v", err, tc.wantErr)
			}
		})
	}

	if !Range(10, 0, 1).IsRange() || Array(10).IsRange() || !Scalar().IsScalar() {
		t.Error("shape predicates wrong")
	}
}

func TestCheckDimensions(t *testing.T) {
	if n, err := CheckDimensions([]int{2, 3, 4}); err != nil || n != 24 {
		t.Errorf("got %d, %v", n, err)
	}
	if n, err := CheckDimensions([]int{5, 0, 0}); err != nil || n != 5 {
		t.Errorf("got %d, %v", n, err)
	}
	if _, err := CheckDimensions([]int{1, 2, 3, 4}); !errors.Is(err, ErrInvalidArrayDim) {
		t.Errorf("expected ErrInvalidArrayDim, got %v", err)
	}
}

func TestValueOf(t *testing.T) {
	t.Run("matching types", func(t *testing.T) {
		cases := []struct {
			typ Type
			in  any
		}{
			{Bool, true},
			{Bit, false},
			{Sint, int8(-5)},
			{Int, int16(300)},
			{Dint, int32(42)},
			{Lint, int64(1 << 40)},
			{Real, float32(1.5)},
			{String, "hello"},
		}
		for _, c := range cases {
			v, err := ValueOf(c.typ, c.in)
			if err != nil {
				t.Errorf("ValueOf(%s, %v): %v", c.typ, c.in, err)
				continue
			}
			if v.Any() != c.in {
				t.Errorf("round trip %s: got %v (%T), want %v (%T)", c.typ, v.Any(), v.Any(), c.in, c.in)
			}
		}
	})

	t.Run("mismatched types", func(t *testing.T) {
		cases := []struct {
			typ Type
			in  any
		}{
			{Dint, 42},
			{Dint, int64(42)},
			{Real, 1.5},
			{Bool, "true"},
			{String, 7},
		}
		for _, c := range cases {
			if _, err := ValueOf(c.typ, c.in); !errors.Is(err, ErrWrongType) {
				t.Errorf("ValueOf(%s, %T) err = %v, want ErrWrongType", c.typ, c.in, err)
			}
		}
	})
}

func TestValuesOf(t *testing.T) {
	vals, err := ValuesOf(Dint, []int32{1, 2, 3})
	if err != nil || len(vals) != 3 || vals[2].Int() != 3 {
		t.Fatalf("got %v, %v", vals, err)
	}
	if _, err := ValuesOf(Dint, []int16{1}); !errors.Is(err, ErrWrongType) {
		t.Errorf("expected ErrWrongType, got %v", err)
	}
	if _, err := ValuesOf(Bit, []Value{BoolValue(true)}); err != nil {
		t.Errorf("Bool values are valid for Bit arrays: %v", err)
	}
	if _, err := ValuesOf(Real, []Value{DintValue(1)}); !errors.Is(err, ErrWrongType) {
		t.Errorf("expected ErrWrongType, got %v", err)
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		typ     Type
		in      any
		want    string
		wantErr bool
	}{
		{Dint, float64(42), "42", false},
		{Dint, "17", "17", false},
		{Dint, float64(1.5), "", true},
		{Sint, float64(200), "", true},
		{Int, float64(-32768), "-32768", false},
		{Lint, json.Number("9000000000"), "9000000000", false},
		{Lint, float64(1e30), "", true},
		{Lint, float64(-1e19), "", true},
		{Lint, math.Inf(1), "", true},
		{Lint, float64(-(1 << 63)), "-9223372036854775808", false},
		{Lint, json.Number("1e30"), "", true},
		{Dint, json.Number("12.0"), "12", false},
		{Dint, json.Number("x"), "", true},
		{Real, float64(2.25), "2.25", false},
		{Real, "0.5", "0.5", false},
		{Bool, "true", "True", false},
		{Bit, float64(0), "False", false},
		{Bool, "maybe", "", true},
		{String, "abc", "abc", false},
		{String, float64(3), "3", false},
		{Dint, []int{1}, "", true},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%s/%v", tc.typ, tc.in), func(t *testing.T) {
			v, err := Coerce(tc.typ, tc.in)
			if tc.wantErr {
				if !errors.Is(err, ErrWrongType) {
					t.Errorf("expected ErrWrongType, got %v (%v)", err, v)
				}
				return
			}
			if err != nil {
				t.Fatalf("Coerce: %v", err)
			}
			if v.String() != tc.want {
				t.Errorf("got %q, want %q", v.String(), tc.want)
			}
		})
	}
}

func TestValue_String(t *testing.T) {
	if BoolValue(true).String() != "True" || BoolValue(false).String() != "False" {
		t.Error("booleans render as True/False")
	}
	if RealValue(0.1).String() != "0.1" {
		t.Errorf("Real renders shortest form, got %q", RealValue(0.1).String())
	}
	if (Value{}).IsValid() {
		t.Error("zero Value must be invalid")
	}
}

func TestValue_MarshalJSON(t *testing.T) {
	data, err := json.Marshal([]Value{DintValue(5), BoolValue(true), StringValue("x")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `[5,true,"x"]` {
		t.Errorf("got %s", data)
	}
}

func TestResponse(t *testing.T) {
	ok := OK("Counter", int32(42))
	if !ok.Success() || !ok.HasValue || ok.Value != 42 || ok.Kind() != KindNone {
		t.Errorf("unexpected OK response %+v", ok)
	}

	done := Done[struct{}]("Counter")
	if !done.Success() || done.HasValue {
		t.Errorf("unexpected Done response %+v", done)
	}

	fail := Fail[int32]("Counter", ErrMismatchLength)
	if fail.Success() || fail.Status != "mismatch length" || fail.Kind() != KindInvalidShape {
		t.Errorf("unexpected Fail response %+v", fail)
	}

	wrapped := Fail[int32]("Counter", fmt.Errorf("%w: Counter is cached as Dint", ErrWrongType))
	if wrapped.Status != "wrong type" || wrapped.Kind() != KindWrongType {
		t.Errorf("expected sentinel status, got %q", wrapped.Status)
	}

	fault := Fail[int32]("Counter", errors.New("CIP error: Path Unknown (0x05)"))
	if fault.Status != "CIP error: Path Unknown (0x05)" || fault.Kind() != KindChannelFault {
		t.Errorf("expected verbatim fault, got %q", fault.Status)
	}

	mapped := Map(ok, func(v int32) string { return fmt.Sprint(v) })
	if mapped.Value != "42" || mapped.Key != "Counter" || !mapped.Success() {
		t.Errorf("unexpected mapped response %+v", mapped)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, KindNone},
		{ErrWrongType, KindWrongType},
		{fmt.Errorf("x: %w", ErrWrongType), KindWrongType},
		{ErrMismatchLength, KindInvalidShape},
		{ErrInvalidArrayDim, KindInvalidShape},
		{fmt.Errorf("read: %w", ErrInvalidName), KindInvalidShape},
		{&OverflowError{Value: "x", Len: 89}, KindEncodingOverflow},
		{fmt.Errorf("wrap: %w", &OverflowError{}), KindEncodingOverflow},
		{errors.New("CIP error: Path Unknown (0x05)"), KindChannelFault},
	}
	for _, tc := range tests {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestCoerceAll(t *testing.T) {
	vals, err := CoerceAll(Int, []any{float64(1), "2", json.Number("3")})
	if err != nil {
		t.Fatalf("CoerceAll: %v", err)
	}
	if len(vals) != 3 || vals[2].Int() != 3 || vals[0].Type() != Int {
		t.Errorf("unexpected values %v", vals)
	}

	if _, err := CoerceAll(Sint, []any{float64(1), float64(500)}); !errors.Is(err, ErrWrongType) {
		t.Errorf("expected ErrWrongType, got %v", err)
	}
	if _, err := CoerceAll(Dint, "not a slice"); !errors.Is(err, ErrWrongType) {
		t.Errorf("expected ErrWrongType, got %v", err)
	}

	if !BoolValue(true).Is(Bit) || DintValue(1).Is(Real) || (Value{}).Is(Dint) {
		t.Error("unexpected Is result")
	}
}
