// Package tag defines the data model shared by the cache, codec and
// dispatcher: tag types, addressing, values, response envelopes and the
// channel contract a controller session must satisfy.
package tag

import (
	"fmt"
	"strings"
)

// Type is the declared type of a controller tag.
type Type int

const (
	Bool Type = iota + 1
	Bit
	Sint
	Int
	Dint
	Lint
	Real
	String
)

// String layout of a Logix STRING element: a length field at +0 followed by
// the character buffer at +4, elements packed every 88 bytes.
//
// StringMaxLen bounds the encoder. StringCapacity is what one element can
// hold without running into the next one; stores are checked against it.
const (
	StringLenOffset  = 0
	StringDataOffset = 4
	StringStride     = 88
	StringMaxLen     = 88
	StringCapacity   = StringStride - StringDataOffset
)

// BitsPerElement is the packing of BOOL arrays: one 32-bit word per element.
const BitsPerElement = 32

// Kind describes how a numeric type is laid out on the wire.
type Kind struct {
	Width  int // bytes
	Float  bool
	Signed bool
}

var kinds = map[Type]Kind{
	Sint: {Width: 1, Signed: true},
	Int:  {Width: 2, Signed: true},
	Dint: {Width: 4, Signed: true},
	Lint: {Width: 8, Signed: true},
	Real: {Width: 4, Float: true, Signed: true},
}

var typeNames = map[Type]string{
	Bool:   "Bool",
	Bit:    "Bit",
	Sint:   "Sint",
	Int:    "Int",
	Dint:   "Dint",
	Lint:   "Lint",
	Real:   "Real",
	String: "String",
}

// Types returns every supported type in declaration order.
func Types() []Type {
	return []Type{Bool, Bit, Sint, Int, Dint, Lint, Real, String}
}

// Valid reports whether t is one of the declared constants.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// IsBit reports whether values of t are bit addressed (Bool and Bit).
func (t Type) IsBit() bool {
	return t == Bool || t == Bit
}

// IsString reports whether t uses the fixed 88-byte string layout.
func (t Type) IsString() bool {
	return t == String
}

// Kind returns the numeric layout of t. ok is false for the bit and string
// kinds, which have their own addressing rules.
func (t Type) Kind() (k Kind, ok bool) {
	k, ok = kinds[t]
	return k, ok
}

// Width returns the element width in bytes for numeric kinds, the string
// stride for String, and 0 for bit kinds.
func (t Type) Width() int {
	if t.IsString() {
		return StringStride
	}
	return kinds[t].Width
}

// ElementCount returns how many controller elements a tag of the given
// logical length occupies. Bit arrays pack 32 logical elements per word.
func (t Type) ElementCount(length int) int {
	if length <= 0 {
		return 1
	}
	if t.IsBit() {
		return (length + BitsPerElement - 1) / BitsPerElement
	}
	return length
}

// ParseType resolves a type name case-insensitively. Both the enum names
// and the Logix names (BOOL, SINT, DINT, REAL, ...) are accepted.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bool":
		return Bool, nil
	case "bit":
		return Bit, nil
	case "sint":
		return Sint, nil
	case "int":
		return Int, nil
	case "dint":
		return Dint, nil
	case "lint":
		return Lint, nil
	case "real":
		return Real, nil
	case "string":
		return String, nil
	}
	return 0, fmt.Errorf("%w: unknown type %q", ErrWrongType, name)
}
