package logix

import (
	"encoding/binary"
	"fmt"
)

// Logix CIP data type codes, as returned ahead of the data in a Read Tag
// reply.
const (
	TypeBOOL  uint16 = 0x00C1
	TypeSINT  uint16 = 0x00C2
	TypeINT   uint16 = 0x00C3
	TypeDINT  uint16 = 0x00C4
	TypeLINT  uint16 = 0x00C5
	TypeUSINT uint16 = 0x00C6
	TypeUINT  uint16 = 0x00C7
	TypeUDINT uint16 = 0x00C8
	TypeULINT uint16 = 0x00C9
	TypeREAL  uint16 = 0x00CA
	TypeLREAL uint16 = 0x00CB

	TypeBitString32 uint16 = 0x00D3

	// TypeStructure prefixes a 2-byte structure handle. STRING is sent this
	// way.
	TypeStructure uint16 = 0x02A0
)

// StringHandle is the structure handle of the built-in STRING type.
const StringHandle uint16 = 0x0FCE

// typeInfo is the type field of a read reply, echoed on writes.
type typeInfo []byte

func (t typeInfo) Code() uint16 {
	if len(t) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(t)
}

func (t typeInfo) Handle() uint16 {
	if len(t) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint16(t[2:])
}

func (t typeInfo) String() string {
	if t.Code() == TypeStructure {
		return fmt.Sprintf("STRUCT(0x%04X)", t.Handle())
	}
	return TypeName(t.Code())
}

// splitTyped separates the type field from the data of a read reply.
func splitTyped(data []byte) (typeInfo, []byte, error) {
	if len(data) < 2 {
		return nil, nil, fmt.Errorf("reply missing data type field")
	}
	n := 2
	if binary.LittleEndian.Uint16(data) == TypeStructure {
		n = 4
		if len(data) < n {
			return nil, nil, fmt.Errorf("reply missing structure handle")
		}
	}
	return typeInfo(append([]byte(nil), data[:n]...)), data[n:], nil
}

// TypeName returns a human-readable name for an atomic type code.
func TypeName(code uint16) string {
	switch code {
	case TypeBOOL:
		return "BOOL"
	case TypeSINT:
		return "SINT"
	case TypeINT:
		return "INT"
	case TypeDINT:
		return "DINT"
	case TypeLINT:
		return "LINT"
	case TypeUSINT:
		return "USINT"
	case TypeUINT:
		return "UINT"
	case TypeUDINT:
		return "UDINT"
	case TypeULINT:
		return "ULINT"
	case TypeREAL:
		return "REAL"
	case TypeLREAL:
		return "LREAL"
	case TypeBitString32:
		return "DWORD"
	case TypeStructure:
		return "STRUCT"
	}
	return fmt.Sprintf("UNKNOWN(0x%04X)", code)
}
