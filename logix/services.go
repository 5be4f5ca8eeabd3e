package logix

// Logix tag services (Allen-Bradley extensions to CIP).
const (
	SvcReadTag            byte = 0x4C
	SvcWriteTag           byte = 0x4D
	SvcReadTagFragmented  byte = 0x52
	SvcWriteTagFragmented byte = 0x53
)

// Logix extended status codes (general status 0xFF).
const (
	ExtStatusIllegalType  uint16 = 0x2101
	ExtStatusTagNotFound  uint16 = 0x2104
	ExtStatusBeyondEnd    uint16 = 0x2105
	ExtStatusSizeTooSmall uint16 = 0x2107
	ExtStatusSizeTooLarge uint16 = 0x2108
	ExtStatusOffsetError  uint16 = 0x2109
)

// maxFragment is the largest data block carried by one unconnected request,
// leaving room for the encapsulation and routing overhead.
const maxFragment = 472
