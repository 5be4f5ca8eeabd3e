package tag

import (
	"errors"
	"fmt"
)

// Sentinel errors detected before any channel I/O.
var (
	ErrWrongType       = errors.New("wrong type")
	ErrMismatchLength  = errors.New("mismatch length")
	ErrInvalidArrayDim = errors.New("invalid array dimensions")
	ErrInvalidName     = errors.New("invalid tag name")
)

// OverflowError reports a string that does not fit the fixed element buffer.
// Max is the bound that was exceeded; zero means StringMaxLen.
type OverflowError struct {
	Value string
	Len   int
	Max   int
}

func (e *OverflowError) Error() string {
	limit := e.Max
	if limit == 0 {
		limit = StringMaxLen
	}
	return fmt.Sprintf("string %q exceeds maximum length (%d > %d)", e.Value, e.Len, limit)
}

// ErrorKind classifies a failure surfaced in a Response.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindWrongType
	KindInvalidShape
	KindEncodingOverflow
	KindChannelFault
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindWrongType:
		return "WrongType"
	case KindInvalidShape:
		return "InvalidShape"
	case KindEncodingOverflow:
		return "EncodingOverflow"
	case KindChannelFault:
		return "ChannelFault"
	default:
		return "Unknown"
	}
}

// KindOf classifies err. Anything that is not one of the pre-I/O
// validation errors is a channel fault.
func KindOf(err error) ErrorKind {
	var overflow *OverflowError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrWrongType):
		return KindWrongType
	case errors.Is(err, ErrMismatchLength), errors.Is(err, ErrInvalidArrayDim), errors.Is(err, ErrInvalidName):
		return KindInvalidShape
	case errors.As(err, &overflow):
		return KindEncodingOverflow
	default:
		return KindChannelFault
	}
}
