// Package cip encodes the Common Industrial Protocol pieces used for Logix
// tag access: request paths, Message Router requests and replies, and the
// Unconnected_Send wrapper used to route through a backplane.
package cip

import (
	"encoding/binary"
	"fmt"
)

// Services used by this module.
const (
	SvcUnconnectedSend byte = 0x52
	ReplyMask          byte = 0x80
)

// General status codes.
const (
	StatusSuccess          byte = 0x00
	StatusPathSegmentError byte = 0x04
	StatusPathUnknown      byte = 0x05
	StatusPartialTransfer  byte = 0x06
	StatusServiceNotSupp   byte = 0x08
	StatusObjectNotExist   byte = 0x16
	StatusGeneralError     byte = 0xFF
)

// Request is a Message Router request.
type Request struct {
	Service byte
	Path    EPath_t
	Data    []byte
}

func (r Request) Marshal() []byte {
	out := make([]byte, 0, 2+len(r.Path)+len(r.Data))
	out = append(out, r.Service)
	out = append(out, r.Path.WordLen())
	out = append(out, r.Path...)
	out = append(out, r.Data...)
	return out
}

// Response is a Message Router reply.
type Response struct {
	ReplyService     byte
	GeneralStatus    byte
	AdditionalStatus []uint16
	Data             []byte
}

// ParseResponse decodes a Message Router reply.
// Format: [ReplyService 1] [Reserved 1] [Status 1] [AddlStatusSize 1] [AddlStatus n*2] [Data]
func ParseResponse(data []byte) (*Response, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("response too short: %d bytes", len(data))
	}
	resp := &Response{
		ReplyService:  data[0],
		GeneralStatus: data[2],
	}
	words := int(data[3])
	start := 4 + words*2
	if len(data) < start {
		return nil, fmt.Errorf("response truncated in additional status: need %d bytes, have %d", start, len(data))
	}
	for i := 0; i < words; i++ {
		resp.AdditionalStatus = append(resp.AdditionalStatus, binary.LittleEndian.Uint16(data[4+i*2:]))
	}
	resp.Data = data[start:]
	return resp, nil
}

// Check verifies the reply answers service and carries an acceptable
// status. Partial transfer is accepted when partialOK is set.
func (r *Response) Check(service byte, partialOK bool) error {
	if r.ReplyService != service|ReplyMask {
		return fmt.Errorf("unexpected reply service: 0x%02X", r.ReplyService)
	}
	switch {
	case r.GeneralStatus == StatusSuccess:
		return nil
	case r.GeneralStatus == StatusPartialTransfer && partialOK:
		return nil
	}
	return r.Err()
}

// Partial reports whether more data is available.
func (r *Response) Partial() bool {
	return r.GeneralStatus == StatusPartialTransfer
}

// Err returns the reply status as a *StatusError, or nil on success.
func (r *Response) Err() error {
	if r.GeneralStatus == StatusSuccess {
		return nil
	}
	e := &StatusError{Status: r.GeneralStatus}
	if len(r.AdditionalStatus) > 0 {
		e.Extended = r.AdditionalStatus[0]
	}
	return e
}
