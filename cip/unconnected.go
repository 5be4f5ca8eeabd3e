package cip

import (
	"encoding/binary"
	"fmt"
)

// Unconnected_Send timing used by Logix clients.
const (
	ucmmPriorityTick byte = 0x0A
	ucmmTimeoutTicks byte = 0x05
)

// UnconnectedSend wraps an encoded request for delivery along route by the
// Connection Manager (class 0x06, instance 1).
func UnconnectedSend(req []byte, route EPath_t) []byte {
	// [Priority/Tick 1] [Timeout Ticks 1] [Message Size 2] [Message n]
	// [Pad if odd] [Route Path Size 1] [Reserved 1] [Route Path n]
	ucmm := make([]byte, 0, 4+len(req)+3+len(route))
	ucmm = append(ucmm, ucmmPriorityTick, ucmmTimeoutTicks)
	ucmm = binary.LittleEndian.AppendUint16(ucmm, uint16(len(req)))
	ucmm = append(ucmm, req...)
	if len(req)%2 != 0 {
		ucmm = append(ucmm, 0x00)
	}
	ucmm = append(ucmm, route.WordLen(), 0x00)
	ucmm = append(ucmm, route...)

	cm, _ := EPath().Class(0x06).Instance(1).Build()
	return Request{Service: SvcUnconnectedSend, Path: cm, Data: ucmm}.Marshal()
}

// UnwrapUnconnected checks the reply to a routed request whose embedded
// service was sent. On success the target's own reply comes back without
// a wrapper and is returned unchanged; a routing failure comes back as an
// Unconnected_Send reply carrying the Connection Manager's status.
func UnwrapUnconnected(data []byte, sent byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("UCMM response too short: %d bytes", len(data))
	}
	if data[0] != SvcUnconnectedSend|ReplyMask || data[2] == StatusSuccess {
		return data, nil
	}
	if sent == SvcUnconnectedSend && data[2] == StatusPartialTransfer {
		return data, nil
	}
	resp, err := ParseResponse(data)
	if err != nil {
		return nil, err
	}
	return nil, resp.Err()
}
