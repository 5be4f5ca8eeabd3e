package eip

import (
	"encoding/binary"
	"fmt"
)

// Encapsulation commands.
const (
	CmdNOP               uint16 = 0x00
	CmdListIdentity      uint16 = 0x63
	CmdRegisterSession   uint16 = 0x65
	CmdUnRegisterSession uint16 = 0x66
	CmdSendRRData        uint16 = 0x6F
)

const encapHeaderLen = 24

// Encap is a generic EtherNet/IP encapsulation frame.
type Encap struct {
	command       uint16
	length        uint16
	sessionHandle uint32
	status        uint32
	context       [8]byte
	options       uint32
	data          []byte
}

func (m *Encap) Bytes() []byte {
	buf := make([]byte, 0, encapHeaderLen+len(m.data))
	buf = binary.LittleEndian.AppendUint16(buf, m.command)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.data)))
	buf = binary.LittleEndian.AppendUint32(buf, m.sessionHandle)
	buf = binary.LittleEndian.AppendUint32(buf, m.status)
	buf = append(buf, m.context[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, m.options)
	buf = append(buf, m.data...)
	return buf
}

// parseEncapHeader decodes the fixed 24-byte header.
func parseEncapHeader(header []byte) (*Encap, error) {
	if len(header) < encapHeaderLen {
		return nil, fmt.Errorf("encapsulation header too short: %d bytes", len(header))
	}
	m := &Encap{
		command:       binary.LittleEndian.Uint16(header[0:2]),
		length:        binary.LittleEndian.Uint16(header[2:4]),
		sessionHandle: binary.LittleEndian.Uint32(header[4:8]),
		status:        binary.LittleEndian.Uint32(header[8:12]),
		options:       binary.LittleEndian.Uint32(header[20:24]),
	}
	copy(m.context[:], header[12:20])
	return m, nil
}

// CommandData is the SendRRData payload: interface handle, timeout and
// the common packet.
type CommandData struct {
	interfaceHandle uint32
	timeout         uint16
	packet          []byte
}

func (r *CommandData) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint32(nil, r.interfaceHandle)
	raw = binary.LittleEndian.AppendUint16(raw, r.timeout)
	raw = append(raw, r.packet...)
	return raw
}

func ParseCommandData(raw []byte) (*CommandData, error) {
	if len(raw) < 6 {
		return nil, fmt.Errorf("command data too short: minimum 6, got %d", len(raw))
	}
	return &CommandData{
		interfaceHandle: binary.LittleEndian.Uint32(raw[:4]),
		timeout:         binary.LittleEndian.Uint16(raw[4:6]),
		packet:          raw[6:],
	}, nil
}
