package eip

// Common Packet Format for EIP per ODVA v1.4

import (
	"encoding/binary"
	"fmt"
)

const (
	CpfAddressNullId          uint16 = 0x00
	CpfListIdentityResponseId uint16 = 0x0C
	CpfUnconnectedMessageId   uint16 = 0xB2
)

// CommonPacket is a list of address and data items.
type CommonPacket struct {
	Items []CommonPacketItem
}

type CommonPacketItem struct {
	TypeId uint16
	Length uint16
	Data   []byte
}

// UnconnectedPacket wraps an encoded CIP request in a null address item and
// an unconnected data item.
func UnconnectedPacket(req []byte) CommonPacket {
	return CommonPacket{
		Items: []CommonPacketItem{
			{TypeId: CpfAddressNullId},
			{TypeId: CpfUnconnectedMessageId, Length: uint16(len(req)), Data: req},
		},
	}
}

// UnconnectedData returns the payload of the unconnected data item.
func (p *CommonPacket) UnconnectedData() ([]byte, error) {
	for _, item := range p.Items {
		if item.TypeId == CpfUnconnectedMessageId {
			return item.Data, nil
		}
	}
	return nil, fmt.Errorf("no unconnected data item in %d CPF items", len(p.Items))
}

func (p *CommonPacket) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint16(nil, uint16(len(p.Items)))
	for _, item := range p.Items {
		raw = append(raw, item.Bytes()...)
	}
	return raw
}

func (item *CommonPacketItem) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint16(nil, item.TypeId)
	raw = binary.LittleEndian.AppendUint16(raw, uint16(len(item.Data)))
	raw = append(raw, item.Data...)
	return raw
}

// ParseCommonPacket parses the item list of a common packet.
func ParseCommonPacket(raw []byte) (*CommonPacket, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("ParseCommonPacket: raw bytes too short: minimum 2, got %d", len(raw))
	}

	count := binary.LittleEndian.Uint16(raw[:2])
	raw = raw[2:]

	items := make([]CommonPacketItem, 0, count)
	for i := uint16(0); i < count; i++ {
		if len(raw) < 4 {
			return nil, fmt.Errorf("ParseCommonPacket: truncated item header at item %d: have %d bytes", i, len(raw))
		}
		typeID := binary.LittleEndian.Uint16(raw[:2])
		length := binary.LittleEndian.Uint16(raw[2:4])

		need := 4 + int(length)
		if len(raw) < need {
			return nil, fmt.Errorf("ParseCommonPacket: insufficient data for item %d: need %d bytes, have %d", i, need, len(raw))
		}
		items = append(items, CommonPacketItem{TypeId: typeID, Length: length, Data: raw[4:need]})
		raw = raw[need:]
	}
	return &CommonPacket{Items: items}, nil
}
