package eip

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
)

// Identity is the parsed ListIdentity identity item.
type Identity struct {
	EncapsulationVersion uint16
	VendorID             uint16
	DeviceType           uint16
	ProductCode          uint16
	RevisionMajor        byte
	RevisionMinor        byte
	Status               uint16
	SerialNumber         uint32
	ProductName          string
	State                byte

	IP   net.IP
	Port uint16
}

func (id Identity) String() string {
	return fmt.Sprintf("%s rev %d.%d serial %08X vendor %d type 0x%02X", id.ProductName,
		id.RevisionMajor, id.RevisionMinor, id.SerialNumber, id.VendorID, id.DeviceType)
}

// Identify asks the connected target to identify itself (ListIdentity over
// TCP). Usually one record is returned.
func (c *Client) Identify(ctx context.Context) ([]Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// ListIdentity is session-less.
	resp, err := c.transact(ctx, Encap{command: CmdListIdentity})
	if err != nil {
		return nil, fmt.Errorf("ListIdentity: %w", err)
	}
	if resp.status != 0 {
		return nil, fmt.Errorf("ListIdentity: encapsulation status 0x%08X", resp.status)
	}

	idents, err := parseIdentities(resp.data, c.remoteIP())
	if err != nil {
		return nil, fmt.Errorf("ListIdentity: %w", err)
	}
	return idents, nil
}

// parseIdentities extracts identity items from a ListIdentity reply.
// Targets often report 0.0.0.0 in the socket address, so fallbackIP is used
// in that case.
func parseIdentities(p []byte, fallbackIP net.IP) ([]Identity, error) {
	cpf, err := ParseCommonPacket(p)
	if err != nil {
		return nil, err
	}

	idents := make([]Identity, 0, len(cpf.Items))
	for _, item := range cpf.Items {
		if item.TypeId != CpfListIdentityResponseId {
			continue
		}
		id, err := parseIdentityItem(item.Data)
		if err != nil {
			return nil, err
		}
		if id.IP == nil || id.IP.Equal(net.IPv4zero) {
			id.IP = fallbackIP
		}
		idents = append(idents, id)
	}
	return idents, nil
}

func parseIdentityItem(b []byte) (Identity, error) {
	// Fixed part through the product name length byte.
	if len(b) < 33 {
		return Identity{}, fmt.Errorf("identity item too short: %d", len(b))
	}

	// Socket address: family(2) port(2) addr(4) zero(8), network byte order.
	sock := b[2:18]
	id := Identity{
		EncapsulationVersion: le16(b[0:2]),
		Port:                 binary.BigEndian.Uint16(sock[2:4]),
		IP:                   net.IPv4(sock[4], sock[5], sock[6], sock[7]),
		VendorID:             le16(b[18:20]),
		DeviceType:           le16(b[20:22]),
		ProductCode:          le16(b[22:24]),
		RevisionMajor:        b[24],
		RevisionMinor:        b[25],
		Status:               le16(b[26:28]),
		SerialNumber:         binary.LittleEndian.Uint32(b[28:32]),
	}

	nameLen := int(b[32])
	off := 33
	if off+nameLen > len(b) {
		return Identity{}, fmt.Errorf("product name truncated: need %d bytes, have %d", nameLen, len(b)-off)
	}
	id.ProductName = string(b[off : off+nameLen])
	off += nameLen

	if off >= len(b) {
		return Identity{}, fmt.Errorf("missing state byte")
	}
	id.State = b[off]
	return id, nil
}
