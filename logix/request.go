package logix

import (
	"context"
	"encoding/binary"
	"fmt"

	"clxtag/cip"
	"clxtag/eip"
)

// exchange sends one tag service request for the channel's tag and returns
// the checked reply. Routed requests travel inside Unconnected_Send.
func (c *Channel) exchange(ctx context.Context, service byte, data []byte, partialOK bool) (*cip.Response, error) {
	req := cip.Request{Service: service, Path: c.path, Data: data}.Marshal()
	if len(c.route) > 0 {
		req = cip.UnconnectedSend(req, c.route)
	}

	reply, err := c.conn.SendRRData(ctx, eip.UnconnectedPacket(req))
	if err != nil {
		// The session is unusable after a transport error; the next
		// Read or Write dials a new one.
		c.closeConn()
		return nil, err
	}
	raw, err := reply.UnconnectedData()
	if err != nil {
		return nil, err
	}
	if len(c.route) > 0 {
		if raw, err = cip.UnwrapUnconnected(raw, service); err != nil {
			return nil, err
		}
	}

	resp, err := cip.ParseResponse(raw)
	if err != nil {
		return nil, err
	}
	if err := resp.Check(service, partialOK); err != nil {
		return nil, err
	}
	return resp, nil
}

// readTag fetches count elements, continuing with Read Tag Fragmented while
// the controller reports a partial transfer.
func (c *Channel) readTag(ctx context.Context, count int) (typeInfo, []byte, error) {
	if count > 0xFFFF {
		return nil, nil, fmt.Errorf("element count %d exceeds 65535", count)
	}
	body := binary.LittleEndian.AppendUint16(nil, uint16(count))

	resp, err := c.exchange(ctx, SvcReadTag, body, true)
	if err != nil {
		return nil, nil, err
	}
	typ, data, err := splitTyped(resp.Data)
	if err != nil {
		return nil, nil, err
	}
	out := append([]byte(nil), data...)

	for resp.Partial() {
		if len(data) == 0 {
			return nil, nil, fmt.Errorf("partial transfer made no progress at offset %d", len(out))
		}
		frag := binary.LittleEndian.AppendUint16(nil, uint16(count))
		frag = binary.LittleEndian.AppendUint32(frag, uint32(len(out)))
		if resp, err = c.exchange(ctx, SvcReadTagFragmented, frag, true); err != nil {
			return nil, nil, err
		}
		if _, data, err = splitTyped(resp.Data); err != nil {
			return nil, nil, err
		}
		out = append(out, data...)
	}
	return typ, out, nil
}

// writeTag sends payload as count elements of typ. Payloads larger than one
// fragment go out as Write Tag Fragmented blocks.
func (c *Channel) writeTag(ctx context.Context, typ typeInfo, count int, payload []byte) error {
	if count > 0xFFFF {
		return fmt.Errorf("element count %d exceeds 65535", count)
	}
	head := append([]byte(nil), typ...)
	head = binary.LittleEndian.AppendUint16(head, uint16(count))

	if len(payload) <= maxFragment {
		_, err := c.exchange(ctx, SvcWriteTag, append(head, payload...), false)
		return err
	}

	for off := 0; off < len(payload); off += maxFragment {
		end := min(off+maxFragment, len(payload))
		body := append([]byte(nil), head...)
		body = binary.LittleEndian.AppendUint32(body, uint32(off))
		body = append(body, payload[off:end]...)
		if _, err := c.exchange(ctx, SvcWriteTagFragmented, body, false); err != nil {
			return fmt.Errorf("fragment at %d: %w", off, err)
		}
	}
	return nil
}
