package eip

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"clxtag/logging"
)

// DefaultPort is the EtherNet/IP explicit messaging port.
const DefaultPort = 44818

// DefaultTimeout matches the controller client default.
const DefaultTimeout = 5 * time.Second

// maxPayload is the largest encapsulation payload accepted from a target.
const maxPayload = 65511

var (
	ErrClosed     = errors.New("eip: client closed")
	ErrNoSession  = errors.New("eip: no registered session")
	ErrEmptyFrame = errors.New("eip: empty common packet")
)

// Client owns one TCP connection and one registered session. Requests are
// serialized; each one is bounded by the client timeout and the context
// deadline, whichever is earlier.
type Client struct {
	addr    string
	timeout time.Duration

	mu      sync.Mutex
	conn    net.Conn
	session uint32
}

// Dial connects to address (host or host:port, port 44818 by default) and
// registers a session.
func Dial(ctx context.Context, address string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	addr := withDefaultPort(address)
	logging.DebugConnect("eip", addr)

	d := net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		logging.DebugConnectError("eip", addr, err)
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := newClient(conn, addr, timeout)
	if err := c.register(ctx); err != nil {
		_ = conn.Close()
		logging.DebugConnectError("eip", addr, err)
		return nil, err
	}
	logging.DebugConnectSuccess("eip", addr, fmt.Sprintf("session=0x%08X", c.Session()))
	return c, nil
}

func newClient(conn net.Conn, addr string, timeout time.Duration) *Client {
	return &Client{addr: addr, timeout: timeout, conn: conn}
}

func withDefaultPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(DefaultPort))
}

func (c *Client) Address() string {
	return c.addr
}

func (c *Client) Timeout() time.Duration {
	return c.timeout
}

func (c *Client) Session() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Close unregisters the session (best effort) and closes the connection.
// It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	logging.DebugDisconnect("eip", c.addr, "client close")

	if c.session != 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
		_ = c.send(Encap{command: CmdUnRegisterSession, sessionHandle: c.session})
	}
	err := c.conn.Close()
	c.conn = nil
	c.session = 0
	return err
}

func (c *Client) register(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Protocol version 1, option flags 0.
	resp, err := c.transact(ctx, Encap{command: CmdRegisterSession, data: []byte{1, 0, 0, 0}})
	if err != nil {
		return fmt.Errorf("register session: %w", err)
	}
	if resp.status != 0 {
		return fmt.Errorf("register session: encapsulation status 0x%08X", resp.status)
	}
	if resp.sessionHandle == 0 {
		return fmt.Errorf("register session: target returned session handle 0")
	}
	c.session = resp.sessionHandle
	return nil
}

// SendRRData sends an unconnected explicit message and returns the reply
// packet.
func (c *Client) SendRRData(ctx context.Context, packet CommonPacket) (*CommonPacket, error) {
	raw := packet.Bytes()
	if len(packet.Items) == 0 {
		return nil, ErrEmptyFrame
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrClosed
	}
	if c.session == 0 {
		return nil, ErrNoSession
	}

	cmd := CommandData{packet: raw}
	resp, err := c.transact(ctx, Encap{
		command:       CmdSendRRData,
		sessionHandle: c.session,
		data:          cmd.Bytes(),
	})
	if err != nil {
		return nil, fmt.Errorf("SendRRData: %w", err)
	}
	if resp.status != 0 {
		return nil, fmt.Errorf("SendRRData: encapsulation status 0x%08X", resp.status)
	}

	cdata, err := ParseCommandData(resp.data)
	if err != nil {
		return nil, fmt.Errorf("SendRRData: %w", err)
	}
	cpf, err := ParseCommonPacket(cdata.packet)
	if err != nil {
		return nil, fmt.Errorf("SendRRData: %w", err)
	}
	return cpf, nil
}

// Nop sends an encapsulation NOP. The target does not reply.
func (c *Client) Nop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrClosed
	}
	if err := c.arm(ctx); err != nil {
		return err
	}
	if err := c.send(Encap{command: CmdNOP, sessionHandle: c.session}); err != nil {
		c.fail()
		return fmt.Errorf("nop: %w", err)
	}
	return nil
}

// arm applies the earlier of the client timeout and the context deadline to
// the connection.
func (c *Client) arm(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return c.conn.SetDeadline(deadline)
}

// transact writes one frame and reads its reply. An I/O failure leaves the
// stream position unknown, so the connection is dropped.
func (c *Client) transact(ctx context.Context, msg Encap) (*Encap, error) {
	if c.conn == nil {
		return nil, ErrClosed
	}
	if err := c.arm(ctx); err != nil {
		return nil, err
	}
	if err := c.send(msg); err != nil {
		c.fail()
		return nil, err
	}
	resp, err := c.recv()
	if err != nil {
		c.fail()
		return nil, err
	}
	if resp.command != msg.command {
		c.fail()
		return nil, fmt.Errorf("reply command 0x%04X does not match request 0x%04X", resp.command, msg.command)
	}
	return resp, nil
}

func (c *Client) fail() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.session = 0
}

func (c *Client) send(msg Encap) error {
	data := msg.Bytes()
	logging.DebugTX("eip", data)
	if _, err := c.conn.Write(data); err != nil {
		logging.DebugError("eip", "send", err)
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *Client) recv() (*Encap, error) {
	header := make([]byte, encapHeaderLen)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		logging.DebugError("eip", "read header", err)
		return nil, fmt.Errorf("read header: %w", err)
	}
	msg, err := parseEncapHeader(header)
	if err != nil {
		return nil, err
	}

	if msg.length > maxPayload {
		return nil, fmt.Errorf("payload length %d exceeds %d", msg.length, maxPayload)
	}
	// Session 0 is used by session-less commands such as ListIdentity.
	if msg.sessionHandle != 0 && c.session != 0 && msg.sessionHandle != c.session {
		return nil, fmt.Errorf("session mismatch: expected 0x%08X, got 0x%08X", c.session, msg.sessionHandle)
	}

	msg.data = make([]byte, msg.length)
	if _, err := io.ReadFull(c.conn, msg.data); err != nil {
		logging.DebugError("eip", "read payload", err)
		return nil, fmt.Errorf("read payload: %w", err)
	}
	logging.DebugRX("eip", append(header, msg.data...))
	return msg, nil
}

// remoteIP returns the peer address when the connection is TCP.
func (c *Client) remoteIP() net.IP {
	if c.conn == nil {
		return nil
	}
	if addr, ok := c.conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP
	}
	return nil
}

func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }
