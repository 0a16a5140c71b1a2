package protocol

import (
	"net"
	"time"
)

// Conn speaks the chat protocol over a TCP connection. When readTimeout is
// nonzero every mid-conversation read is bounded by it; ReadOpcode always
// blocks without a deadline, since a quiet connection between conversations
// is legal until the liveness sweep reclaims it.
type Conn struct {
	nc          net.Conn
	enc         *Encoder
	dec         *Decoder
	readTimeout time.Duration
}

func NewConn(nc net.Conn, readTimeout time.Duration) *Conn {
	return &Conn{
		nc:          nc,
		enc:         NewEncoder(nc),
		dec:         NewDecoder(nc),
		readTimeout: readTimeout,
	}
}

func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

func (c *Conn) Close() error { return c.nc.Close() }

// ReadOpcode waits for the next conversation to begin.
func (c *Conn) ReadOpcode() (Opcode, error) {
	if err := c.nc.SetReadDeadline(time.Time{}); err != nil {
		return 0, err
	}
	b, err := c.dec.ReadU8()
	return Opcode(b), err
}

func (c *Conn) arm() error {
	if c.readTimeout <= 0 {
		return nil
	}
	return c.nc.SetReadDeadline(time.Now().Add(c.readTimeout))
}

func (c *Conn) ReadU8() (uint8, error) {
	if err := c.arm(); err != nil {
		return 0, err
	}
	return c.dec.ReadU8()
}

func (c *Conn) ReadU32() (uint32, error) {
	if err := c.arm(); err != nil {
		return 0, err
	}
	return c.dec.ReadU32()
}

func (c *Conn) ReadI32() (int32, error) {
	if err := c.arm(); err != nil {
		return 0, err
	}
	return c.dec.ReadI32()
}

func (c *Conn) ReadString() (string, error) {
	if err := c.arm(); err != nil {
		return "", err
	}
	return c.dec.ReadString()
}

func (c *Conn) ReadStatus() (Status, error) {
	b, err := c.ReadU8()
	return Status(b), err
}

// ReadChunk returns whatever a single receive delivers, up to max bytes.
// REGISTER and LOGIN names and the SET_STATUS payload arrive with no length
// prefix; the first receive determines the value.
func (c *Conn) ReadChunk(max int) ([]byte, error) {
	if err := c.arm(); err != nil {
		return nil, err
	}
	buf := make([]byte, max)
	n, err := c.nc.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *Conn) WriteOpcode(op Opcode) error { return c.enc.WriteU8(uint8(op)) }

func (c *Conn) WriteStatus(st Status) error { return c.enc.WriteU8(uint8(st)) }

func (c *Conn) WriteU8(v uint8) error { return c.enc.WriteU8(v) }

func (c *Conn) WriteU32(v uint32) error { return c.enc.WriteU32(v) }

func (c *Conn) WriteI32(v int32) error { return c.enc.WriteI32(v) }

func (c *Conn) WriteString(v string) error { return c.enc.WriteString(v) }

// WriteRaw sends bytes with no framing at all.
func (c *Conn) WriteRaw(b []byte) error {
	_, err := c.nc.Write(b)
	return err
}
