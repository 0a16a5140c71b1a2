package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Encoder writes binary-encoded fields to an io.Writer.
type Encoder struct {
	w   io.Writer
	buf [4]byte
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) WriteU8(v uint8) error {
	e.buf[0] = v
	_, err := e.w.Write(e.buf[:1])
	return err
}

func (e *Encoder) WriteU32(v uint32) error {
	binary.LittleEndian.PutUint32(e.buf[:4], v)
	_, err := e.w.Write(e.buf[:4])
	return err
}

func (e *Encoder) WriteI32(v int32) error {
	binary.LittleEndian.PutUint32(e.buf[:4], uint32(v))
	_, err := e.w.Write(e.buf[:4])
	return err
}

// WriteString writes a u32 length prefix followed by the raw bytes.
func (e *Encoder) WriteString(v string) error {
	if err := e.WriteU32(uint32(len(v))); err != nil {
		return err
	}
	_, err := io.WriteString(e.w, v)
	return err
}

// Decoder reads binary-encoded fields from an io.Reader.
type Decoder struct {
	r   io.Reader
	buf [4]byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

func (d *Decoder) ReadU8() (uint8, error) {
	if _, err := io.ReadFull(d.r, d.buf[:1]); err != nil {
		return 0, err
	}
	return d.buf[0], nil
}

func (d *Decoder) ReadU32() (uint32, error) {
	if _, err := io.ReadFull(d.r, d.buf[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(d.buf[:4]), nil
}

func (d *Decoder) ReadI32() (int32, error) {
	if _, err := io.ReadFull(d.r, d.buf[:4]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(d.buf[:4])), nil
}

// ReadString reads a u32 length prefix and that many bytes. Lengths beyond
// MaxPayload are refused before any allocation.
func (d *Decoder) ReadString() (string, error) {
	n, err := d.ReadU32()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	if n > MaxPayload {
		return "", fmt.Errorf("protocol: string length %d exceeds %d", n, MaxPayload)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
