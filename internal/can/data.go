package can

import (
	"bytes"
	"errors"
	"fmt"
)

// MaxDataLen is the payload capacity of a classical CAN frame.
const MaxDataLen = 8

// ErrPayloadTooLarge is returned by NewData when more than MaxDataLen bytes
// are supplied. Oversized payloads are rejected outright, never truncated.
var ErrPayloadTooLarge = errors.New("can: payload too large")

// Data is a frame payload of 0 to 8 bytes. The zero value is the empty
// payload. Only the first Len bytes are live; the unused tail of the backing
// buffer is filler and never leaks through any accessor.
type Data struct {
	n   uint8
	buf [MaxDataLen]byte
}

// NewData copies b into a payload. It fails with ErrPayloadTooLarge when b
// holds more than 8 bytes.
func NewData(b []byte) (Data, error) {
	if len(b) > MaxDataLen {
		return Data{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(b))
	}
	var d Data
	d.n = uint8(len(b))
	copy(d.buf[:], b)
	return d, nil
}

// DataOf builds a payload from literal bytes. It panics when given more than
// 8 bytes, which a literal call site can always rule out; use NewData for
// runtime input.
func DataOf(b ...byte) Data {
	d, err := NewData(b)
	if err != nil {
		panic(err)
	}
	return d
}

// Len returns the number of live payload bytes.
func (d Data) Len() int { return int(d.n) }

// IsEmpty reports whether the payload holds no bytes.
func (d Data) IsEmpty() bool { return d.n == 0 }

// Bytes returns the payload view bounded to the live length. Writing through
// it mutates the payload in place but cannot change its length or reach the
// unused tail: the view's capacity equals its length, so re-slicing past Len
// is impossible and append copies instead of writing the backing buffer.
func (d *Data) Bytes() []byte { return d.buf[:d.n:d.n] }

// Equal reports whether two payloads carry the same bytes in the same order.
// The unused tails of the backing buffers do not participate.
func (d Data) Equal(o Data) bool {
	return bytes.Equal(d.buf[:d.n], o.buf[:o.n])
}

func (d Data) String() string { return fmt.Sprintf("% X", d.buf[:d.n]) }
