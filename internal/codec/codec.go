// Package codec encodes and decodes streams of classical SocketCAN
// can_frame records (16 bytes each). The layout is the de facto capture and
// transport format for classical CAN, so gateway clients can speak it with
// stock tooling.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/mkowalik/go-can-arbiter/internal/can"
	"github.com/mkowalik/go-can-arbiter/internal/metrics"
)

// SocketCAN can_id flag bits and masks, same values as <linux/can.h>.
const (
	EFFFlag uint32 = 0x80000000
	RTRFlag uint32 = 0x40000000
	ERRFlag uint32 = 0x20000000
	SFFMask uint32 = 0x7FF
	EFFMask uint32 = 0x1FFFFFFF
)

// RecordLen is the size of one classical struct can_frame record:
// 4-byte LE can_id (with flags), 1-byte dlc, 3 pad bytes, 8 data bytes.
const RecordLen = 16

// Codec encodes/decodes can_frame record streams. Stateless and safe for
// concurrent use.
type Codec struct{}

var (
	// ErrInvalidLength is returned when a record's DLC is outside what its
	// frame kind permits.
	ErrInvalidLength = errors.New("codec: invalid length")
	// ErrTruncatedRecord is returned when the reader ends mid-record.
	ErrTruncatedRecord = errors.New("codec: truncated record")
	// ErrErrorFrame is returned for records flagged as bus error frames,
	// which carry diagnostics rather than payload and are not modeled.
	ErrErrorFrame = errors.New("codec: error frame")
)

// CANID returns the SocketCAN can_id word for f, flags included.
func CANID(f can.Frame) uint32 {
	id := f.ID().Raw()
	if f.IsExtended() {
		id |= EFFFlag
	}
	if f.IsRemoteFrame() {
		id |= RTRFlag
	}
	return id
}

// FromWire reconstructs a frame from a can_id word, DLC and payload bytes.
// Masking bounds the identifier, so only the DLC can reject: data frames
// accept 0..8, remote frames 0..7 (a remote DLC of 8 fails like it does at
// the constructor).
func FromWire(canID uint32, dlc int, payload []byte) (can.Frame, error) {
	if canID&ERRFlag != 0 {
		return can.Frame{}, ErrErrorFrame
	}
	var id can.ID
	if canID&EFFFlag != 0 {
		id = can.MustExtended(canID & EFFMask)
	} else {
		id = can.MustStandard(uint16(canID & SFFMask))
	}
	if canID&RTRFlag != 0 {
		return can.NewRemoteFrame(id, dlc)
	}
	if dlc < 0 || dlc > can.MaxDataLen || dlc > len(payload) {
		return can.Frame{}, fmt.Errorf("%w: dlc %d", ErrInvalidLength, dlc)
	}
	d, err := can.NewData(payload[:dlc])
	if err != nil {
		return can.Frame{}, err
	}
	return can.NewDataFrame(id, d), nil
}

// PutRecord writes f into rec, which must hold at least RecordLen bytes.
func PutRecord(rec []byte, f can.Frame) {
	for i := range rec[:RecordLen] {
		rec[i] = 0
	}
	binary.LittleEndian.PutUint32(rec[0:4], CANID(f))
	rec[4] = uint8(f.DLC())
	if d, ok := f.Data(); ok {
		copy(rec[8:RecordLen], d.Bytes())
	}
}

// DecodeRecord parses one record from rec, which must hold at least
// RecordLen bytes. The in-memory counterpart of PutRecord.
func DecodeRecord(rec []byte) (can.Frame, error) {
	canID := binary.LittleEndian.Uint32(rec[0:4])
	dlc := int(rec[4])
	if dlc > can.MaxDataLen {
		metrics.IncMalformed()
		return can.Frame{}, fmt.Errorf("codec decode: %w (%d)", ErrInvalidLength, dlc)
	}
	fr, err := FromWire(canID, dlc, rec[8:8+dlc])
	if err != nil {
		metrics.IncMalformed()
		return can.Frame{}, fmt.Errorf("codec decode: %w", err)
	}
	return fr, nil
}

// Encode packs frames into a single buffer of records.
func (c *Codec) Encode(frames []can.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(len(frames) * RecordLen)
	_, _ = c.EncodeTo(&buf, frames)
	return buf.Bytes()
}

// EncodeTo writes the wire representation of frames to w and returns bytes
// written.
func (c *Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	var total int
	for _, f := range frames {
		var rec [RecordLen]byte
		PutRecord(rec[:], f)
		n, err := w.Write(rec[:])
		total += n
		if err != nil {
			return total, fmt.Errorf("codec encode: %w", err)
		}
	}
	return total, nil
}

// Decode reads exactly one frame from r. It returns io.EOF when called at a
// clean record boundary with no more data available.
func (c *Codec) Decode(r io.Reader) (can.Frame, error) {
	var rec [RecordLen]byte
	if _, err := io.ReadFull(r, rec[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			metrics.IncMalformed()
			return can.Frame{}, fmt.Errorf("codec decode: %w", ErrTruncatedRecord)
		}
		return can.Frame{}, err
	}
	return DecodeRecord(rec[:])
}

// DecodeN decodes up to max frames (all available if max<=0), invoking
// onFrame for each. It returns the number of frames decoded and the terminal
// error (which can be io.EOF at a clean boundary).
func (c *Codec) DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error) {
	var n int
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}
