// Package serial moves CAN frames over a serial line using the SLCAN ASCII
// protocol spoken by USB-CAN adapters and tools like slcand.
package serial

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/mkowalik/go-can-arbiter/internal/can"
	"github.com/mkowalik/go-can-arbiter/internal/metrics"
)

// Codec encodes/decodes SLCAN lines. Stateless and safe for concurrent use.
type Codec struct{}

// ErrMalformedLine is returned for lines that do not parse as SLCAN frames.
var ErrMalformedLine = errors.New("slcan: malformed line")

// maxLineLen is the longest well-formed frame line:
// 'T' + 8 id digits + dlc digit + 16 data digits + CR.
const maxLineLen = 1 + 8 + 1 + 16 + 1

// rxGarbageLimit caps how much CR-less noise the accumulator may hold
// before it is discarded, so a disconnected or misconfigured adapter
// cannot grow the buffer without bound.
const rxGarbageLimit = 4096

// Encode renders one frame as an SLCAN line:
//
//	tIIIL[DD..]\r   standard data frame
//	TIIIIIIIIL[DD..]\r  extended data frame
//	rIIIL\r / RIIIIIIIIL\r  remote frames (no data bytes)
func (Codec) Encode(f can.Frame) []byte {
	buf := make([]byte, 0, maxLineLen)
	switch {
	case f.IsRemoteFrame() && f.IsExtended():
		buf = append(buf, 'R')
	case f.IsRemoteFrame():
		buf = append(buf, 'r')
	case f.IsExtended():
		buf = append(buf, 'T')
	default:
		buf = append(buf, 't')
	}
	if f.IsExtended() {
		buf = fmt.Appendf(buf, "%08X", f.ID().Raw())
	} else {
		buf = fmt.Appendf(buf, "%03X", f.ID().Raw())
	}
	buf = append(buf, '0'+byte(f.DLC()))
	if d, ok := f.Data(); ok {
		for _, b := range d.Bytes() {
			buf = fmt.Appendf(buf, "%02X", b)
		}
	}
	return append(buf, '\r')
}

// DecodeStream consumes complete CR-terminated lines from in, emitting each
// parsed frame via out. Partial trailing lines stay buffered for the next
// read; malformed lines are counted and skipped. It returns nil unless the
// stream is unrecoverable (currently never).
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		data := in.Bytes()
		i := bytes.IndexByte(data, '\r')
		if i < 0 {
			if in.Len() > rxGarbageLimit {
				in.Reset()
				metrics.IncMalformed()
			}
			return nil
		}
		line := make([]byte, i)
		copy(line, data[:i])
		in.Next(i + 1)
		if len(line) == 0 {
			continue
		}
		// Single-byte ACK/NACK responses from the adapter are not frames.
		if len(line) == 1 && (line[0] == 0x06 || line[0] == 0x07 || line[0] == 'z' || line[0] == 'Z') {
			continue
		}
		fr, err := parseLine(line)
		if err != nil {
			metrics.IncMalformed()
			continue
		}
		out(fr)
	}
}

func parseLine(line []byte) (can.Frame, error) {
	var extended, remote bool
	switch line[0] {
	case 't':
	case 'T':
		extended = true
	case 'r':
		remote = true
	case 'R':
		extended, remote = true, true
	default:
		return can.Frame{}, fmt.Errorf("%w: command %q", ErrMalformedLine, line[0])
	}
	idLen := 3
	if extended {
		idLen = 8
	}
	if len(line) < 1+idLen+1 {
		return can.Frame{}, fmt.Errorf("%w: short line", ErrMalformedLine)
	}
	raw, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return can.Frame{}, fmt.Errorf("%w: id: %v", ErrMalformedLine, err)
	}
	var id can.ID
	if extended {
		id, err = can.Extended(uint32(raw))
	} else {
		id, err = can.Standard(uint16(raw))
	}
	if err != nil {
		return can.Frame{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	dlcDigit := line[1+idLen]
	if dlcDigit < '0' || dlcDigit > '8' {
		return can.Frame{}, fmt.Errorf("%w: dlc %q", ErrMalformedLine, dlcDigit)
	}
	dlc := int(dlcDigit - '0')
	if remote {
		if len(line) != 1+idLen+1 {
			return can.Frame{}, fmt.Errorf("%w: data on remote frame", ErrMalformedLine)
		}
		f, err := can.NewRemoteFrame(id, dlc)
		if err != nil {
			return can.Frame{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
		}
		return f, nil
	}
	hexData := line[1+idLen+1:]
	if len(hexData) != 2*dlc {
		return can.Frame{}, fmt.Errorf("%w: dlc %d with %d data digits", ErrMalformedLine, dlc, len(hexData))
	}
	payload := make([]byte, dlc)
	if _, err := hex.Decode(payload, hexData); err != nil {
		return can.Frame{}, fmt.Errorf("%w: data: %v", ErrMalformedLine, err)
	}
	d, err := can.NewData(payload)
	if err != nil {
		return can.Frame{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	return can.NewDataFrame(id, d), nil
}
