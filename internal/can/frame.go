// Package can models classical CAN frames: logical identifiers, the packed
// arbitration-field register, bounded payloads and the frame priority order
// used by the transmit scheduler. All types are small immutable values, safe
// to copy across goroutines without coordination.
package can

import (
	"errors"
	"fmt"
)

// ErrInvalidDLC is returned by NewRemoteFrame for a requested DLC outside
// 0..7. Remote frames never advertise DLC 8 here even though data frames may
// carry 8 bytes; the asymmetry is deliberate and covered by tests.
var ErrInvalidDLC = errors.New("can: invalid dlc")

// Frame is a CAN data or remote frame.
type Frame struct {
	id   idReg
	data Data
}

// NewDataFrame builds a data frame carrying the given payload.
func NewDataFrame(id ID, data Data) Frame {
	return Frame{id: regForID(id), data: data}
}

// NewRemoteFrame builds a remote frame advertising the given DLC.
//
// The internal payload only tracks the advertised length; no bytes back it
// and it is never handed out.
func NewRemoteFrame(id ID, dlc int) (Frame, error) {
	if dlc < 0 || dlc >= MaxDataLen {
		return Frame{}, fmt.Errorf("%w: remote dlc %d", ErrInvalidDLC, dlc)
	}
	f := Frame{id: regForID(id).withRTR(true)}
	f.data.n = uint8(dlc)
	return f, nil
}

// IsExtended reports whether the frame uses a 29-bit identifier.
func (f Frame) IsExtended() bool { return f.id.isExtended() }

// IsStandard reports whether the frame uses an 11-bit identifier.
func (f Frame) IsStandard() bool { return f.id.isStandard() }

// IsRemoteFrame reports whether the RTR bit is set.
func (f Frame) IsRemoteFrame() bool { return f.id.rtr() }

// IsDataFrame reports whether the frame carries data (complement of
// IsRemoteFrame).
func (f Frame) IsDataFrame() bool { return !f.id.rtr() }

// ID returns the logical frame identifier.
func (f Frame) ID() ID { return f.id.id() }

// Priority returns the arbitration-order key of this frame.
func (f Frame) Priority() Priority { return Priority{reg: f.id} }

// DLC returns the data length code in 0..8. For data frames it always
// matches the payload length; remote frames advertise it with no bytes
// behind it.
func (f Frame) DLC() int { return f.data.Len() }

// Data returns the payload of a data frame. The second return is false for
// remote frames, whose length-tracking payload is not user data.
func (f Frame) Data() (Data, bool) {
	if f.IsRemoteFrame() {
		return Data{}, false
	}
	return f.data, true
}

func (f Frame) String() string {
	if f.IsRemoteFrame() {
		return fmt.Sprintf("%s r%d", f.ID(), f.DLC())
	}
	return fmt.Sprintf("%s [%d] %s", f.ID(), f.DLC(), f.data)
}
