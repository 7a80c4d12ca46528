package can

import "cmp"

// idReg packs the arbitration field of a frame into a single register whose
// unsigned value orders frames exactly as bus arbitration does: the lower
// register value wins.
//
// Bit layout, most significant first:
//
//	31..21  identifier bits 28..18 (the full 11 bits of a standard id)
//	20..3   identifier bits 17..0  (zero-filled for standard frames)
//	2       IDE: 0 = extended, 1 = standard
//	1       RTR: 0 = data, 1 = remote
//	0       unused
//
// With the IDE bit directly below the left-aligned identifier, an extended
// frame sorts ahead of a standard frame sharing the same leading 11 bits,
// and with RTR below IDE a data frame sorts ahead of the remote frame with
// the identical identifier. No comparator logic beyond a uint32 compare is
// needed, and none is allowed: compare below is the single source of truth
// for frame priority.
type idReg uint32

const (
	regIDE idReg = 1 << 2
	regRTR idReg = 1 << 1

	standardShift = 21
	extendedShift = 3
)

// newStandardReg packs an 11-bit identifier. The caller guarantees width;
// Standard validates upstream.
func newStandardReg(v uint16) idReg {
	return idReg(v)<<standardShift | regIDE
}

// newExtendedReg packs a 29-bit identifier.
func newExtendedReg(v uint32) idReg {
	return idReg(v) << extendedShift
}

// regForID converts a validated logical identifier.
func regForID(id ID) idReg {
	if id.extended {
		return newExtendedReg(id.raw)
	}
	return newStandardReg(uint16(id.raw))
}

// withRTR returns a copy with only the RTR bit replaced.
func (r idReg) withRTR(remote bool) idReg {
	if remote {
		return r | regRTR
	}
	return r &^ regRTR
}

func (r idReg) isExtended() bool { return r&regIDE == 0 }
func (r idReg) isStandard() bool { return r&regIDE != 0 }
func (r idReg) rtr() bool        { return r&regRTR != 0 }

// id reconstructs the logical identifier from the register.
func (r idReg) id() ID {
	if r.isStandard() {
		return ID{raw: uint32(r) >> standardShift}
	}
	return ID{raw: uint32(r) >> extendedShift & MaxExtended, extended: true}
}

// compare orders two registers; negative means r wins arbitration.
func (r idReg) compare(o idReg) int {
	return cmp.Compare(uint32(r), uint32(o))
}
