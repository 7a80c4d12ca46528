package can

import (
	"errors"
	"fmt"
)

// Identifier width limits for classical CAN.
const (
	MaxStandard uint16 = 0x7FF      // highest 11-bit identifier
	MaxExtended uint32 = 0x1FFFFFFF // highest 29-bit identifier
)

// ErrInvalidIdentifier is returned when an identifier value exceeds its
// declared width.
var ErrInvalidIdentifier = errors.New("can: invalid identifier")

// ID is a logical CAN identifier, either standard (11-bit) or extended
// (29-bit). Values are validated at construction; an ID in hand always fits
// its width. The zero value is the standard identifier 0.
type ID struct {
	raw      uint32
	extended bool
}

// Standard builds an 11-bit identifier.
func Standard(v uint16) (ID, error) {
	if v > MaxStandard {
		return ID{}, fmt.Errorf("%w: standard id 0x%X exceeds 0x%X", ErrInvalidIdentifier, v, MaxStandard)
	}
	return ID{raw: uint32(v)}, nil
}

// Extended builds a 29-bit identifier.
func Extended(v uint32) (ID, error) {
	if v > MaxExtended {
		return ID{}, fmt.Errorf("%w: extended id 0x%X exceeds 0x%X", ErrInvalidIdentifier, v, MaxExtended)
	}
	return ID{raw: v, extended: true}, nil
}

// MustStandard is Standard for values known to be in range; it panics on an
// out-of-range value. Convenience for literals and tests.
func MustStandard(v uint16) ID {
	id, err := Standard(v)
	if err != nil {
		panic(err)
	}
	return id
}

// MustExtended is Extended for values known to be in range; it panics on an
// out-of-range value.
func MustExtended(v uint32) ID {
	id, err := Extended(v)
	if err != nil {
		panic(err)
	}
	return id
}

// Raw returns the identifier value (11 or 29 significant bits).
func (id ID) Raw() uint32 { return id.raw }

// IsExtended reports whether the identifier is 29-bit.
func (id ID) IsExtended() bool { return id.extended }

// IsStandard reports whether the identifier is 11-bit.
func (id ID) IsStandard() bool { return !id.extended }

func (id ID) String() string {
	if id.extended {
		return fmt.Sprintf("0x%08X", id.raw)
	}
	return fmt.Sprintf("0x%03X", id.raw)
}
