package can

// Priority is the arbitration-order key of a frame.
//
// It wraps the whole arbitration field: the identifier bits, the IDE bit
// separating standard from extended frames, and the RTR bit separating data
// from remote frames. Lower keys win arbitration on a physical bus, so
// sorting by Compare ranks pending frames exactly as the bus would transmit
// them. Priority exposes nothing but this order.
type Priority struct {
	reg idReg
}

// Compare returns a negative value when p wins arbitration over o, a
// positive value when it loses, and 0 when the arbitration fields are
// identical. Suitable for slices.SortFunc and heap keys.
func (p Priority) Compare(o Priority) int { return p.reg.compare(o.reg) }

// Less reports whether p wins arbitration over o.
func (p Priority) Less(o Priority) bool { return p.Compare(o) < 0 }
