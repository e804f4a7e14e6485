// internal/filter/mask.go
// Tri-state bit predicates used by channel filters
package filter

// State is the requirement a Mask places on a single bit.
type State int

const (
	DontCare State = iota
	MustBeSet
	MustBeClear
)

func (s State) String() string {
	switch s {
	case MustBeSet:
		return "set"
	case MustBeClear:
		return "clear"
	default:
		return "any"
	}
}

// Mask is a (mask, value) pair. A bit that is clear in Mask is ignored,
// otherwise the same bit in Value says whether it must be set or clear.
type Mask struct {
	Mask  uint32
	Value uint32
}

// State reports the requirement on bit.
func (m Mask) State(bit uint32) State {
	if m.Mask&bit == 0 {
		return DontCare
	}
	if m.Value&bit != 0 {
		return MustBeSet
	}
	return MustBeClear
}

// Toggle advances bit through don't-care -> must-be-set -> must-be-clear -> don't-care.
func (m Mask) Toggle(bit uint32) Mask {
	switch m.State(bit) {
	case DontCare:
		m.Mask |= bit
		m.Value |= bit
	case MustBeSet:
		m.Value &^= bit
	default:
		m.Mask &^= bit
		m.Value &^= bit
	}
	return m
}

// Normalized drops value bits that are not covered by the mask.
func (m Mask) Normalized() Mask {
	return Mask{Mask: m.Mask, Value: m.Value & m.Mask}
}

// Matches reports whether flags satisfies every constrained bit.
func (m Mask) Matches(flags uint32) bool {
	n := m.Normalized()
	return flags&n.Mask == n.Value
}

// IsZero reports whether the mask constrains nothing.
func (m Mask) IsZero() bool {
	return m.Mask == 0
}
