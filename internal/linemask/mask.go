// Package linemask decodes the controller's active-line bitmask.
//
// The mask is only ever replaced wholesale by a value the controller returned,
// so the package offers no way to set or clear a bit.
package linemask

// MaxLines is the widest mask the codec can address.
const MaxLines = 64

// Mask holds one bit per line id; bit i set means line i is active.
type Mask uint64

// FromInt keeps the two's-complement bits of a JSON integer, so a controller
// that reports -1 is read as "every line active".
func FromInt(value int64) Mask {
	return Mask(uint64(value))
}

// IsActive reports whether line id is active under mask for a controller with
// the given number of lines. Ids outside 0..lines-1 are never active.
func IsActive(mask Mask, id, lines int) bool {
	if lines > MaxLines {
		lines = MaxLines
	}
	if id < 0 || id >= lines {
		return false
	}
	return (uint64(mask)>>uint(id))&1 == 1
}

// ActiveLines lists the active ids in ascending order.
func ActiveLines(mask Mask, lines int) []int {
	active := make([]int, 0, lines)
	for id := 0; id < lines && id < MaxLines; id++ {
		if IsActive(mask, id, lines) {
			active = append(active, id)
		}
	}
	return active
}
