package anchor

// Edit is a splice of the canonical text: Removed runes are taken out at At
// and Inserted runes are put in their place.
type Edit struct {
	At       int
	Removed  int
	Inserted int
}

// Deletion describes accepting a strikethrough over [start, end).
func Deletion(start, end int) Edit {
	return Edit{At: start, Removed: end - start}
}

// Insertion describes accepting n runes of new text at offset at.
func Insertion(at, n int) Edit {
	return Edit{At: at, Inserted: n}
}

// Delta is the change in document length.
func (e Edit) Delta() int { return e.Inserted - e.Removed }

// MapPoint moves a canonical offset across the edit.
//
//   - offsets before the edit stay put
//   - offsets at or past the end of the removed run shift by Delta
//   - offsets inside the removed run collapse to At
//
// An offset exactly at At stays on the left of inserted text unless after is
// set, in which case it moves past it.
func (e Edit) MapPoint(p int, after bool) int {
	if p < e.At || (p == e.At && !after) {
		return p
	}
	if p >= e.At+e.Removed {
		return p + e.Delta()
	}
	return e.At
}

// MapRange maps a consuming anchor. Its start sticks to the text after it and
// its end to the text before it, so text inserted at either edge stays
// outside while text inserted strictly inside grows the range. ok is false
// when a non-empty range collapses to nothing.
func (e Edit) MapRange(r Range) (Range, bool) {
	out := Range{Start: e.MapPoint(r.Start, true), End: e.MapPoint(r.End, false)}
	if out.End < out.Start {
		out.End = out.Start
	}
	if !r.Empty() && out.Empty() {
		return out, false
	}
	return out, true
}
