// Package anchor converts between canonical offsets (into the stored essay)
// and rendered offsets (into the text the reviewer sees, where pending
// insertions are spliced in), and resolves UI selections to canonical ranges.
package anchor

import "sort"

// Range is a half-open canonical range [Start, End).
type Range struct {
	Start int
	End   int
}

func (r Range) Len() int    { return r.End - r.Start }
func (r Range) Empty() bool { return r.End <= r.Start }

// Overlaps reports whether the two ranges share at least one rune.
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// Insert is a pending insertion: text that is visible in the rendered view
// but absent from the canonical text. Order breaks ties between inserts at
// the same offset; lower orders render first.
type Insert struct {
	At    int
	Text  string
	Order uint64
}

type placed struct {
	at    int
	text  []rune
	order uint64
}

// Mapper is a pure function of the canonical text and the live inserts.
// Rebuild it whenever either changes.
type Mapper struct {
	canonical []rune
	inserts   []placed
	extra     int
}

func NewMapper(canonical string, inserts []Insert) *Mapper {
	m := &Mapper{canonical: []rune(canonical)}
	m.inserts = make([]placed, 0, len(inserts))
	for _, ins := range inserts {
		p := placed{at: clamp(ins.At, 0, len(m.canonical)), text: []rune(ins.Text), order: ins.Order}
		m.extra += len(p.text)
		m.inserts = append(m.inserts, p)
	}
	sort.SliceStable(m.inserts, func(i, j int) bool {
		if m.inserts[i].at != m.inserts[j].at {
			return m.inserts[i].at < m.inserts[j].at
		}
		return m.inserts[i].order < m.inserts[j].order
	})
	return m
}

func (m *Mapper) CanonicalLen() int { return len(m.canonical) }
func (m *Mapper) RenderedLen() int  { return len(m.canonical) + m.extra }

// ToRendered maps a canonical offset to the rendered offset of the same
// character. Every insert at or before the offset pushes it right.
func (m *Mapper) ToRendered(offset int) int {
	offset = clamp(offset, 0, len(m.canonical))
	shift := 0
	for _, ins := range m.inserts {
		if ins.at > offset {
			break
		}
		shift += len(ins.text)
	}
	return offset + shift
}

// ToCanonical maps a rendered offset back to canonical. Offsets that land on
// or inside an insert's rendered run resolve to the insert's anchor point.
func (m *Mapper) ToCanonical(rendered int) int {
	rendered = clamp(rendered, 0, m.RenderedLen())
	shift := 0
	for _, ins := range m.inserts {
		start := ins.at + shift
		if rendered <= start {
			break
		}
		if rendered <= start+len(ins.text) {
			return ins.at
		}
		shift += len(ins.text)
	}
	return clamp(rendered-shift, 0, len(m.canonical))
}

// Rendered returns the canonical text with every insert spliced in.
func (m *Mapper) Rendered() string {
	return string(m.rendered())
}

// RenderedSlice returns the rendered text between rs and re, clamped.
func (m *Mapper) RenderedSlice(rs, re int) string {
	r := m.rendered()
	rs = clamp(rs, 0, len(r))
	re = clamp(re, rs, len(r))
	return string(r[rs:re])
}

func (m *Mapper) rendered() []rune {
	out := make([]rune, 0, m.RenderedLen())
	cursor := 0
	for _, ins := range m.inserts {
		out = append(out, m.canonical[cursor:ins.at]...)
		out = append(out, ins.text...)
		cursor = ins.at
	}
	return append(out, m.canonical[cursor:]...)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
