package anchor

import (
	"errors"
	"strings"

	"pingin/api/internal/document"
)

// SearchWindow is how far (in runes) either side of the mapped offsets the
// resolver looks when neither the exact nor the mapped match holds.
const SearchWindow = 10

var (
	// ErrSelectionUnresolvable indicates that a selection could not be tied to
	// a canonical range. The UI should tell the user and create nothing.
	ErrSelectionUnresolvable = errors.New("selection could not be anchored")
)

// Selection is what the UI shell reports when a drag completes: rendered
// boundaries plus the text it believes it selected.
type Selection struct {
	RenderedStart int
	RenderedEnd   int
	Text          string
}

// Resolver turns rendered selections into canonical ranges.
type Resolver struct {
	canonical []rune
	mapper    *Mapper
}

func NewResolver(canonical string, inserts []Insert) *Resolver {
	return &Resolver{canonical: []rune(canonical), mapper: NewMapper(canonical, inserts)}
}

func (r *Resolver) Mapper() *Mapper { return r.mapper }

// ResolveRange finds the canonical range a selection refers to. It tries, in
// order: a literal match of the selected text that is unique in the document
// or starts where the selection maps, the mapped boundaries validated against
// the rendered model, and a search within SearchWindow runes of the mapped
// boundaries.
func (r *Resolver) ResolveRange(sel Selection) (Range, error) {
	if strings.TrimSpace(sel.Text) == "" {
		return Range{}, ErrSelectionUnresolvable
	}
	rs, re := sel.RenderedStart, sel.RenderedEnd
	if re < rs {
		rs, re = re, rs
	}
	cs, ce := r.mapper.ToCanonical(rs), r.mapper.ToCanonical(re)
	n := len([]rune(sel.Text))

	if start, ok := r.exactMatch(sel.Text, cs); ok {
		return Range{Start: start, End: start + n}, nil
	}

	if ce > cs && r.mapper.RenderedSlice(rs, re) == sel.Text {
		return Range{Start: cs, End: ce}, nil
	}

	if start := document.IndexWithin(r.canonical, sel.Text, cs-SearchWindow, ce+SearchWindow); start >= 0 {
		return Range{Start: start, End: start + n}, nil
	}
	return Range{}, ErrSelectionUnresolvable
}

// ResolvePoint maps a caret position to the canonical offset where typed text
// would be inserted.
func (r *Resolver) ResolvePoint(rendered int) int {
	return r.mapper.ToCanonical(rendered)
}

func (r *Resolver) exactMatch(text string, near int) (int, bool) {
	hits := document.Occurrences(r.canonical, text)
	if len(hits) == 1 {
		return hits[0], true
	}
	for _, h := range hits {
		if h == near {
			return h, true
		}
	}
	return 0, false
}
