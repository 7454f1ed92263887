// Package overlay composes the canonical text and the live annotations into
// the flat, ordered sequence of styled segments a renderer draws.
package overlay

import (
	"math"
	"sort"
	"strings"

	"pingin/api/internal/annotation"
)

type Style string

const (
	StylePlain         Style = "plain"
	StyleComment       Style = "comment"
	StyleStrikethrough Style = "strikethrough"
	StyleInsertion     Style = "insertion"
	StyleTyping        Style = "typing"
)

// Segment is one styled run of rendered text. Key names the annotation the
// run belongs to and is empty for plain text. Caret marks the typing buffer,
// which renders even while empty.
type Segment struct {
	Text      string `json:"text"`
	Style     Style  `json:"style"`
	Key       string `json:"key,omitempty"`
	Caret     bool   `json:"caret,omitempty"`
	LocalOnly bool   `json:"local_only,omitempty"`
}

type Sequence []Segment

// Text concatenates the segments. It equals the canonical text with every
// live insertion (and the typing buffer) spliced in.
func (s Sequence) Text() string {
	var b strings.Builder
	for _, seg := range s {
		b.WriteString(seg.Text)
	}
	return b.String()
}

// Typing is the reviewer's in-progress insertion.
type Typing struct {
	At   int
	Text string
}

type Result struct {
	Segments Sequence
	// Stale lists annotations excluded because their anchors no longer fit
	// the text.
	Stale []annotation.StaleAnchor
}

type span struct {
	start, end int
	style      Style
	key        string
	seq        uint64
	localOnly  bool
}

type point struct {
	at        int
	text      string
	style     Style
	key       string
	order     uint64
	caret     bool
	localOnly bool
}

// Compose builds the render sequence. Consuming annotations that overlap are
// truncated rather than rejected, and point annotations inside a consuming
// range split it so rendering never drops text.
func Compose(text string, live []annotation.Annotation, typing *Typing) Result {
	canonical := []rune(text)
	var (
		spans  []span
		points []point
		stale  []annotation.StaleAnchor
	)
	flag := func(a annotation.Annotation, reason string) {
		stale = append(stale, annotation.StaleAnchor{Key: a.Key, ServerID: a.ServerID, Kind: a.Kind(), Reason: reason})
	}

	for _, a := range live {
		if !a.Live() {
			continue
		}
		switch b := a.Body.(type) {
		case annotation.Comment:
			if b.Start < 0 || b.End > len(canonical) || b.End <= b.Start {
				flag(a, "range outside the document")
				continue
			}
			spans = append(spans, span{start: b.Start, end: b.End, style: StyleComment, key: a.Key, seq: a.Seq, localOnly: a.LocalOnly()})
		case annotation.Strikethrough:
			if b.Start < 0 || b.End > len(canonical) || b.End <= b.Start {
				flag(a, "range outside the document")
				continue
			}
			if string(canonical[b.Start:b.End]) != b.Text {
				flag(a, "struck text no longer matches the document")
				continue
			}
			spans = append(spans, span{start: b.Start, end: b.End, style: StyleStrikethrough, key: a.Key, seq: a.Seq, localOnly: a.LocalOnly()})
		case annotation.Insertion:
			points = append(points, point{at: clamp(b.At, 0, len(canonical)), text: b.Text, style: StyleInsertion, key: a.Key, order: a.Seq, localOnly: a.LocalOnly()})
		}
	}
	if typing != nil {
		points = append(points, point{at: clamp(typing.At, 0, len(canonical)), text: typing.Text, style: StyleTyping, order: math.MaxUint64, caret: true})
	}

	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].seq < spans[j].seq
	})
	sort.SliceStable(points, func(i, j int) bool {
		if points[i].at != points[j].at {
			return points[i].at < points[j].at
		}
		return points[i].order < points[j].order
	})

	c := &composer{text: canonical, points: points}
	for _, sp := range spans {
		start := max(sp.start, c.cursor)
		if start >= sp.end {
			continue
		}
		c.flush(start, Segment{Style: StylePlain})
		c.flush(sp.end, Segment{Style: sp.style, Key: sp.key, LocalOnly: sp.localOnly})
	}
	c.flush(len(canonical), Segment{Style: StylePlain})
	for ; c.next < len(c.points); c.next++ {
		c.emitPoint(c.points[c.next])
	}
	return Result{Segments: c.out, Stale: stale}
}

type composer struct {
	text   []rune
	points []point
	next   int
	cursor int
	out    Sequence
}

// flush emits canonical text from the cursor up to limit in the given style,
// emitting any points that sit at or before each position first.
func (c *composer) flush(limit int, style Segment) {
	for c.cursor < limit {
		for c.next < len(c.points) && c.points[c.next].at <= c.cursor {
			c.emitPoint(c.points[c.next])
			c.next++
		}
		stop := limit
		if c.next < len(c.points) && c.points[c.next].at < stop {
			stop = c.points[c.next].at
		}
		seg := style
		seg.Text = string(c.text[c.cursor:stop])
		c.push(seg)
		c.cursor = stop
	}
}

func (c *composer) emitPoint(p point) {
	c.push(Segment{Text: p.text, Style: p.style, Key: p.key, Caret: p.caret, LocalOnly: p.localOnly})
}

func (c *composer) push(seg Segment) {
	if seg.Text == "" && !seg.Caret {
		return
	}
	if n := len(c.out); n > 0 {
		last := &c.out[n-1]
		if !seg.Caret && !last.Caret && last.Style == seg.Style && last.Key == seg.Key && last.LocalOnly == seg.LocalOnly {
			last.Text += seg.Text
			return
		}
	}
	c.out = append(c.out, seg)
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
