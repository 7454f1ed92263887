// Package document holds the canonical essay text that every annotation
// anchors into. Offsets are rune offsets.
package document

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	// ErrOutOfRange indicates that an offset or range falls outside the text.
	ErrOutOfRange = errors.New("offset out of range")
)

// Document is the authoritative text plus the version it was loaded at.
// It is mutated in place by accepted proposals and never replaced.
type Document struct {
	id      string
	text    []rune
	version string
}

func New(id, text, version string) *Document {
	return &Document{id: id, text: []rune(text), version: version}
}

func (d *Document) ID() string      { return d.id }
func (d *Document) Text() string    { return string(d.text) }
func (d *Document) Len() int        { return len(d.text) }
func (d *Document) Version() string { return d.version }

func (d *Document) SetVersion(version string) { d.version = version }

// Slice returns the text between start and end, clamping both to the document.
func (d *Document) Slice(start, end int) string {
	start = clamp(start, 0, len(d.text))
	end = clamp(end, start, len(d.text))
	return string(d.text[start:end])
}

// Delete splices [start, end) out of the text and returns the removed run.
func (d *Document) Delete(start, end int) (string, error) {
	if start < 0 || end > len(d.text) || start >= end {
		return "", ErrOutOfRange
	}
	removed := string(d.text[start:end])
	d.text = append(d.text[:start], d.text[end:]...)
	return removed, nil
}

// Insert splices text in at offset at.
func (d *Document) Insert(at int, text string) error {
	if at < 0 || at > len(d.text) {
		return ErrOutOfRange
	}
	ins := []rune(text)
	next := make([]rune, 0, len(d.text)+len(ins))
	next = append(next, d.text[:at]...)
	next = append(next, ins...)
	next = append(next, d.text[at:]...)
	d.text = next
	return nil
}

// IndexWithin returns the rune offset of the first occurrence of sub that
// lies entirely inside [lo, hi) of text, or -1.
func IndexWithin(text []rune, sub string, lo, hi int) int {
	if sub == "" {
		return -1
	}
	lo = clamp(lo, 0, len(text))
	hi = clamp(hi, lo, len(text))
	window := string(text[lo:hi])
	i := strings.Index(window, sub)
	if i < 0 {
		return -1
	}
	return lo + utf8.RuneCountInString(window[:i])
}

// Occurrences lists the rune offset of every occurrence of sub, overlapping
// matches included.
func Occurrences(text []rune, sub string) []int {
	if sub == "" {
		return nil
	}
	var out []int
	s := string(text)
	offset, runes := 0, 0
	for {
		i := strings.Index(s[offset:], sub)
		if i < 0 {
			return out
		}
		runes += utf8.RuneCountInString(s[offset : offset+i])
		out = append(out, runes)
		_, size := utf8.DecodeRuneInString(s[offset+i:])
		offset += i + size
		runes++
	}
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
