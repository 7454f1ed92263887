package export

import (
	"fmt"
	"html"
	"html/template"
	"strings"

	"pingin/api/internal/overlay"
)

// SegmentsToHTML draws a composed overlay as inline HTML. Comments become
// <mark> with a numbered reference after their last run, strikethroughs
// <del> and insertions <ins>. notes maps comment keys to their numbers.
func SegmentsToHTML(seq overlay.Sequence, notes map[string]int) template.HTML {
	last := map[string]int{}
	for i, seg := range seq {
		if seg.Style == overlay.StyleComment {
			last[seg.Key] = i
		}
	}

	var b strings.Builder
	for i, seg := range seq {
		text := html.EscapeString(seg.Text)
		switch seg.Style {
		case overlay.StyleComment:
			fmt.Fprintf(&b, `<mark class="comment">%s</mark>`, text)
			if n, ok := notes[seg.Key]; ok && last[seg.Key] == i {
				fmt.Fprintf(&b, `<sup class="note-ref">[%d]</sup>`, n)
			}
		case overlay.StyleStrikethrough:
			fmt.Fprintf(&b, `<del class="strike">%s</del>`, text)
		case overlay.StyleInsertion:
			fmt.Fprintf(&b, `<ins class="insert">%s</ins>`, text)
		case overlay.StyleTyping:
			// Typing buffers are private to their author and never exported.
		default:
			b.WriteString(text)
		}
	}
	return template.HTML(b.String())
}
