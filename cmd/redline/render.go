package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pingin/api/internal/annotation"
	"pingin/api/internal/gitrepo"
	"pingin/api/internal/overlay"
)

var (
	commentStyle = lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("214"))
	strikeStyle  = lipgloss.NewStyle().Strikethrough(true).Foreground(lipgloss.Color("203"))
	insertStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	keyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	hashStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
)

type printer struct {
	out   io.Writer
	plain bool
}

// document prints the composed view followed by a legend keyed like the
// marks in the text.
func (p printer) document(seq overlay.Sequence, store *annotation.Store) {
	var b strings.Builder
	for _, seg := range seq {
		b.WriteString(p.segment(seg))
	}
	fmt.Fprintln(p.out, b.String())

	var legend []string
	seen := map[string]bool{}
	for _, seg := range seq {
		if seg.Key == "" || seen[seg.Key] {
			continue
		}
		seen[seg.Key] = true
		a, ok := store.Get(seg.Key)
		if !ok {
			continue
		}
		legend = append(legend, p.legendLine(a))
	}
	if len(legend) > 0 {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, strings.Join(legend, "\n"))
	}
}

func (p printer) segment(seg overlay.Segment) string {
	tag := ""
	if seg.Key != "" {
		tag = p.key(seg.Key)
	}
	if p.plain {
		switch seg.Style {
		case overlay.StyleComment:
			return "[" + seg.Text + "]" + tag
		case overlay.StyleStrikethrough:
			return "[-" + seg.Text + "-]" + tag
		case overlay.StyleInsertion, overlay.StyleTyping:
			return "{+" + seg.Text + "+}" + tag
		}
		return seg.Text
	}
	switch seg.Style {
	case overlay.StyleComment:
		return commentStyle.Render(seg.Text) + tag
	case overlay.StyleStrikethrough:
		return strikeStyle.Render(seg.Text) + tag
	case overlay.StyleInsertion, overlay.StyleTyping:
		return insertStyle.Render(seg.Text) + tag
	}
	return seg.Text
}

func (p printer) key(key string) string {
	if p.plain {
		return "^" + key
	}
	return keyStyle.Render("^" + key)
}

func (p printer) legendLine(a annotation.Annotation) string {
	var detail string
	switch b := a.Body.(type) {
	case annotation.Comment:
		detail = "comment: " + b.Text
	case annotation.Strikethrough:
		detail = fmt.Sprintf("delete %q", b.Text)
	case annotation.Insertion:
		detail = fmt.Sprintf("insert %q", b.Text)
	}
	if a.LocalOnly() {
		detail += " (not saved)"
	}
	return p.key(a.Key) + " " + detail
}

func (p printer) history(commits []gitrepo.Commit) {
	for _, c := range commits {
		hash := c.Hash
		if len(hash) > 8 {
			hash = hash[:8]
		}
		if !p.plain {
			hash = hashStyle.Render(hash)
		}
		fmt.Fprintf(p.out, "%s  %s  %-20s +%d -%d  %s\n",
			hash, c.CreatedAt.Format("2006-01-02 15:04"), c.Author, c.Added, c.Removed, c.Message)
	}
}
