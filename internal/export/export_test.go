package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pingin/api/internal/annotation"
	"pingin/api/internal/overlay"
)

func live(key string, body annotation.Body) annotation.Annotation {
	return annotation.Annotation{Key: key, ServerID: 1, State: annotation.StateLive, Body: body}
}

func TestSegmentsToHTML(t *testing.T) {
	seq := overlay.Sequence{
		{Text: "The ", Style: overlay.StylePlain},
		{Text: "quick", Style: overlay.StyleComment, Key: "c1"},
		{Text: " ", Style: overlay.StylePlain},
		{Text: "brown ", Style: overlay.StyleStrikethrough, Key: "s1"},
		{Text: "red ", Style: overlay.StyleInsertion, Key: "i1"},
		{Text: "<fox>", Style: overlay.StylePlain},
		{Text: "draft", Style: overlay.StyleTyping, Caret: true},
	}
	got := string(SegmentsToHTML(seq, map[string]int{"c1": 1}))
	want := `The <mark class="comment">quick</mark><sup class="note-ref">[1]</sup> <del class="strike">brown </del><ins class="insert">red </ins>&lt;fox&gt;`
	if got != want {
		t.Fatalf("SegmentsToHTML()\n got: %s\nwant: %s", got, want)
	}
}

func TestSegmentsToHTMLNoteAfterLastRun(t *testing.T) {
	seq := overlay.Sequence{
		{Text: "ab", Style: overlay.StyleComment, Key: "c1"},
		{Text: "X", Style: overlay.StyleInsertion, Key: "i1"},
		{Text: "cd", Style: overlay.StyleComment, Key: "c1"},
	}
	got := string(SegmentsToHTML(seq, map[string]int{"c1": 3}))
	if strings.Count(got, "[3]") != 1 || !strings.HasSuffix(got, `cd</mark><sup class="note-ref">[3]</sup>`) {
		t.Fatalf("note reference should follow the last run only: %s", got)
	}
}

func TestHTMLIncludesNotes(t *testing.T) {
	in := Input{
		DocumentID: "doc_1",
		Title:      "College Essay",
		Author:     "Sam",
		Version:    "abc1234",
		UpdatedAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Text:       "I like dogs.",
		Annotations: []annotation.Annotation{
			live("c1", annotation.Comment{Start: 7, End: 11, Text: "Be specific & vivid"}),
		},
		IncludeComments: true,
	}
	page, err := HTML(in)
	if err != nil {
		t.Fatalf("HTML() error = %v", err)
	}
	for _, want := range []string{
		"<title>College Essay</title>",
		"Mar 1, 2026",
		"version abc1234",
		`<mark class="comment">dogs</mark><sup class="note-ref">[1]</sup>`,
		"<blockquote>dogs</blockquote>Be specific &amp; vivid",
	} {
		if !strings.Contains(page, want) {
			t.Fatalf("expected %q in page:\n%s", want, page)
		}
	}

	in.IncludeComments = false
	page, err = HTML(in)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(page, "note-ref") || strings.Contains(page, "<h2>Comments</h2>") {
		t.Fatalf("notes should be omitted:\n%s", page)
	}
}

type fakeArchive struct {
	putFn func(key, contentType string, data []byte) (string, error)
	keys  []string
}

func (f *fakeArchive) Put(_ context.Context, key, contentType string, data []byte) (string, error) {
	f.keys = append(f.keys, key)
	return f.putFn(key, contentType, data)
}

func TestExportFormats(t *testing.T) {
	archive := &fakeArchive{putFn: func(key, _ string, _ []byte) (string, error) {
		return "https://files.example.com/" + key, nil
	}}
	svc := NewService(WithArchive(archive))
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	svc.pdf = func(_ context.Context, html string) ([]byte, error) { return []byte("%PDF " + html[:15]), nil }
	svc.docx = func(context.Context, string) ([]byte, error) { return nil, ErrDOCXDependencyMissing }

	in := Input{DocumentID: "doc_1", Title: "My Essay!", Text: "Hello"}

	res, err := svc.Export(context.Background(), in, FormatPDF)
	if err != nil {
		t.Fatalf("Export(pdf) error = %v", err)
	}
	if res.Filename != "My-Essay.pdf" || res.MimeType != "application/pdf" || !strings.HasPrefix(string(res.Data), "%PDF") {
		t.Fatalf("unexpected pdf result: %+v", res)
	}
	if res.ArchiveURL != "https://files.example.com/documents/doc_1/20260301T120000Z-My-Essay.pdf" {
		t.Fatalf("unexpected archive url %q", res.ArchiveURL)
	}

	if _, err := svc.Export(context.Background(), in, FormatDOCX); !errors.Is(err, ErrDOCXDependencyMissing) {
		t.Fatalf("expected missing dependency, got %v", err)
	}
	if _, err := svc.Export(context.Background(), in, Format("odt")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestExportArchiveFailureIsNotFatal(t *testing.T) {
	archive := &fakeArchive{putFn: func(string, string, []byte) (string, error) {
		return "", errors.New("bucket gone")
	}}
	svc := NewService(WithArchive(archive))
	res, err := svc.Export(context.Background(), Input{Title: "x", Text: "y"}, FormatHTML)
	if err != nil {
		t.Fatalf("archive failure should not fail the export: %v", err)
	}
	if res.ArchiveURL != "" || !strings.Contains(string(res.Data), "<!DOCTYPE html>") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestParseFormat(t *testing.T) {
	for _, f := range []string{"pdf", "docx", "html"} {
		if _, err := ParseFormat(f); err != nil {
			t.Fatalf("ParseFormat(%q) error = %v", f, err)
		}
	}
	if _, err := ParseFormat("rtf"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"My Essay!":                 "My-Essay",
		"":                          "essay",
		"Ünïcode":                   "ncode",
		strings.Repeat("a", 80):     strings.Repeat("a", 50),
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	if got := percentEncodeForDataURL("a b/é"); got != "a%20b%2F%C3%A9" {
		t.Fatalf("unexpected encoding %q", got)
	}
}
