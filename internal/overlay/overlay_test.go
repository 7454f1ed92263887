package overlay

import (
	"errors"
	"reflect"
	"testing"

	"pingin/api/internal/anchor"
	"pingin/api/internal/annotation"
)

func live(key string, seq uint64, body annotation.Body) annotation.Annotation {
	return annotation.Annotation{Key: key, Seq: seq, State: annotation.StateLive, Sync: annotation.SyncConfirmed, Body: body}
}

func TestComposePlainText(t *testing.T) {
	res := Compose("hello world", nil, nil)
	want := Sequence{{Text: "hello world", Style: StylePlain}}
	if !reflect.DeepEqual(res.Segments, want) {
		t.Fatalf("segments = %+v", res.Segments)
	}
}

func TestComposeMixedAnnotations(t *testing.T) {
	text := "The quick brown fox jumps."
	anns := []annotation.Annotation{
		live("c1", 1, annotation.Comment{Start: 10, End: 19, Text: "vivid"}),
		live("s1", 2, annotation.Strikethrough{Start: 4, End: 10, Text: "quick "}),
		live("i1", 3, annotation.Insertion{At: 16, Text: "red "}),
		live("i2", 4, annotation.Insertion{At: 26, Text: " Twice!"}),
	}
	res := Compose(text, anns, nil)

	want := Sequence{
		{Text: "The ", Style: StylePlain},
		{Text: "quick ", Style: StyleStrikethrough, Key: "s1"},
		{Text: "brown ", Style: StyleComment, Key: "c1"},
		{Text: "red ", Style: StyleInsertion, Key: "i1"},
		{Text: "fox", Style: StyleComment, Key: "c1"},
		{Text: " jumps.", Style: StylePlain},
		{Text: " Twice!", Style: StyleInsertion, Key: "i2"},
	}
	if !reflect.DeepEqual(res.Segments, want) {
		t.Fatalf("segments =\n%+v\nwant\n%+v", res.Segments, want)
	}
	if len(res.Stale) != 0 {
		t.Fatalf("unexpected stale anchors %+v", res.Stale)
	}
}

func TestComposeMatchesMapperRendering(t *testing.T) {
	text := "Essays need evidence and a clear thesis."
	anns := []annotation.Annotation{
		live("c1", 1, annotation.Comment{Start: 0, End: 6, Text: "word choice"}),
		live("i1", 2, annotation.Insertion{At: 3, Text: "XX"}),
		live("i2", 3, annotation.Insertion{At: 0, Text: "Good "}),
		live("s1", 4, annotation.Strikethrough{Start: 25, End: 27, Text: "a "}),
		live("i3", 5, annotation.Insertion{At: 25, Text: "one "}),
		live("i4", 6, annotation.Insertion{At: 0, Text: "very "}),
	}
	typing := &Typing{At: 12, Text: "strong "}
	res := Compose(text, anns, typing)

	inserts := annotation.Inserts(anns)
	inserts = append(inserts, anchor.Insert{At: typing.At, Text: typing.Text, Order: ^uint64(0)})
	want := anchor.NewMapper(text, inserts).Rendered()
	if got := res.Segments.Text(); got != want {
		t.Fatalf("composed text = %q, mapper rendered %q", got, want)
	}
}

func TestComposeInsertionBeforeConsumingAtSameStart(t *testing.T) {
	res := Compose("abcdef", []annotation.Annotation{
		live("c1", 1, annotation.Comment{Start: 2, End: 4}),
		live("i1", 2, annotation.Insertion{At: 2, Text: "+"}),
	}, nil)
	want := Sequence{
		{Text: "ab", Style: StylePlain},
		{Text: "+", Style: StyleInsertion, Key: "i1"},
		{Text: "cd", Style: StyleComment, Key: "c1"},
		{Text: "ef", Style: StylePlain},
	}
	if !reflect.DeepEqual(res.Segments, want) {
		t.Fatalf("segments = %+v", res.Segments)
	}
}

func TestComposeStaleStrikethroughIsDropped(t *testing.T) {
	res := Compose("The brown fox.", []annotation.Annotation{
		live("s1", 1, annotation.Strikethrough{Start: 4, End: 10, Text: "quick "}),
		live("c1", 2, annotation.Comment{Start: 40, End: 45}),
	}, nil)
	if got := res.Segments.Text(); got != "The brown fox." {
		t.Fatalf("text = %q", got)
	}
	if len(res.Segments) != 1 || res.Segments[0].Style != StylePlain {
		t.Fatalf("stale annotations should not be styled, got %+v", res.Segments)
	}
	if len(res.Stale) != 2 {
		t.Fatalf("expected 2 stale anchors, got %+v", res.Stale)
	}
	for _, s := range res.Stale {
		if !errors.Is(s, annotation.ErrStaleAnchor) {
			t.Fatalf("stale entry %v does not match ErrStaleAnchor", s)
		}
	}
}

func TestComposeTruncatesOverlaps(t *testing.T) {
	res := Compose("0123456789", []annotation.Annotation{
		live("a", 1, annotation.Comment{Start: 1, End: 6}),
		live("b", 2, annotation.Comment{Start: 4, End: 8}),
		live("c", 3, annotation.Comment{Start: 2, End: 5}),
	}, nil)
	want := Sequence{
		{Text: "0", Style: StylePlain},
		{Text: "12345", Style: StyleComment, Key: "a"},
		{Text: "67", Style: StyleComment, Key: "b"},
		{Text: "89", Style: StylePlain},
	}
	if !reflect.DeepEqual(res.Segments, want) {
		t.Fatalf("segments = %+v", res.Segments)
	}
}

func TestComposeTypingBuffer(t *testing.T) {
	anns := []annotation.Annotation{live("i1", 1, annotation.Insertion{At: 3, Text: "big "})}

	res := Compose("my dog", anns, &Typing{At: 3})
	want := Sequence{
		{Text: "my ", Style: StylePlain},
		{Text: "big ", Style: StyleInsertion, Key: "i1"},
		{Text: "", Style: StyleTyping, Caret: true},
		{Text: "dog", Style: StylePlain},
	}
	if !reflect.DeepEqual(res.Segments, want) {
		t.Fatalf("empty typing buffer segments = %+v", res.Segments)
	}

	res = Compose("my dog", anns, &Typing{At: 6, Text: "!"})
	last := res.Segments[len(res.Segments)-1]
	if last.Text != "!" || !last.Caret || last.Style != StyleTyping {
		t.Fatalf("typing buffer at end of text rendered as %+v", last)
	}
}

func TestComposeMarksLocalOnly(t *testing.T) {
	a := live("local-1", 1, annotation.Insertion{At: 0, Text: "Hi "})
	a.Sync = annotation.SyncLocalOnly
	res := Compose("there", []annotation.Annotation{a}, nil)
	if !res.Segments[0].LocalOnly {
		t.Fatalf("local-only insertion not flagged: %+v", res.Segments[0])
	}
}
