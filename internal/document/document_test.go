package document

import (
	"errors"
	"reflect"
	"testing"
)

func TestDeleteAndInsertMutateInPlace(t *testing.T) {
	doc := New("d1", "The quick brown fox.", "v1")

	removed, err := doc.Delete(4, 10)
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if removed != "quick " {
		t.Fatalf("removed = %q, want %q", removed, "quick ")
	}
	if got := doc.Text(); got != "The brown fox." {
		t.Fatalf("text after delete = %q", got)
	}

	if err := doc.Insert(4, "very "); err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}
	if got := doc.Text(); got != "The very brown fox." {
		t.Fatalf("text after insert = %q", got)
	}
}

func TestOutOfRangeEditsLeaveTextUntouched(t *testing.T) {
	doc := New("d1", "abc", "")
	cases := []struct {
		name string
		run  func() error
	}{
		{"delete past end", func() error { _, err := doc.Delete(1, 9); return err }},
		{"delete empty", func() error { _, err := doc.Delete(2, 2); return err }},
		{"insert negative", func() error { return doc.Insert(-1, "x") }},
		{"insert past end", func() error { return doc.Insert(4, "x") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.run(); !errors.Is(err, ErrOutOfRange) {
				t.Fatalf("err = %v, want ErrOutOfRange", err)
			}
			if doc.Text() != "abc" {
				t.Fatalf("text changed to %q", doc.Text())
			}
		})
	}
}

func TestRuneOffsets(t *testing.T) {
	doc := New("d1", "café au lait", "")
	if doc.Len() != 12 {
		t.Fatalf("Len = %d, want 12", doc.Len())
	}
	if got := doc.Slice(5, 7); got != "au" {
		t.Fatalf("Slice(5,7) = %q, want au", got)
	}
	if got := IndexWithin([]rune(doc.Text()), "lait", 0, doc.Len()); got != 8 {
		t.Fatalf("IndexWithin = %d, want 8", got)
	}
}

func TestSliceClamps(t *testing.T) {
	doc := New("d1", "hello", "")
	if got := doc.Slice(-3, 99); got != "hello" {
		t.Fatalf("Slice clamped = %q", got)
	}
	if got := doc.Slice(4, 2); got != "" {
		t.Fatalf("inverted Slice = %q, want empty", got)
	}
}

func TestOccurrences(t *testing.T) {
	text := []rune("the cat and the hat; thethe")
	got := Occurrences(text, "the")
	want := []int{0, 12, 21, 24}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Occurrences = %v, want %v", got, want)
	}
	if Occurrences(text, "") != nil {
		t.Fatal("empty needle should have no occurrences")
	}
}

func TestIndexWithinRespectsWindow(t *testing.T) {
	text := []rune("ab ab ab")
	if got := IndexWithin(text, "ab", 1, 8); got != 3 {
		t.Fatalf("IndexWithin = %d, want 3", got)
	}
	if got := IndexWithin(text, "ab", 4, 6); got != -1 {
		t.Fatalf("match straddling the window end should not count, got %d", got)
	}
}
