// Package annotation models review annotations and keeps the optimistic,
// remotely synced set of them for one document.
package annotation

import "pingin/api/internal/anchor"

type Kind string

const (
	KindComment       Kind = "comment"
	KindStrikethrough Kind = "strikethrough"
	KindInsertion     Kind = "insertion"
)

// Consuming kinds cover a range of canonical text; the others render at a point.
func (k Kind) Consuming() bool {
	return k == KindComment || k == KindStrikethrough
}

type State string

const (
	StateLive     State = "live"
	StateResolved State = "resolved"
	StateAccepted State = "accepted"
	StateRejected State = "rejected"
)

func (s State) Terminal() bool { return s != StateLive }

type SyncState string

const (
	SyncPending   SyncState = "pending"
	SyncConfirmed SyncState = "confirmed"
	SyncLocalOnly SyncState = "local-only"
)

// Body is the kind-specific part of an annotation. It is implemented only by
// Comment, Strikethrough and Insertion.
type Body interface {
	Kind() Kind
	// Span is the canonical range the body covers. Insertions report an
	// empty range at their anchor point.
	Span() anchor.Range
	withSpan(anchor.Range) Body
}

type Comment struct {
	Start int
	End   int
	Text  string
}

type Strikethrough struct {
	Start int
	End   int
	// Text is the canonical text captured when the strikethrough was made.
	Text string
}

type Insertion struct {
	At   int
	Text string
}

func (Comment) Kind() Kind       { return KindComment }
func (Strikethrough) Kind() Kind { return KindStrikethrough }
func (Insertion) Kind() Kind     { return KindInsertion }

func (c Comment) Span() anchor.Range       { return anchor.Range{Start: c.Start, End: c.End} }
func (s Strikethrough) Span() anchor.Range { return anchor.Range{Start: s.Start, End: s.End} }
func (i Insertion) Span() anchor.Range     { return anchor.Range{Start: i.At, End: i.At} }

func (c Comment) withSpan(r anchor.Range) Body {
	c.Start, c.End = r.Start, r.End
	return c
}

func (s Strikethrough) withSpan(r anchor.Range) Body {
	s.Start, s.End = r.Start, r.End
	return s
}

func (i Insertion) withSpan(r anchor.Range) Body {
	i.At = r.Start
	return i
}

// Annotation is one reviewer mark on a document.
type Annotation struct {
	// Key identifies the annotation to the UI. It starts as a local id and
	// becomes the decimal server id once the create is confirmed; the local
	// id keeps resolving afterwards.
	Key      string
	ServerID int64
	// Seq is the creation order within the store.
	Seq   uint64
	State State
	Sync  SyncState
	Body  Body
}

func (a Annotation) Kind() Kind         { return a.Body.Kind() }
func (a Annotation) Span() anchor.Range { return a.Body.Span() }
func (a Annotation) Confirmed() bool    { return a.ServerID != 0 }
func (a Annotation) LocalOnly() bool    { return a.Sync == SyncLocalOnly }
func (a Annotation) Live() bool         { return a.State == StateLive }
func (a Annotation) String() string     { return string(a.Kind()) + ":" + a.Key }

// duplicates reports whether creating b would repeat this annotation: a
// comment or strikethrough over the same range. Insertions never duplicate;
// several may share a point.
func (a Annotation) duplicates(b Body) bool {
	return b.Kind().Consuming() && a.Kind() == b.Kind() && a.Span() == b.Span()
}
