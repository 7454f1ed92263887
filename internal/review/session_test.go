package review

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"pingin/api/internal/anchor"
	"pingin/api/internal/annotation"
	"pingin/api/internal/rbac"
)

type memRemote struct {
	mu       sync.Mutex
	nextID   int64
	doc      annotation.DocumentRecord
	comments map[int64]annotation.CommentRecord
	strikes  map[int64]annotation.StrikethroughRecord
	inserts  map[int64]annotation.InsertionRecord
	saves    []string
}

func newMemRemote(text string) *memRemote {
	return &memRemote{
		doc:      annotation.DocumentRecord{ID: "doc-1", Title: "Draft", Text: text, Version: "v1"},
		comments: map[int64]annotation.CommentRecord{},
		strikes:  map[int64]annotation.StrikethroughRecord{},
		inserts:  map[int64]annotation.InsertionRecord{},
	}
}

func (m *memRemote) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memRemote) GetDocument(context.Context, string) (annotation.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc, nil
}

func (m *memRemote) SaveDocument(_ context.Context, _ string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.Text = text
	m.saves = append(m.saves, text)
	return nil
}

func (m *memRemote) ListComments(context.Context, string) ([]annotation.CommentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []annotation.CommentRecord
	for _, c := range m.comments {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRemote) CreateComment(_ context.Context, docID string, start, end int, body string) (annotation.CommentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := annotation.CommentRecord{ID: m.id(), DocumentID: docID, AnchorStart: start, AnchorEnd: end, Body: body}
	m.comments[rec.ID] = rec
	return rec, nil
}

func (m *memRemote) UpdateComment(_ context.Context, id int64, body string) (annotation.CommentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.comments[id]
	rec.Body = body
	m.comments[id] = rec
	return rec, nil
}

func (m *memRemote) ResolveComment(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.comments[id]
	rec.Resolved = true
	m.comments[id] = rec
	return nil
}

func (m *memRemote) ListStrikethroughs(context.Context, string) ([]annotation.StrikethroughRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []annotation.StrikethroughRecord
	for _, s := range m.strikes {
		out = append(out, s)
	}
	return out, nil
}

func (m *memRemote) CreateStrikethrough(_ context.Context, docID string, start, end int, text string) (annotation.StrikethroughRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := annotation.StrikethroughRecord{ID: m.id(), DocumentID: docID, AnchorStart: start, AnchorEnd: end, Text: text, Status: annotation.StatusLive}
	m.strikes[rec.ID] = rec
	return rec, nil
}

func (m *memRemote) setStrikeStatus(id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.strikes[id]
	rec.Status = status
	m.strikes[id] = rec
	return nil
}

func (m *memRemote) AcceptStrikethrough(_ context.Context, id int64) error {
	return m.setStrikeStatus(id, annotation.StatusAccepted)
}

func (m *memRemote) RejectStrikethrough(_ context.Context, id int64) error {
	return m.setStrikeStatus(id, annotation.StatusRejected)
}

func (m *memRemote) ListInsertions(context.Context, string) ([]annotation.InsertionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []annotation.InsertionRecord
	for _, in := range m.inserts {
		out = append(out, in)
	}
	return out, nil
}

func (m *memRemote) CreateInsertion(_ context.Context, docID string, at int, text string) (annotation.InsertionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := annotation.InsertionRecord{ID: m.id(), DocumentID: docID, Position: at, Text: text, Status: annotation.StatusLive}
	m.inserts[rec.ID] = rec
	return rec, nil
}

func (m *memRemote) setInsertStatus(id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.inserts[id]
	rec.Status = status
	m.inserts[id] = rec
	return nil
}

func (m *memRemote) AcceptInsertion(_ context.Context, id int64) error {
	return m.setInsertStatus(id, annotation.StatusAccepted)
}

func (m *memRemote) RejectInsertion(_ context.Context, id int64) error {
	return m.setInsertStatus(id, annotation.StatusRejected)
}

func openSession(t *testing.T, remote *memRemote, role rbac.Role) *Session {
	t.Helper()
	s, err := Open(context.Background(), remote, "doc-1", role)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	return s
}

func TestCommentAndStrikeThenAccept(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote("The quick fox")
	consultant := openSession(t, remote, rbac.RoleConsultant)

	rng, err := consultant.OnSelectionComplete(anchor.Selection{RenderedStart: 4, RenderedEnd: 9, Text: "quick"})
	if err != nil {
		t.Fatalf("OnSelectionComplete returned error: %v", err)
	}
	if rng != (anchor.Range{Start: 4, End: 9}) {
		t.Fatalf("resolved range = %+v", rng)
	}
	comment, err := consultant.CommentSelection(ctx, "Is this the right adjective?")
	if err != nil {
		t.Fatalf("CommentSelection returned error: %v", err)
	}
	if comment.Span() != (anchor.Range{Start: 4, End: 9}) {
		t.Fatalf("comment span = %+v", comment.Span())
	}

	if _, err := consultant.OnSelectionComplete(anchor.Selection{RenderedStart: 10, RenderedEnd: 13, Text: "fox"}); err != nil {
		t.Fatalf("OnSelectionComplete returned error: %v", err)
	}
	strike, err := consultant.StrikeSelection(ctx)
	if err != nil {
		t.Fatalf("StrikeSelection returned error: %v", err)
	}
	if strike.Body.(annotation.Strikethrough).Text != "fox" {
		t.Fatalf("strikethrough captured %+v", strike.Body)
	}
	consultant.Wait()

	student := openSession(t, remote, rbac.RoleStudent)
	strikeKey := ""
	for _, a := range student.Store().Live() {
		if a.Kind() == annotation.KindStrikethrough {
			strikeKey = a.Key
		}
	}
	if _, err := student.OnAccept(ctx, strikeKey); err != nil {
		t.Fatalf("OnAccept returned error: %v", err)
	}
	student.Wait()

	if got := student.Document().Text(); got != "The quick " {
		t.Fatalf("document text = %q, want %q", got, "The quick ")
	}
	live := student.Store().Live()
	if len(live) != 1 || live[0].Span() != (anchor.Range{Start: 4, End: 9}) {
		t.Fatalf("comment should be unchanged, live = %+v", live)
	}
	if len(remote.saves) != 1 || remote.saves[0] != "The quick " {
		t.Fatalf("saves = %v", remote.saves)
	}
}

func TestTypingCreatesInsertion(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote("The fox")
	consultant := openSession(t, remote, rbac.RoleConsultant)

	at, err := consultant.OnCaretPlaced(4)
	if err != nil {
		t.Fatalf("OnCaretPlaced returned error: %v", err)
	}
	if at != 4 {
		t.Fatalf("caret resolved to %d, want 4", at)
	}
	for _, key := range []string{"q", "u", "i", "c", "k", "k", KeyBackspace, " ", "Shift"} {
		if a, err := consultant.OnTypingKey(ctx, key); err != nil || a != nil {
			t.Fatalf("OnTypingKey(%q) = %v, %v", key, a, err)
		}
	}
	if _, text, ok := consultant.Typing(); !ok || text != "quick " {
		t.Fatalf("typing buffer = %q, %v", text, ok)
	}
	seq, err := consultant.Render()
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if seq.Text() != "The quick fox" {
		t.Fatalf("rendered while typing = %q", seq.Text())
	}

	created, err := consultant.OnTypingKey(ctx, KeyEnter)
	if err != nil {
		t.Fatalf("Enter returned error: %v", err)
	}
	if created == nil {
		t.Fatal("Enter should create an insertion")
	}
	if ins := created.Body.(annotation.Insertion); ins.At != 4 || ins.Text != "quick " {
		t.Fatalf("insertion = %+v", ins)
	}
	if _, _, ok := consultant.Typing(); ok {
		t.Fatal("typing buffer should be closed after Enter")
	}

	seq, err = consultant.Render()
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if seq.Text() != "The quick fox" {
		t.Fatalf("rendered = %q, want %q", seq.Text(), "The quick fox")
	}
	if consultant.Document().Text() != "The fox" {
		t.Fatalf("canonical text changed before accept: %q", consultant.Document().Text())
	}
	consultant.Wait()
	if len(remote.inserts) != 1 {
		t.Fatalf("expected one insertion on the server, got %d", len(remote.inserts))
	}
}

func TestSelectionWhileTypingCountsTheBuffer(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote("ab ab ab ab ab")
	s := openSession(t, remote, rbac.RoleConsultant)

	if _, err := s.OnCaretPlaced(0); err != nil {
		t.Fatalf("OnCaretPlaced returned error: %v", err)
	}
	for _, key := range []string{"X", "Y"} {
		if _, err := s.OnTypingKey(ctx, key); err != nil {
			t.Fatalf("OnTypingKey(%q) returned error: %v", key, err)
		}
	}
	seq, err := s.Render()
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if seq.Text() != "XYab ab ab ab ab" {
		t.Fatalf("rendered = %q", seq.Text())
	}

	cases := []struct {
		name string
		sel  anchor.Selection
		want anchor.Range
	}{
		{"fourth ab", anchor.Selection{RenderedStart: 11, RenderedEnd: 13, Text: "ab"}, anchor.Range{Start: 9, End: 11}},
		{"first ab after the buffer", anchor.Selection{RenderedStart: 2, RenderedEnd: 4, Text: "ab"}, anchor.Range{Start: 0, End: 2}},
		{"last ab", anchor.Selection{RenderedStart: 14, RenderedEnd: 16, Text: "ab"}, anchor.Range{Start: 12, End: 14}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.OnSelectionComplete(tc.sel)
			if err != nil {
				t.Fatalf("OnSelectionComplete returned error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("resolved %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTypingBufferEdgeCases(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote("one two")
	s := openSession(t, remote, rbac.RoleConsultant)

	if _, err := s.OnTypingKey(ctx, "x"); !errors.Is(err, ErrNoTyping) {
		t.Fatalf("key without buffer: err = %v", err)
	}
	if _, err := s.OnCaretPlaced(3); err != nil {
		t.Fatalf("OnCaretPlaced returned error: %v", err)
	}
	if _, err := s.OnCaretPlaced(5); !errors.Is(err, ErrTypingActive) {
		t.Fatalf("second caret: err = %v", err)
	}
	_, _ = s.OnTypingKey(ctx, "z")
	if a, err := s.OnTypingKey(ctx, KeyEscape); a != nil || err != nil {
		t.Fatalf("Escape = %v, %v", a, err)
	}
	if _, _, ok := s.Typing(); ok {
		t.Fatal("Escape should close the buffer")
	}

	if _, err := s.OnCaretPlaced(3); err != nil {
		t.Fatalf("OnCaretPlaced returned error: %v", err)
	}
	_, _ = s.OnTypingKey(ctx, " ")
	if a, err := s.OnTypingKey(ctx, KeyEnter); a != nil || err != nil {
		t.Fatalf("blank Enter = %v, %v", a, err)
	}
	s.Wait()
	if len(remote.inserts) != 0 {
		t.Fatalf("discarded buffers must not sync, got %d insertions", len(remote.inserts))
	}
}

func TestBackspaceOnSelectionStrikes(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote("keep drop keep")
	s := openSession(t, remote, rbac.RoleConsultant)
	if _, err := s.OnSelectionComplete(anchor.Selection{RenderedStart: 5, RenderedEnd: 9, Text: "drop"}); err != nil {
		t.Fatalf("OnSelectionComplete returned error: %v", err)
	}
	a, err := s.OnTypingKey(ctx, KeyBackspace)
	if err != nil || a == nil {
		t.Fatalf("Backspace on selection = %v, %v", a, err)
	}
	if a.Kind() != annotation.KindStrikethrough || a.Span() != (anchor.Range{Start: 5, End: 9}) {
		t.Fatalf("unexpected annotation %+v", a)
	}
	if _, err := s.StrikeSelection(ctx); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("selection should be consumed, err = %v", err)
	}
	s.Wait()
}

func TestPermissionGate(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote("The quick fox")
	seed := openSession(t, remote, rbac.RoleConsultant)
	_, _ = seed.OnSelectionComplete(anchor.Selection{RenderedStart: 10, RenderedEnd: 13, Text: "fox"})
	strike, err := seed.StrikeSelection(ctx)
	if err != nil {
		t.Fatalf("StrikeSelection returned error: %v", err)
	}
	seed.Wait()
	strikeKey, _ := seed.Store().Get(strike.Key)

	student := openSession(t, remote, rbac.RoleStudent)
	if _, err := student.OnSelectionComplete(anchor.Selection{RenderedStart: 4, RenderedEnd: 9, Text: "quick"}); err != nil {
		t.Fatalf("students may still select: %v", err)
	}
	if _, err := student.CommentSelection(ctx, "mine"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("student comment: err = %v", err)
	}
	if _, err := student.StrikeSelection(ctx); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("student strike: err = %v", err)
	}
	if _, err := student.OnCaretPlaced(0); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("student caret: err = %v", err)
	}

	consultant := openSession(t, remote, rbac.RoleConsultant)
	if _, err := consultant.OnAccept(ctx, strikeKey.Key); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("consultant accept: err = %v", err)
	}
	if _, err := consultant.OnReject(ctx, strikeKey.Key); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("consultant reject: err = %v", err)
	}
	consultant.Wait()
	student.Wait()

	if consultant.Document().Text() != "The quick fox" || len(remote.saves) != 0 {
		t.Fatalf("denied operations changed state: %q, saves %v", consultant.Document().Text(), remote.saves)
	}
	if len(student.Store().Live()) != 1 || len(remote.comments) != 0 {
		t.Fatal("denied creates must not add annotations")
	}
}

func TestRejectLeavesTextAlone(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote("The fox")
	remote.inserts[1] = annotation.InsertionRecord{ID: 1, Position: 4, Text: "quick ", Status: annotation.StatusLive}
	remote.nextID = 1
	student := openSession(t, remote, rbac.RoleStudent)

	rejected, err := student.OnReject(ctx, "1")
	if err != nil {
		t.Fatalf("OnReject returned error: %v", err)
	}
	if rejected.State != annotation.StateRejected {
		t.Fatalf("state = %s", rejected.State)
	}
	student.Wait()
	if student.Document().Text() != "The fox" || len(remote.saves) != 0 {
		t.Fatalf("reject mutated the document: %q, saves %v", student.Document().Text(), remote.saves)
	}
	if remote.inserts[1].Status != annotation.StatusRejected {
		t.Fatalf("server status = %s", remote.inserts[1].Status)
	}
	seq, _ := student.Render()
	if seq.Text() != "The fox" {
		t.Fatalf("rejected insertion still rendered: %q", seq.Text())
	}
}

func TestAcceptInsertionShiftsLaterAnchors(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote("The fox ran.")
	remote.inserts[1] = annotation.InsertionRecord{ID: 1, Position: 4, Text: "quick ", Status: annotation.StatusLive}
	remote.comments[2] = annotation.CommentRecord{ID: 2, AnchorStart: 4, AnchorEnd: 7, Body: "which fox?"}
	remote.strikes[3] = annotation.StrikethroughRecord{ID: 3, AnchorStart: 8, AnchorEnd: 11, Text: "ran", Status: annotation.StatusLive}
	remote.nextID = 3
	student := openSession(t, remote, rbac.RoleStudent)

	if _, err := student.OnAccept(ctx, "1"); err != nil {
		t.Fatalf("OnAccept returned error: %v", err)
	}
	student.Wait()

	if got := student.Document().Text(); got != "The quick fox ran." {
		t.Fatalf("document = %q", got)
	}
	comment, _ := student.Store().Get("2")
	if comment.Span() != (anchor.Range{Start: 10, End: 13}) {
		t.Fatalf("comment span = %+v", comment.Span())
	}
	strike, _ := student.Store().Get("3")
	if strike.Span() != (anchor.Range{Start: 14, End: 17}) {
		t.Fatalf("strike span = %+v", strike.Span())
	}
	if _, err := student.Render(); err != nil {
		t.Fatalf("shifted anchors should still be valid: %v", err)
	}
	if _, err := student.OnAccept(ctx, "3"); err != nil {
		t.Fatalf("accepting the shifted strikethrough: %v", err)
	}
	student.Wait()
	if got := student.Document().Text(); got != "The quick fox ." {
		t.Fatalf("document = %q", got)
	}
	if got := remote.saves; len(got) != 2 || got[1] != "The quick fox ." {
		t.Fatalf("saves = %v", got)
	}
}

func TestAcceptStaleStrikethrough(t *testing.T) {
	ctx := context.Background()
	remote := newMemRemote("The brown fox.")
	remote.strikes[1] = annotation.StrikethroughRecord{ID: 1, AnchorStart: 4, AnchorEnd: 10, Text: "quick ", Status: annotation.StatusLive}
	remote.nextID = 1
	student := openSession(t, remote, rbac.RoleStudent)

	_, err := student.OnAccept(ctx, "1")
	if !errors.Is(err, annotation.ErrStaleAnchor) {
		t.Fatalf("err = %v, want ErrStaleAnchor", err)
	}
	if student.Document().Text() != "The brown fox." {
		t.Fatalf("stale accept mutated the document: %q", student.Document().Text())
	}
	if len(student.Store().Live()) != 0 {
		t.Fatal("stale strikethrough should leave the live set")
	}
}

func TestRenderFlagsStaleAnchors(t *testing.T) {
	remote := newMemRemote("short")
	remote.comments[1] = annotation.CommentRecord{ID: 1, AnchorStart: 2, AnchorEnd: 40, Body: "?"}
	remote.nextID = 1
	s := openSession(t, remote, rbac.RoleStudent)

	seq, err := s.Render()
	if !errors.Is(err, annotation.ErrStaleAnchor) {
		t.Fatalf("err = %v, want ErrStaleAnchor", err)
	}
	if seq.Text() != "short" {
		t.Fatalf("render should still succeed, got %q", seq.Text())
	}
	if _, err := s.Render(); err != nil {
		t.Fatalf("stale anchors are reported once, second render err = %v", err)
	}
	if stale := s.Store().Stale(); len(stale) != 1 || stale[0].ServerID != 1 {
		t.Fatalf("stale = %+v", stale)
	}
}

func TestResolveAllowedForBothRoles(t *testing.T) {
	ctx := context.Background()
	for _, role := range []rbac.Role{rbac.RoleStudent, rbac.RoleConsultant} {
		remote := newMemRemote("abc def")
		remote.comments[1] = annotation.CommentRecord{ID: 1, AnchorStart: 0, AnchorEnd: 3, Body: "x"}
		remote.nextID = 1
		s := openSession(t, remote, role)
		if _, err := s.Resolve(ctx, "1"); err != nil {
			t.Fatalf("%s resolve: %v", role, err)
		}
		s.Wait()
		if !remote.comments[1].Resolved {
			t.Fatalf("%s resolve did not reach the server", role)
		}
	}
}
