// Package review drives one user's review session over a document: it turns
// UI events into annotation changes, enforces who may do what, and applies
// accepted proposals to the canonical text.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"pingin/api/internal/anchor"
	"pingin/api/internal/annotation"
	"pingin/api/internal/document"
	"pingin/api/internal/overlay"
	"pingin/api/internal/rbac"
)

var (
	// ErrPermissionDenied indicates that the session's role may not perform
	// the operation. Nothing changes.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNoSelection indicates a create-from-selection with no resolved
	// selection pending.
	ErrNoSelection = errors.New("no selection pending")
)

type Option func(*Session)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

type pendingSelection struct {
	rng  anchor.Range
	text string
}

// Session serializes UI events for one user. It is safe for concurrent use,
// but events are expected one at a time.
type Session struct {
	mu        sync.Mutex
	role      rbac.Role
	doc       *document.Document
	store     *annotation.Store
	logger    *slog.Logger
	selection *pendingSelection
	typing    *typingBuffer
}

func NewSession(doc *document.Document, store *annotation.Store, role rbac.Role, opts ...Option) *Session {
	s := &Session{role: role, doc: doc, store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open fetches the document and its live annotations and starts a session.
func Open(ctx context.Context, remote annotation.Remote, documentID string, role rbac.Role, storeOpts ...annotation.Option) (*Session, error) {
	rec, err := remote.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	store := annotation.NewStore(documentID, remote, storeOpts...)
	if err := store.Load(ctx); err != nil {
		return nil, err
	}
	return NewSession(document.New(documentID, rec.Text, rec.Version), store, role), nil
}

func (s *Session) Document() *document.Document { return s.doc }
func (s *Session) Store() *annotation.Store     { return s.store }
func (s *Session) Role() rbac.Role              { return s.role }

// Wait blocks until background syncs finish.
func (s *Session) Wait() { s.store.Wait() }

// Render composes the current view. Annotations whose anchors went stale are
// dropped from the view and from the live set; they are reported through the
// returned error, which wraps annotation.ErrStaleAnchor. The sequence is
// valid even when the error is not nil.
func (s *Session) Render() (overlay.Sequence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := overlay.Compose(s.doc.Text(), s.store.Live(), s.typing.overlay())
	var errs []error
	for _, stale := range res.Stale {
		if s.store.MarkStale(stale.Key, stale.Reason) {
			errs = append(errs, stale)
		}
	}
	return res.Segments, errors.Join(errs...)
}

// OnSelectionComplete resolves a finished drag and keeps it as the pending
// selection for CommentSelection or StrikeSelection.
func (s *Session) OnSelectionComplete(sel anchor.Selection) (anchor.Range, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = nil
	rng, err := s.resolverLocked().ResolveRange(sel)
	if err != nil {
		return anchor.Range{}, err
	}
	s.selection = &pendingSelection{rng: rng, text: s.doc.Slice(rng.Start, rng.End)}
	return rng, nil
}

// CommentSelection attaches a comment to the pending selection.
func (s *Session) CommentSelection(ctx context.Context, body string) (annotation.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLocked(rbac.ActionAnnotate); err != nil {
		return annotation.Annotation{}, err
	}
	if s.selection == nil {
		return annotation.Annotation{}, ErrNoSelection
	}
	sel := s.selection
	a, err := s.store.Create(ctx, annotation.Comment{Start: sel.rng.Start, End: sel.rng.End, Text: body})
	if err != nil {
		return annotation.Annotation{}, err
	}
	s.selection = nil
	return a, nil
}

// StrikeSelection proposes deleting the pending selection.
func (s *Session) StrikeSelection(ctx context.Context) (annotation.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strikeLocked(ctx)
}

func (s *Session) strikeLocked(ctx context.Context) (annotation.Annotation, error) {
	if err := s.requireLocked(rbac.ActionAnnotate); err != nil {
		return annotation.Annotation{}, err
	}
	if s.selection == nil {
		return annotation.Annotation{}, ErrNoSelection
	}
	sel := s.selection
	a, err := s.store.Create(ctx, annotation.Strikethrough{Start: sel.rng.Start, End: sel.rng.End, Text: sel.text})
	if err != nil {
		return annotation.Annotation{}, err
	}
	s.selection = nil
	return a, nil
}

// UpdateComment edits a comment's body.
func (s *Session) UpdateComment(ctx context.Context, key, body string) (annotation.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLocked(rbac.ActionAnnotate); err != nil {
		return annotation.Annotation{}, err
	}
	return s.store.UpdateComment(ctx, key, body)
}

// Resolve closes a comment. Either party may resolve.
func (s *Session) Resolve(ctx context.Context, key string) (annotation.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLocked(rbac.ActionResolve); err != nil {
		return annotation.Annotation{}, err
	}
	return s.store.Resolve(ctx, key)
}

// OnAccept applies a proposal to the canonical text and shifts every other
// live annotation so its anchors keep pointing at the same text.
func (s *Session) OnAccept(ctx context.Context, key string) (annotation.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLocked(rbac.ActionDecide); err != nil {
		return annotation.Annotation{}, err
	}
	a, ok := s.store.Get(key)
	if !ok {
		return annotation.Annotation{}, annotation.ErrNotFound
	}
	if !a.Live() {
		return annotation.Annotation{}, annotation.ErrNotLive
	}

	var edit anchor.Edit
	switch b := a.Body.(type) {
	case annotation.Strikethrough:
		if s.doc.Slice(b.Start, b.End) != b.Text {
			stale := annotation.StaleAnchor{Key: a.Key, ServerID: a.ServerID, Kind: a.Kind(), Reason: "struck text no longer matches the document"}
			s.store.MarkStale(a.Key, stale.Reason)
			return annotation.Annotation{}, stale
		}
		if _, err := s.doc.Delete(b.Start, b.End); err != nil {
			return annotation.Annotation{}, fmt.Errorf("accept strikethrough: %w", err)
		}
		edit = anchor.Deletion(b.Start, b.End)
	case annotation.Insertion:
		if err := s.doc.Insert(b.At, b.Text); err != nil {
			return annotation.Annotation{}, fmt.Errorf("accept insertion: %w", err)
		}
		edit = anchor.Insertion(b.At, len([]rune(b.Text)))
	case annotation.Comment:
		return annotation.Annotation{}, fmt.Errorf("%w: comments are resolved, not accepted", annotation.ErrInvalidTransition)
	}

	accepted, err := s.store.Accept(ctx, a.Key, edit, s.doc.Text())
	if err != nil {
		return annotation.Annotation{}, err
	}
	if s.typing != nil {
		s.typing.at = edit.MapPoint(s.typing.at, true)
	}
	s.selection = nil
	s.logger.Info("proposal accepted", "document_id", s.doc.ID(), "key", accepted.Key, "kind", accepted.Kind())
	return accepted, nil
}

// OnReject discards a proposal without touching the canonical text.
func (s *Session) OnReject(ctx context.Context, key string) (annotation.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLocked(rbac.ActionDecide); err != nil {
		return annotation.Annotation{}, err
	}
	return s.store.Reject(ctx, key)
}

func (s *Session) requireLocked(action rbac.Action) error {
	if !rbac.Can(s.role, action) {
		return fmt.Errorf("%w: %s may not %s", ErrPermissionDenied, s.role, action)
	}
	return nil
}

// resolverLocked maps against what Render draws, open typing buffer included.
func (s *Session) resolverLocked() *anchor.Resolver {
	inserts := annotation.Inserts(s.store.Live())
	if s.typing != nil {
		inserts = append(inserts, anchor.Insert{At: s.typing.at, Text: string(s.typing.text), Order: math.MaxUint64})
	}
	return anchor.NewResolver(s.doc.Text(), inserts)
}
