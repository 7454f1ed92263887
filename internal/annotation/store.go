package annotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"pingin/api/internal/anchor"
	"pingin/api/internal/util"
)

var errUnconfirmed = errors.New("annotation has no server id")

// ErrInvalidAnchor indicates an empty range or an empty insertion.
var ErrInvalidAnchor = errors.New("invalid annotation anchor")

// SyncEvent is delivered to the sync observer after every remote call.
// Err is nil on success and a *SyncError otherwise.
type SyncEvent struct {
	Key string
	Op  string
	Err error
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithSyncObserver registers fn to be called (from a sync goroutine) after
// each remote call completes.
func WithSyncObserver(fn func(SyncEvent)) Option {
	return func(s *Store) { s.observer = fn }
}

type syncOp struct {
	name string
	run  func(context.Context) error
}

type entry struct {
	ann      Annotation
	localKey string
	stale    bool
	// tail is closed when the last sync queued for this entry finishes.
	tail   <-chan struct{}
	failed []syncOp
}

// Store is the client-side set of annotations for one document. Mutations
// apply locally at once and sync to the Remote in the background.
type Store struct {
	documentID string
	remote     Remote
	logger     *slog.Logger
	observer   func(SyncEvent)

	mu         sync.Mutex
	entries    map[string]*entry
	aliases    map[string]string
	seq        uint64
	stale      []StaleAnchor
	docTail    <-chan struct{}
	failedSave *syncOp
	inflight   sync.WaitGroup
}

func NewStore(documentID string, remote Remote, opts ...Option) *Store {
	s := &Store{
		documentID: documentID,
		remote:     remote,
		logger:     slog.Default(),
		entries:    map[string]*entry{},
		aliases:    map[string]string{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) DocumentID() string { return s.documentID }

// Load replaces the store contents with the live annotations on the server.
func (s *Store) Load(ctx context.Context) error {
	comments, err := s.remote.ListComments(ctx, s.documentID)
	if err != nil {
		return fmt.Errorf("list comments: %w", err)
	}
	strikes, err := s.remote.ListStrikethroughs(ctx, s.documentID)
	if err != nil {
		return fmt.Errorf("list strikethroughs: %w", err)
	}
	inserts, err := s.remote.ListInsertions(ctx, s.documentID)
	if err != nil {
		return fmt.Errorf("list insertions: %w", err)
	}
	sort.Slice(comments, func(i, j int) bool { return comments[i].ID < comments[j].ID })
	sort.Slice(strikes, func(i, j int) bool { return strikes[i].ID < strikes[j].ID })
	sort.Slice(inserts, func(i, j int) bool { return inserts[i].ID < inserts[j].ID })

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = map[string]*entry{}
	s.aliases = map[string]string{}
	s.stale = nil
	for _, c := range comments {
		if c.Resolved {
			continue
		}
		s.loadLocked(c.ID, Comment{Start: c.AnchorStart, End: c.AnchorEnd, Text: c.Body})
	}
	for _, st := range strikes {
		if st.Status != "" && st.Status != StatusLive {
			continue
		}
		s.loadLocked(st.ID, Strikethrough{Start: st.AnchorStart, End: st.AnchorEnd, Text: st.Text})
	}
	for _, in := range inserts {
		if in.Status != "" && in.Status != StatusLive {
			continue
		}
		s.loadLocked(in.ID, Insertion{At: in.Position, Text: in.Text})
	}
	return nil
}

func (s *Store) loadLocked(id int64, body Body) {
	s.seq++
	key := serverKey(id)
	s.entries[key] = &entry{
		ann:      Annotation{Key: key, ServerID: id, Seq: s.seq, State: StateLive, Sync: SyncConfirmed, Body: body},
		localKey: key,
	}
}

// Create adds an annotation optimistically and syncs it in the background.
// Creating an exact duplicate of a live annotation returns the existing one
// and syncs nothing. Comments and strikethroughs may not overlap each other.
func (s *Store) Create(ctx context.Context, body Body) (Annotation, error) {
	if err := validateBody(body); err != nil {
		return Annotation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if !e.live() {
			continue
		}
		if e.ann.duplicates(body) {
			return e.ann, nil
		}
		if body.Kind().Consuming() && e.ann.Kind().Consuming() && e.ann.Span().Overlaps(body.Span()) {
			return Annotation{}, fmt.Errorf("%w: %s", ErrOverlap, e.ann)
		}
	}

	s.seq++
	key := util.NewLocalID()
	e := &entry{
		ann:      Annotation{Key: key, Seq: s.seq, State: StateLive, Sync: SyncPending, Body: body},
		localKey: key,
	}
	s.entries[key] = e
	s.queueLocked(ctx, e, syncOp{name: "create", run: func(ctx context.Context) error { return s.pushCreate(ctx, e) }})
	return e.ann, nil
}

func validateBody(body Body) error {
	switch b := body.(type) {
	case Comment:
		if b.Start < 0 || b.End <= b.Start {
			return fmt.Errorf("%w: comment range [%d,%d)", ErrInvalidAnchor, b.Start, b.End)
		}
	case Strikethrough:
		if b.Start < 0 || b.End <= b.Start || b.Text == "" {
			return fmt.Errorf("%w: strikethrough range [%d,%d)", ErrInvalidAnchor, b.Start, b.End)
		}
	case Insertion:
		if b.At < 0 || strings.TrimSpace(b.Text) == "" {
			return fmt.Errorf("%w: insertion at %d", ErrInvalidAnchor, b.At)
		}
	default:
		return fmt.Errorf("%w: unknown body %T", ErrInvalidAnchor, body)
	}
	return nil
}

func (s *Store) pushCreate(ctx context.Context, e *entry) error {
	s.mu.Lock()
	body := e.ann.Body
	s.mu.Unlock()

	var id int64
	switch b := body.(type) {
	case Comment:
		rec, err := s.remote.CreateComment(ctx, s.documentID, b.Start, b.End, b.Text)
		if err != nil {
			return err
		}
		id = rec.ID
	case Strikethrough:
		rec, err := s.remote.CreateStrikethrough(ctx, s.documentID, b.Start, b.End, b.Text)
		if err != nil {
			return err
		}
		id = rec.ID
	case Insertion:
		rec, err := s.remote.CreateInsertion(ctx, s.documentID, b.At, b.Text)
		if err != nil {
			return err
		}
		id = rec.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	next := serverKey(id)
	delete(s.entries, e.ann.Key)
	s.entries[next] = e
	s.aliases[e.localKey] = next
	e.ann.Key = next
	e.ann.ServerID = id
	e.ann.Sync = SyncConfirmed
	return nil
}

// UpdateComment replaces a live comment's body.
func (s *Store) UpdateComment(ctx context.Context, key, body string) (Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.liveLocked(key)
	if err != nil {
		return Annotation{}, err
	}
	c, ok := e.ann.Body.(Comment)
	if !ok {
		return Annotation{}, fmt.Errorf("%w: only comments have a body", ErrInvalidTransition)
	}
	c.Text = body
	e.ann.Body = c
	s.queueLocked(ctx, e, syncOp{name: "update", run: func(ctx context.Context) error {
		id, err := s.serverID(e)
		if err != nil {
			return err
		}
		_, err = s.remote.UpdateComment(ctx, id, body)
		return err
	}})
	return e.ann, nil
}

// Resolve closes a comment.
func (s *Store) Resolve(ctx context.Context, key string) (Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.liveLocked(key)
	if err != nil {
		return Annotation{}, err
	}
	if e.ann.Kind() != KindComment {
		return Annotation{}, fmt.Errorf("%w: resolve %s", ErrInvalidTransition, e.ann.Kind())
	}
	e.ann.State = StateResolved
	s.queueLocked(ctx, e, syncOp{name: "resolve", run: func(ctx context.Context) error {
		id, err := s.serverID(e)
		if err != nil {
			return err
		}
		return s.remote.ResolveComment(ctx, id)
	}})
	return e.ann, nil
}

// Accept marks a proposal accepted after the caller has applied edit to the
// canonical text, shifts every other live annotation across the edit, and
// queues the remote accept followed by a save of text.
func (s *Store) Accept(ctx context.Context, key string, edit anchor.Edit, text string) (Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.proposalLocked(key)
	if err != nil {
		return Annotation{}, err
	}
	e.ann.State = StateAccepted
	s.shiftLocked(edit, e)

	kind := e.ann.Kind()
	s.queueLocked(ctx, e, syncOp{name: "accept", run: func(ctx context.Context) error {
		id, err := s.serverID(e)
		if err != nil {
			return err
		}
		if kind == KindStrikethrough {
			return s.remote.AcceptStrikethrough(ctx, id)
		}
		return s.remote.AcceptInsertion(ctx, id)
	}})
	s.saveLocked(ctx, text, e.tail)
	return e.ann, nil
}

// Reject marks a proposal rejected. The canonical text is untouched.
func (s *Store) Reject(ctx context.Context, key string) (Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.proposalLocked(key)
	if err != nil {
		return Annotation{}, err
	}
	e.ann.State = StateRejected

	kind := e.ann.Kind()
	s.queueLocked(ctx, e, syncOp{name: "reject", run: func(ctx context.Context) error {
		id, err := s.serverID(e)
		if err != nil {
			return err
		}
		if kind == KindStrikethrough {
			return s.remote.RejectStrikethrough(ctx, id)
		}
		return s.remote.RejectInsertion(ctx, id)
	}})
	return e.ann, nil
}

// Get looks an annotation up by its current key or the local key it was
// created with.
func (s *Store) Get(key string) (Annotation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookupLocked(key)
	if e == nil {
		return Annotation{}, false
	}
	return e.ann, true
}

// Live returns the live, non-stale annotations ordered by anchor start and
// then creation order.
func (s *Store) Live() []Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Annotation, 0, len(s.entries))
	for _, e := range s.entries {
		if e.live() {
			out = append(out, e.ann)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Span().Start != out[j].Span().Start {
			return out[i].Span().Start < out[j].Span().Start
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// MarkStale drops an annotation from the live set and records why.
func (s *Store) MarkStale(key, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.lookupLocked(key)
	if e == nil || !e.live() {
		return false
	}
	s.dropLocked(e, reason)
	return true
}

// Stale lists the annotations dropped because their anchors went stale.
func (s *Store) Stale() []StaleAnchor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StaleAnchor(nil), s.stale...)
}

// Retry waits for queued syncs on the annotation and then re-runs, in order,
// the ones that failed. It stops at the first failure.
func (s *Store) Retry(ctx context.Context, key string) error {
	s.mu.Lock()
	e := s.lookupLocked(key)
	if e == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	tail := e.tail
	s.mu.Unlock()
	if tail != nil {
		<-tail
	}

	for {
		s.mu.Lock()
		if len(e.failed) == 0 {
			if e.ann.ServerID != 0 {
				e.ann.Sync = SyncConfirmed
			}
			s.mu.Unlock()
			return nil
		}
		op := e.failed[0]
		s.mu.Unlock()

		if err := op.run(ctx); err != nil {
			return &SyncError{Key: e.localKey, Op: op.name, Err: err}
		}
		s.mu.Lock()
		e.failed = e.failed[1:]
		s.mu.Unlock()
	}
}

// RetrySave re-sends the last document save that failed, if any.
func (s *Store) RetrySave(ctx context.Context) error {
	s.mu.Lock()
	op := s.failedSave
	tail := s.docTail
	s.mu.Unlock()
	if tail != nil {
		<-tail
	}
	if op == nil {
		return nil
	}
	if err := op.run(ctx); err != nil {
		return &SyncError{Key: s.documentID, Op: op.name, Err: err}
	}
	s.mu.Lock()
	if s.failedSave == op {
		s.failedSave = nil
	}
	s.mu.Unlock()
	return nil
}

// Wait blocks until every queued sync has finished.
func (s *Store) Wait() { s.inflight.Wait() }

// Inserts returns the live insertions in the form the position mapper takes.
func Inserts(anns []Annotation) []anchor.Insert {
	var out []anchor.Insert
	for _, a := range anns {
		if ins, ok := a.Body.(Insertion); ok && a.Live() {
			out = append(out, anchor.Insert{At: ins.At, Text: ins.Text, Order: a.Seq})
		}
	}
	return out
}

func (e *entry) live() bool { return e.ann.State == StateLive && !e.stale }

func (s *Store) lookupLocked(key string) *entry {
	if e, ok := s.entries[key]; ok {
		return e
	}
	if alias, ok := s.aliases[key]; ok {
		return s.entries[alias]
	}
	return nil
}

func (s *Store) liveLocked(key string) (*entry, error) {
	e := s.lookupLocked(key)
	if e == nil {
		return nil, ErrNotFound
	}
	if !e.live() {
		return nil, ErrNotLive
	}
	return e, nil
}

func (s *Store) proposalLocked(key string) (*entry, error) {
	e, err := s.liveLocked(key)
	if err != nil {
		return nil, err
	}
	if e.ann.Kind() == KindComment {
		return nil, fmt.Errorf("%w: comments are resolved, not accepted or rejected", ErrInvalidTransition)
	}
	return e, nil
}

func (s *Store) serverID(e *entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ann.ServerID == 0 {
		return 0, errUnconfirmed
	}
	return e.ann.ServerID, nil
}

func (s *Store) shiftLocked(edit anchor.Edit, accepted *entry) {
	for _, o := range s.entries {
		if o == accepted || !o.live() {
			continue
		}
		if ins, ok := o.ann.Body.(Insertion); ok {
			// Inserts at the accepted point keep their rendered order: older
			// ones stay before the new text, newer ones move after it.
			after := o.ann.Seq > accepted.ann.Seq
			o.ann.Body = ins.withSpan(anchor.Range{Start: edit.MapPoint(ins.At, after)})
			continue
		}
		r, ok := edit.MapRange(o.ann.Span())
		o.ann.Body = o.ann.Body.withSpan(r)
		if !ok {
			s.dropLocked(o, "anchored text was removed")
		}
	}
}

func (s *Store) dropLocked(e *entry, reason string) {
	e.stale = true
	s.stale = append(s.stale, StaleAnchor{Key: e.ann.Key, ServerID: e.ann.ServerID, Kind: e.ann.Kind(), Reason: reason})
	s.logger.Warn("annotation anchor went stale", "document_id", s.documentID, "key", e.ann.Key, "reason", reason)
}

// queueLocked runs op after every sync already queued for e.
func (s *Store) queueLocked(ctx context.Context, e *entry, op syncOp) {
	e.tail = s.spawn(ctx, op, func(err error) {
		s.mu.Lock()
		key := e.ann.Key
		if err != nil {
			e.failed = append(e.failed, op)
			e.ann.Sync = SyncLocalOnly
		}
		s.mu.Unlock()
		s.report(key, op.name, err)
	}, e.tail)
}

// saveLocked queues a document save behind the previous save and after.
func (s *Store) saveLocked(ctx context.Context, text string, after <-chan struct{}) {
	op := &syncOp{name: "save", run: func(ctx context.Context) error {
		return s.remote.SaveDocument(ctx, s.documentID, text)
	}}
	s.docTail = s.spawn(ctx, *op, func(err error) {
		s.mu.Lock()
		if err != nil {
			s.failedSave = op
		} else {
			s.failedSave = nil
		}
		s.mu.Unlock()
		s.report(s.documentID, op.name, err)
	}, s.docTail, after)
}

func (s *Store) spawn(ctx context.Context, op syncOp, done func(error), waits ...<-chan struct{}) <-chan struct{} {
	finished := make(chan struct{})
	ctx = context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer close(finished)
		for _, w := range waits {
			if w != nil {
				<-w
			}
		}
		done(op.run(ctx))
	}()
	return finished
}

func (s *Store) report(key, op string, err error) {
	if err != nil {
		err = &SyncError{Key: key, Op: op, Err: err}
		s.logger.Warn("annotation sync failed", "document_id", s.documentID, "key", key, "op", op, "error", err)
	}
	if s.observer != nil {
		s.observer(SyncEvent{Key: key, Op: op, Err: err})
	}
}
