package app

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"pingin/api/internal/anchor"
	"pingin/api/internal/annotation"
	"pingin/api/internal/email"
	"pingin/api/internal/rbac"
	"pingin/api/internal/search"
	"pingin/api/internal/store"
)

func checkRange(text string, start, end int) error {
	if start < 0 || end > utf8.RuneCountInString(text) || end <= start {
		return invalidAnchor(fmt.Sprintf("range [%d, %d) is outside the document", start, end))
	}
	return nil
}

func overlapError(kind annotation.Kind, id int64) error {
	return domainError(http.StatusConflict, "ANCHOR_OVERLAP", annotation.ErrOverlap.Error(),
		map[string]any{"kind": kind, "id": id})
}

// checkConsuming looks for a live comment or strikethrough over r. It returns
// the id of an exact duplicate of the same kind, or an overlap error.
func (s *Service) checkConsuming(ctx context.Context, documentID string, kind annotation.Kind, r anchor.Range) (int64, error) {
	comments, err := s.store.ListLiveComments(ctx, documentID)
	if err != nil {
		return 0, err
	}
	for _, c := range comments {
		span := anchor.Range{Start: c.AnchorStart, End: c.AnchorEnd}
		if kind == annotation.KindComment && span == r {
			return c.ID, nil
		}
		if span.Overlaps(r) {
			return 0, overlapError(annotation.KindComment, c.ID)
		}
	}

	strikes, err := s.store.ListLiveStrikethroughs(ctx, documentID)
	if err != nil {
		return 0, err
	}
	for _, st := range strikes {
		span := anchor.Range{Start: st.AnchorStart, End: st.AnchorEnd}
		if kind == annotation.KindStrikethrough && span == r {
			return st.ID, nil
		}
		if span.Overlaps(r) {
			return 0, overlapError(annotation.KindStrikethrough, st.ID)
		}
	}
	return 0, nil
}

func (s *Service) ListComments(ctx context.Context, sess Session, documentID string) ([]annotation.CommentRecord, error) {
	if err := s.require(sess, rbac.ActionRead); err != nil {
		return nil, err
	}
	if _, err := s.documentFor(ctx, sess, documentID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListLiveComments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return mapSlice(comments, commentRecord), nil
}

// CreateComment reports created=false when an identical live comment already
// covers the range; that comment is returned instead.
func (s *Service) CreateComment(ctx context.Context, sess Session, documentID string, start, end int, body string) (annotation.CommentRecord, bool, error) {
	if err := s.require(sess, rbac.ActionAnnotate); err != nil {
		return annotation.CommentRecord{}, false, err
	}
	doc, err := s.documentFor(ctx, sess, documentID)
	if err != nil {
		return annotation.CommentRecord{}, false, err
	}
	if strings.TrimSpace(body) == "" {
		return annotation.CommentRecord{}, false, validationError("comment body is required")
	}
	if err := checkRange(doc.Text, start, end); err != nil {
		return annotation.CommentRecord{}, false, err
	}
	dup, err := s.checkConsuming(ctx, doc.ID, annotation.KindComment, anchor.Range{Start: start, End: end})
	if err != nil {
		return annotation.CommentRecord{}, false, err
	}
	if dup != 0 {
		existing, err := s.store.GetComment(ctx, dup)
		return commentRecord(existing), false, err
	}

	c, err := s.store.InsertComment(ctx, store.Comment{
		DocumentID:  doc.ID,
		AnchorStart: start,
		AnchorEnd:   end,
		Body:        body,
		AuthorID:    sess.UserID,
	})
	if err != nil {
		return annotation.CommentRecord{}, false, err
	}
	if s.search != nil {
		s.search.IndexComment(searchComment(c, doc))
	}
	s.notifyOwner(ctx, sess, doc, annotation.KindComment, search.Quote([]rune(doc.Text), start, end), body)
	return commentRecord(c), true, nil
}

func (s *Service) UpdateComment(ctx context.Context, sess Session, commentID int64, body string) (annotation.CommentRecord, error) {
	if err := s.require(sess, rbac.ActionAnnotate); err != nil {
		return annotation.CommentRecord{}, err
	}
	if strings.TrimSpace(body) == "" {
		return annotation.CommentRecord{}, validationError("comment body is required")
	}
	existing, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return annotation.CommentRecord{}, err
	}
	doc, err := s.documentFor(ctx, sess, existing.DocumentID)
	if err != nil {
		return annotation.CommentRecord{}, err
	}
	if existing.Resolved {
		return annotation.CommentRecord{}, annotation.ErrNotLive
	}

	c, err := s.store.UpdateCommentBody(ctx, commentID, body)
	if err != nil {
		return annotation.CommentRecord{}, err
	}
	if s.search != nil {
		s.search.IndexComment(searchComment(c, doc))
	}
	return commentRecord(c), nil
}

func (s *Service) ResolveComment(ctx context.Context, sess Session, commentID int64) error {
	if err := s.require(sess, rbac.ActionResolve); err != nil {
		return err
	}
	c, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	if _, err := s.documentFor(ctx, sess, c.DocumentID); err != nil {
		return err
	}
	ok, err := s.store.ResolveComment(ctx, commentID)
	if err != nil {
		return err
	}
	if !ok {
		return annotation.ErrNotLive
	}
	if s.search != nil {
		s.search.DeleteComment(strconv.FormatInt(commentID, 10))
	}
	return nil
}

func (s *Service) ListStrikethroughs(ctx context.Context, sess Session, documentID string) ([]annotation.StrikethroughRecord, error) {
	if err := s.require(sess, rbac.ActionRead); err != nil {
		return nil, err
	}
	if _, err := s.documentFor(ctx, sess, documentID); err != nil {
		return nil, err
	}
	strikes, err := s.store.ListLiveStrikethroughs(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return mapSlice(strikes, strikethroughRecord), nil
}

// CreateStrikethrough requires text to equal the canonical slice it covers.
func (s *Service) CreateStrikethrough(ctx context.Context, sess Session, documentID string, start, end int, text string) (annotation.StrikethroughRecord, bool, error) {
	if err := s.require(sess, rbac.ActionAnnotate); err != nil {
		return annotation.StrikethroughRecord{}, false, err
	}
	doc, err := s.documentFor(ctx, sess, documentID)
	if err != nil {
		return annotation.StrikethroughRecord{}, false, err
	}
	if err := checkRange(doc.Text, start, end); err != nil {
		return annotation.StrikethroughRecord{}, false, err
	}
	if got := string([]rune(doc.Text)[start:end]); got != text {
		return annotation.StrikethroughRecord{}, false, domainError(http.StatusConflict, "STALE_ANCHOR",
			"Struck text does not match the document", map[string]any{"expected": got})
	}
	dup, err := s.checkConsuming(ctx, doc.ID, annotation.KindStrikethrough, anchor.Range{Start: start, End: end})
	if err != nil {
		return annotation.StrikethroughRecord{}, false, err
	}
	if dup != 0 {
		existing, err := s.store.GetStrikethrough(ctx, dup)
		return strikethroughRecord(existing), false, err
	}

	st, err := s.store.InsertStrikethrough(ctx, store.Strikethrough{
		DocumentID:  doc.ID,
		AnchorStart: start,
		AnchorEnd:   end,
		Text:        text,
		AuthorID:    sess.UserID,
	})
	if err != nil {
		return annotation.StrikethroughRecord{}, false, err
	}
	s.notifyOwner(ctx, sess, doc, annotation.KindStrikethrough, text, "")
	return strikethroughRecord(st), true, nil
}

// AcceptStrikethrough deletes the struck text, shifts every other live
// anchor and commits the new text as a document version.
func (s *Service) AcceptStrikethrough(ctx context.Context, sess Session, id int64) (annotation.DocumentRecord, error) {
	if err := s.require(sess, rbac.ActionDecide); err != nil {
		return annotation.DocumentRecord{}, err
	}
	st, err := s.store.GetStrikethrough(ctx, id)
	if err != nil {
		return annotation.DocumentRecord{}, err
	}
	if _, err := s.documentFor(ctx, sess, st.DocumentID); err != nil {
		return annotation.DocumentRecord{}, err
	}
	doc, err := s.store.AcceptStrikethrough(ctx, id, sess.UserID)
	if err != nil {
		return annotation.DocumentRecord{}, err
	}
	doc = s.commitVersion(ctx, doc, sess.UserName, fmt.Sprintf("Accept strikethrough #%d", id))
	s.indexDocument(doc)
	return documentRecord(doc), nil
}

func (s *Service) RejectStrikethrough(ctx context.Context, sess Session, id int64) error {
	if err := s.require(sess, rbac.ActionDecide); err != nil {
		return err
	}
	st, err := s.store.GetStrikethrough(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.documentFor(ctx, sess, st.DocumentID); err != nil {
		return err
	}
	ok, err := s.store.RejectStrikethrough(ctx, id, sess.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return annotation.ErrNotLive
	}
	return nil
}

func (s *Service) ListInsertions(ctx context.Context, sess Session, documentID string) ([]annotation.InsertionRecord, error) {
	if err := s.require(sess, rbac.ActionRead); err != nil {
		return nil, err
	}
	if _, err := s.documentFor(ctx, sess, documentID); err != nil {
		return nil, err
	}
	inserts, err := s.store.ListLiveInsertions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return mapSlice(inserts, insertionRecord), nil
}

func (s *Service) CreateInsertion(ctx context.Context, sess Session, documentID string, at int, text string) (annotation.InsertionRecord, bool, error) {
	if err := s.require(sess, rbac.ActionAnnotate); err != nil {
		return annotation.InsertionRecord{}, false, err
	}
	doc, err := s.documentFor(ctx, sess, documentID)
	if err != nil {
		return annotation.InsertionRecord{}, false, err
	}
	if strings.TrimSpace(text) == "" {
		return annotation.InsertionRecord{}, false, validationError("insertion text is required")
	}
	if at < 0 || at > utf8.RuneCountInString(doc.Text) {
		return annotation.InsertionRecord{}, false, invalidAnchor(fmt.Sprintf("position %d is outside the document", at))
	}

	in, err := s.store.InsertInsertion(ctx, store.Insertion{
		DocumentID: doc.ID,
		Position:   at,
		Text:       text,
		AuthorID:   sess.UserID,
	})
	if err != nil {
		return annotation.InsertionRecord{}, false, err
	}
	s.notifyOwner(ctx, sess, doc, annotation.KindInsertion, "", text)
	return insertionRecord(in), true, nil
}

func (s *Service) AcceptInsertion(ctx context.Context, sess Session, id int64) (annotation.DocumentRecord, error) {
	if err := s.require(sess, rbac.ActionDecide); err != nil {
		return annotation.DocumentRecord{}, err
	}
	in, err := s.store.GetInsertion(ctx, id)
	if err != nil {
		return annotation.DocumentRecord{}, err
	}
	if _, err := s.documentFor(ctx, sess, in.DocumentID); err != nil {
		return annotation.DocumentRecord{}, err
	}
	doc, err := s.store.AcceptInsertion(ctx, id, sess.UserID)
	if err != nil {
		return annotation.DocumentRecord{}, err
	}
	doc = s.commitVersion(ctx, doc, sess.UserName, fmt.Sprintf("Accept insertion #%d", id))
	s.indexDocument(doc)
	return documentRecord(doc), nil
}

func (s *Service) RejectInsertion(ctx context.Context, sess Session, id int64) error {
	if err := s.require(sess, rbac.ActionDecide); err != nil {
		return err
	}
	in, err := s.store.GetInsertion(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.documentFor(ctx, sess, in.DocumentID); err != nil {
		return err
	}
	ok, err := s.store.RejectInsertion(ctx, id, sess.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return annotation.ErrNotLive
	}
	return nil
}

// notifyOwner emails the essay's owner in the background. Failures are
// logged only.
func (s *Service) notifyOwner(ctx context.Context, sess Session, doc store.Document, kind annotation.Kind, quote, text string) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		owner, err := s.store.GetUserByID(ctx, doc.OwnerID)
		if err != nil {
			s.log().Warn("notification owner lookup failed", "document_id", doc.ID, "error", err)
			return
		}
		err = s.notifier.NotifyReviewActivity(email.Notice{
			To:            owner.Email,
			StudentName:   owner.DisplayName,
			ReviewerName:  sess.UserName,
			DocumentID:    doc.ID,
			DocumentTitle: doc.Title,
			Kind:          string(kind),
			Quote:         quote,
			Text:          text,
		})
		if err != nil {
			s.log().Warn("review notification failed", "document_id", doc.ID, "kind", kind, "error", err)
		}
	}()
}
