package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"pingin/api/internal/annotation"
	"pingin/api/internal/export"
	"pingin/api/internal/gitrepo"
	"pingin/api/internal/overlay"
	"pingin/api/internal/rbac"
	"pingin/api/internal/search"
	"pingin/api/internal/store"
	"pingin/api/internal/util"
)

const historyLimit = 50

func (s *Service) require(sess Session, action rbac.Action) error {
	if !s.Can(sess.Role, action) {
		return errForbidden
	}
	return nil
}

// documentFor loads a document the caller may see. Students see only their
// own essays; another student's essay reads as missing.
func (s *Service) documentFor(ctx context.Context, sess Session, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if sess.Role != rbac.RoleConsultant && doc.OwnerID != sess.UserID {
		return store.Document{}, domainError(http.StatusNotFound, "NOT_FOUND", "Document not found", nil)
	}
	return doc, nil
}

func (s *Service) ListDocuments(ctx context.Context, sess Session) ([]annotation.DocumentRecord, error) {
	if err := s.require(sess, rbac.ActionRead); err != nil {
		return nil, err
	}
	ownerID := sess.UserID
	if sess.Role == rbac.RoleConsultant {
		ownerID = ""
	}
	docs, err := s.store.ListDocuments(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return mapSlice(docs, documentRecord), nil
}

func (s *Service) GetDocument(ctx context.Context, sess Session, documentID string) (annotation.DocumentRecord, error) {
	if err := s.require(sess, rbac.ActionRead); err != nil {
		return annotation.DocumentRecord{}, err
	}
	doc, err := s.documentFor(ctx, sess, documentID)
	if err != nil {
		return annotation.DocumentRecord{}, err
	}
	return documentRecord(doc), nil
}

func (s *Service) CreateDocument(ctx context.Context, sess Session, title, text string) (annotation.DocumentRecord, error) {
	if err := s.require(sess, rbac.ActionEdit); err != nil {
		return annotation.DocumentRecord{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return annotation.DocumentRecord{}, validationError("title is required")
	}

	doc := store.Document{ID: util.NewID("doc"), Title: title, Text: text, OwnerID: sess.UserID}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return annotation.DocumentRecord{}, err
	}
	commit, err := s.git.EnsureDocumentRepo(doc.ID, text, sess.UserName)
	if err != nil {
		return annotation.DocumentRecord{}, err
	}
	if err := s.store.SetDocumentVersion(ctx, doc.ID, commit.Hash); err != nil {
		return annotation.DocumentRecord{}, err
	}

	created, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return annotation.DocumentRecord{}, err
	}
	s.indexDocument(created)
	return documentRecord(created), nil
}

// SaveDocument replaces the essay text. Re-saving the current text is a
// no-op, which is what follows every accept. Any other edit is refused while
// annotations are live, since their anchors point into the current text.
func (s *Service) SaveDocument(ctx context.Context, sess Session, documentID, text string) (annotation.DocumentRecord, error) {
	if err := s.require(sess, rbac.ActionEdit); err != nil {
		return annotation.DocumentRecord{}, err
	}
	doc, err := s.documentFor(ctx, sess, documentID)
	if err != nil {
		return annotation.DocumentRecord{}, err
	}
	if doc.Text == text {
		return documentRecord(doc), nil
	}

	live, err := s.liveFor(ctx, doc.ID)
	if err != nil {
		return annotation.DocumentRecord{}, err
	}
	if len(live) > 0 {
		return annotation.DocumentRecord{}, domainError(http.StatusConflict, "REVIEW_IN_PROGRESS",
			"Accept or reject the open suggestions before editing", map[string]any{"live": len(live)})
	}

	updated, changed, err := s.store.UpdateDocumentText(ctx, doc.ID, text, sess.UserID)
	if err != nil {
		return annotation.DocumentRecord{}, err
	}
	if changed {
		updated = s.commitVersion(ctx, updated, sess.UserName, "Edit essay")
		s.indexDocument(updated)
	}
	return documentRecord(updated), nil
}

// commitVersion records the document text in its repository and moves the
// version pointer. The database row is already authoritative, so a git
// failure is logged and the previous version is kept.
func (s *Service) commitVersion(ctx context.Context, doc store.Document, author, message string) store.Document {
	commit, changed, err := s.git.CommitText(doc.ID, doc.Text, author, message)
	if errors.Is(err, gitrepo.ErrNoRepo) {
		commit, err = s.git.EnsureDocumentRepo(doc.ID, doc.Text, author)
		changed = err == nil
	}
	if err != nil {
		s.log().Error("commit document version failed", "document_id", doc.ID, "error", err)
		return doc
	}
	if !changed {
		return doc
	}
	if err := s.store.SetDocumentVersion(ctx, doc.ID, commit.Hash); err != nil {
		s.log().Error("set document version failed", "document_id", doc.ID, "version", commit.Hash, "error", err)
		return doc
	}
	doc.Version = commit.Hash
	return doc
}

func (s *Service) History(ctx context.Context, sess Session, documentID string) ([]gitrepo.Commit, error) {
	if err := s.require(sess, rbac.ActionRead); err != nil {
		return nil, err
	}
	if _, err := s.documentFor(ctx, sess, documentID); err != nil {
		return nil, err
	}
	commits, err := s.git.History(documentID, historyLimit)
	if errors.Is(err, gitrepo.ErrNoRepo) {
		return []gitrepo.Commit{}, nil
	}
	return commits, err
}

func (s *Service) VersionText(ctx context.Context, sess Session, documentID, hash string) (string, error) {
	if err := s.require(sess, rbac.ActionRead); err != nil {
		return "", err
	}
	if _, err := s.documentFor(ctx, sess, documentID); err != nil {
		return "", err
	}
	text, err := s.git.TextAt(documentID, hash)
	if err != nil {
		if errors.Is(err, gitrepo.ErrNoRepo) {
			return "", err
		}
		return "", domainError(http.StatusNotFound, "VERSION_NOT_FOUND", "Version not found", map[string]any{"version": hash})
	}
	return text, nil
}

type StaleView struct {
	Key    string          `json:"key"`
	Kind   annotation.Kind `json:"kind"`
	Reason string          `json:"reason"`
}

type RenderView struct {
	Document annotation.DocumentRecord `json:"document"`
	Segments overlay.Sequence          `json:"segments"`
	Stale    []StaleView               `json:"stale"`
}

// Render composes the stored text and live annotations into the segment
// sequence a reader draws.
func (s *Service) Render(ctx context.Context, sess Session, documentID string) (RenderView, error) {
	if err := s.require(sess, rbac.ActionRead); err != nil {
		return RenderView{}, err
	}
	doc, err := s.documentFor(ctx, sess, documentID)
	if err != nil {
		return RenderView{}, err
	}
	live, err := s.liveFor(ctx, doc.ID)
	if err != nil {
		return RenderView{}, err
	}

	composed := overlay.Compose(doc.Text, live, nil)
	view := RenderView{Document: documentRecord(doc), Segments: composed.Segments, Stale: []StaleView{}}
	if view.Segments == nil {
		view.Segments = overlay.Sequence{}
	}
	for _, st := range composed.Stale {
		s.log().Warn("stale anchor", "document_id", doc.ID, "key", st.Key, "kind", st.Kind, "reason", st.Reason)
		view.Stale = append(view.Stale, StaleView{Key: st.Key, Kind: st.Kind, Reason: st.Reason})
	}
	return view, nil
}

func (s *Service) Export(ctx context.Context, sess Session, documentID string, format export.Format, includeComments bool) (*export.Result, error) {
	if err := s.require(sess, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	doc, err := s.documentFor(ctx, sess, documentID)
	if err != nil {
		return nil, err
	}
	live, err := s.liveFor(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	author := ""
	if owner, err := s.store.GetUserByID(ctx, doc.OwnerID); err == nil {
		author = owner.DisplayName
	}
	return s.exporter.Export(ctx, export.Input{
		DocumentID:      doc.ID,
		Title:           doc.Title,
		Author:          author,
		Version:         doc.Version,
		UpdatedAt:       doc.UpdatedAt,
		Text:            doc.Text,
		Annotations:     live,
		IncludeComments: includeComments,
	}, format)
}

// Search restricts students to their own essays.
func (s *Service) Search(ctx context.Context, sess Session, q search.Query) (search.Response, error) {
	if err := s.require(sess, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	if sess.Role != rbac.RoleConsultant {
		q.OwnerID = sess.UserID
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) liveFor(ctx context.Context, documentID string) ([]annotation.Annotation, error) {
	comments, err := s.store.ListLiveComments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	strikes, err := s.store.ListLiveStrikethroughs(ctx, documentID)
	if err != nil {
		return nil, err
	}
	inserts, err := s.store.ListLiveInsertions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return liveAnnotations(comments, strikes, inserts), nil
}

func (s *Service) indexDocument(doc store.Document) {
	if s.search != nil {
		s.search.IndexDocument(searchDocument(doc))
	}
}
