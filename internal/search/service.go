package search

import (
	"context"
	"log/slog"
	"sync"
)

// Service tries the primary index first and falls back to Postgres.
// Index writes are asynchronous and best effort.
type Service struct {
	index    Index
	fallback Searcher
	loader   func(context.Context) ([]DocumentRecord, []CommentRecord, error)
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewService builds the facade. index may be nil when Meilisearch is not
// configured.
func NewService(index Index, fallback *PgFTS, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{index: index, logger: logger.With("component", "search")}
	if fallback != nil {
		s.fallback = fallback
		s.loader = fallback.LoadAllRecords
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.index != nil && s.index.Healthy() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("primary search failed, falling back", "error", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", "error", err)
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) IndexDocument(doc DocumentRecord) {
	s.async("index document", doc.ID, func(idx Index) error {
		return idx.IndexDocuments([]DocumentRecord{doc})
	})
}

func (s *Service) IndexComment(c CommentRecord) {
	s.async("index comment", c.ID, func(idx Index) error {
		return idx.IndexComments([]CommentRecord{c})
	})
}

func (s *Service) DeleteComment(id string) {
	s.async("delete comment", id, func(idx Index) error {
		return idx.DeleteComment(id)
	})
}

func (s *Service) async(op, id string, fn func(Index) error) {
	if s.index == nil || !s.index.Healthy() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(s.index); err != nil {
			s.logger.Warn(op+" failed", "id", id, "error", err)
		}
	}()
}

// Wait blocks until queued index writes finish.
func (s *Service) Wait() {
	s.wg.Wait()
}

// ReindexAll pushes every document and live comment from Postgres into the
// primary index.
func (s *Service) ReindexAll(ctx context.Context) {
	if s.index == nil || !s.index.Healthy() || s.loader == nil {
		return
	}
	docs, comments, err := s.loader(ctx)
	if err != nil {
		s.logger.Warn("reindex load failed", "error", err)
		return
	}
	if err := s.index.IndexDocuments(docs); err != nil {
		s.logger.Warn("reindex documents failed", "error", err)
	}
	if err := s.index.IndexComments(comments); err != nil {
		s.logger.Warn("reindex comments failed", "error", err)
	}
	s.logger.Info("search reindexed", "documents", len(docs), "comments", len(comments))
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
