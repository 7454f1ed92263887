package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultDocument ResultType = "document"
	ResultComment  ResultType = "comment"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	DocumentID string     `json:"documentId"`
}

// Query describes a search request. A non-empty OwnerID restricts results
// to that student's documents.
type Query struct {
	Text       string
	FilterType ResultType
	OwnerID    string
	Limit      int
	Offset     int
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	return max(q.Offset, 0)
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Index is a Searcher that can also be written to.
type Index interface {
	Searcher
	IndexDocuments(docs []DocumentRecord) error
	IndexComments(comments []CommentRecord) error
	DeleteComment(id string) error
}

type DocumentRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	OwnerID string `json:"ownerId"`
}

// CommentRecord indexes a live comment with the text it is anchored to.
type CommentRecord struct {
	ID         string `json:"id"`
	Body       string `json:"body"`
	Quote      string `json:"quote"`
	DocumentID string `json:"documentId"`
	OwnerID    string `json:"ownerId"`
}
