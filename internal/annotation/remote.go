package annotation

import (
	"context"
	"strconv"
	"time"
)

// Remote is the persistence API the store syncs against. Implementations
// must be safe for concurrent use.
type Remote interface {
	GetDocument(ctx context.Context, documentID string) (DocumentRecord, error)
	SaveDocument(ctx context.Context, documentID, text string) error

	ListComments(ctx context.Context, documentID string) ([]CommentRecord, error)
	CreateComment(ctx context.Context, documentID string, start, end int, body string) (CommentRecord, error)
	UpdateComment(ctx context.Context, commentID int64, body string) (CommentRecord, error)
	ResolveComment(ctx context.Context, commentID int64) error

	ListStrikethroughs(ctx context.Context, documentID string) ([]StrikethroughRecord, error)
	CreateStrikethrough(ctx context.Context, documentID string, start, end int, text string) (StrikethroughRecord, error)
	AcceptStrikethrough(ctx context.Context, strikethroughID int64) error
	RejectStrikethrough(ctx context.Context, strikethroughID int64) error

	ListInsertions(ctx context.Context, documentID string) ([]InsertionRecord, error)
	CreateInsertion(ctx context.Context, documentID string, at int, text string) (InsertionRecord, error)
	AcceptInsertion(ctx context.Context, insertionID int64) error
	RejectInsertion(ctx context.Context, insertionID int64) error
}

type DocumentRecord struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Text      string    `json:"text"`
	Version   string    `json:"version"`
	OwnerID   string    `json:"owner_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CommentRecord struct {
	ID          int64     `json:"id"`
	DocumentID  string    `json:"document_id"`
	AnchorStart int       `json:"anchor_start"`
	AnchorEnd   int       `json:"anchor_end"`
	Body        string    `json:"body"`
	Resolved    bool      `json:"resolved"`
	AuthorID    string    `json:"author_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type StrikethroughRecord struct {
	ID          int64     `json:"id"`
	DocumentID  string    `json:"document_id"`
	AnchorStart int       `json:"anchor_start"`
	AnchorEnd   int       `json:"anchor_end"`
	Text        string    `json:"text"`
	Status      string    `json:"status"`
	AuthorID    string    `json:"author_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type InsertionRecord struct {
	ID         int64     `json:"id"`
	DocumentID string    `json:"document_id"`
	Position   int       `json:"position"`
	Text       string    `json:"text"`
	Status     string    `json:"status"`
	AuthorID   string    `json:"author_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Record statuses as stored by the server.
const (
	StatusLive     = "LIVE"
	StatusAccepted = "ACCEPTED"
	StatusRejected = "REJECTED"
	StatusStale    = "STALE"
)

func serverKey(id int64) string { return strconv.FormatInt(id, 10) }

// ParseServerKey returns the server id encoded in a confirmed key.
func ParseServerKey(key string) (int64, bool) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
