package store

import (
	"time"

	"pingin/api/internal/annotation"
)

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// Document is an essay draft. Text is the canonical text every annotation
// anchors into; Version is the git commit of the last saved text.
type Document struct {
	ID        string
	Title     string
	Text      string
	Version   string
	OwnerID   string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Comment struct {
	ID          int64
	DocumentID  string
	AnchorStart int
	AnchorEnd   int
	Body        string
	Resolved    bool
	AuthorID    string
	CreatedAt   time.Time
}

type Strikethrough struct {
	ID          int64
	DocumentID  string
	AnchorStart int
	AnchorEnd   int
	Text        string
	Status      string
	AuthorID    string
	DecidedBy   string
	CreatedAt   time.Time
	DecidedAt   *time.Time
}

type Insertion struct {
	ID         int64
	DocumentID string
	Position   int
	Text       string
	Status     string
	AuthorID   string
	DecidedBy  string
	CreatedAt  time.Time
	DecidedAt  *time.Time
}

// Proposal statuses.
const (
	StatusLive     = annotation.StatusLive
	StatusAccepted = annotation.StatusAccepted
	StatusRejected = annotation.StatusRejected
	StatusStale    = annotation.StatusStale
)
