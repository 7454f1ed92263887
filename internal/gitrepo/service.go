// Package gitrepo versions each document's canonical text in its own git
// repository. A document's Version is the short hash of its latest commit.
package gitrepo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	textFile   = "essay.txt"
	mainBranch = "main"
)

// ErrNoRepo is returned for documents that were never initialised.
var ErrNoRepo = errors.New("document repository does not exist")

type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Added     int       `json:"added"`
	Removed   int       `json:"removed"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{baseDir: baseDir, locks: make(map[string]*sync.Mutex)}
}

// EnsureDocumentRepo creates the repository with text as its first commit.
// An existing repository is left alone and its head is returned.
func (s *Service) EnsureDocumentRepo(documentID, text, author string) (Commit, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(documentID)
	if repo, err := git.PlainOpen(path); err == nil {
		return head(repo)
	} else if !errors.Is(err, git.ErrRepositoryNotExists) {
		return Commit{}, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return Commit{}, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return Commit{}, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return Commit{}, fmt.Errorf("set HEAD to main: %w", err)
	}
	hash, err := writeAndCommit(repo, text, author, "Import essay draft")
	if err != nil {
		return Commit{}, err
	}
	return commitInfo(repo, hash)
}

// CommitText records text as a new version. When text equals the current
// head nothing is written and changed is false.
func (s *Service) CommitText(documentID, text, author, message string) (commit Commit, changed bool, err error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return Commit{}, false, err
	}
	current, err := headText(repo)
	if err != nil {
		return Commit{}, false, err
	}
	if current == text {
		c, err := head(repo)
		return c, false, err
	}
	hash, err := writeAndCommit(repo, text, author, message)
	if err != nil {
		return Commit{}, false, err
	}
	c, err := commitInfo(repo, hash)
	return c, true, err
}

// TextAt returns the document text as of a commit. hash may be abbreviated.
func (s *Service) TextAt(documentID, hash string) (string, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return "", err
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return "", fmt.Errorf("resolve revision %s: %w", hash, err)
	}
	c, err := repo.CommitObject(*resolved)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readText(c)
}

// History lists commits newest first. limit <= 0 means all of them.
func (s *Service) History(documentID string, limit int) ([]Commit, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return nil, err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var out []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		info, err := toCommit(c)
		if err != nil {
			return err
		}
		out = append(out, info)
		if limit > 0 && len(out) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return out, nil
}

func (s *Service) open(documentID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoRepo
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, filepath.Base(documentID))
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[documentID] = lock
	}
	return lock
}

func writeAndCommit(repo *git.Repository, text, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(worktree.Filesystem.Root(), textFile), []byte(text), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", textFile, err)
	}
	if _, err := worktree.Add(textFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: sanitizeEmail(author) + "@users.pingin.local",
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit: %w", err)
	}
	return hash, nil
}

func head(repo *git.Repository) (Commit, error) {
	ref, err := repo.Head()
	if err != nil {
		return Commit{}, fmt.Errorf("resolve HEAD: %w", err)
	}
	return commitInfo(repo, ref.Hash())
}

func headText(repo *git.Repository) (string, error) {
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	c, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return "", fmt.Errorf("read HEAD commit: %w", err)
	}
	return readText(c)
}

func commitInfo(repo *git.Repository, hash plumbing.Hash) (Commit, error) {
	c, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit: %w", err)
	}
	return toCommit(c)
}

func readText(c *object.Commit) (string, error) {
	file, err := c.File(textFile)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", textFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", textFile, err)
	}
	return contents, nil
}

func toCommit(c *object.Commit) (Commit, error) {
	info := Commit{
		Hash:      c.Hash.String()[:7],
		Message:   strings.TrimSpace(c.Message),
		Author:    c.Author.Name,
		CreatedAt: c.Author.When,
	}
	stats, err := c.Stats()
	if err != nil {
		return Commit{}, fmt.Errorf("commit stats: %w", err)
	}
	for _, st := range stats {
		info.Added += st.Addition
		info.Removed += st.Deletion
	}
	return info, nil
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range strings.ToLower(input) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
