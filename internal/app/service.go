package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"pingin/api/internal/auth"
	"pingin/api/internal/authpw"
	"pingin/api/internal/config"
	"pingin/api/internal/email"
	"pingin/api/internal/export"
	"pingin/api/internal/gitrepo"
	"pingin/api/internal/rbac"
	"pingin/api/internal/search"
	"pingin/api/internal/session"
	"pingin/api/internal/store"
	"pingin/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         rbac.Role
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) Principal() auth.Principal {
	return auth.Principal{UserID: s.UserID, Name: s.UserName, Role: s.Role}
}

type dataStore interface {
	Ping(context.Context) error

	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) error

	ListDocuments(context.Context, string) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document) error
	UpdateDocumentText(context.Context, string, string, string) (store.Document, bool, error)
	SetDocumentVersion(context.Context, string, string) error

	ListLiveComments(context.Context, string) ([]store.Comment, error)
	GetComment(context.Context, int64) (store.Comment, error)
	InsertComment(context.Context, store.Comment) (store.Comment, error)
	UpdateCommentBody(context.Context, int64, string) (store.Comment, error)
	ResolveComment(context.Context, int64) (bool, error)

	ListLiveStrikethroughs(context.Context, string) ([]store.Strikethrough, error)
	GetStrikethrough(context.Context, int64) (store.Strikethrough, error)
	InsertStrikethrough(context.Context, store.Strikethrough) (store.Strikethrough, error)
	AcceptStrikethrough(context.Context, int64, string) (store.Document, error)
	RejectStrikethrough(context.Context, int64, string) (bool, error)

	ListLiveInsertions(context.Context, string) ([]store.Insertion, error)
	GetInsertion(context.Context, int64) (store.Insertion, error)
	InsertInsertion(context.Context, store.Insertion) (store.Insertion, error)
	AcceptInsertion(context.Context, int64, string) (store.Document, error)
	RejectInsertion(context.Context, int64, string) (bool, error)
}

type gitService interface {
	EnsureDocumentRepo(documentID, text, author string) (gitrepo.Commit, error)
	CommitText(documentID, text, author, message string) (gitrepo.Commit, bool, error)
	History(documentID string, limit int) ([]gitrepo.Commit, error)
	TextAt(documentID, hash string) (string, error)
}

type sessionStore interface {
	Save(ctx context.Context, tokenHash string, p auth.Principal, expiresAt time.Time) error
	Consume(ctx context.Context, tokenHash string) (auth.Principal, error)
	Revoke(ctx context.Context, tokenHash string) error
	RevokeAccess(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	IndexComment(c search.CommentRecord)
	DeleteComment(id string)
}

type exporter interface {
	Export(ctx context.Context, in export.Input, format export.Format) (*export.Result, error)
}

type notifier interface {
	NotifyReviewActivity(n email.Notice) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	git      gitService
	sessions sessionStore
	accounts *authpw.Service
	search   searchIndex
	exporter exporter
	notifier notifier
	logger   *slog.Logger
	now      func() time.Time

	// background notification sends
	pending sync.WaitGroup
}

type Option func(*Service)

func WithSearch(index *search.Service) Option {
	return func(s *Service) { s.search = index }
}

func WithExporter(e *export.Service) Option {
	return func(s *Service) { s.exporter = e }
}

// WithNotifier enables review-activity emails. An unconfigured mailer is
// ignored.
func WithNotifier(mailer *email.Service) Option {
	return func(s *Service) {
		if mailer != nil && mailer.IsConfigured() {
			s.notifier = mailer
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func New(cfg config.Config, dataStore *store.PostgresStore, gitService *gitrepo.Service, sessions *session.RedisStore, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		git:      gitService,
		sessions: sessions,
		accounts: authpw.NewService(dataStore),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *Service) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.accounts.SignUp(ctx, req)
	if err != nil {
		return Session{}, accountError(err)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.accounts.SignIn(ctx, emailAddr, password)
	if err != nil {
		return Session{}, accountError(err)
	}
	return s.issueSession(ctx, user)
}

func accountError(err error) error {
	switch {
	case errors.Is(err, store.ErrEmailTaken):
		return domainError(http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	case errors.Is(err, authpw.ErrMissingFields),
		errors.Is(err, authpw.ErrInvalidEmail),
		errors.Is(err, authpw.ErrWeakPassword),
		errors.Is(err, authpw.ErrInvalidRole):
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return err
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	principal, err := s.sessions.Consume(ctx, auth.HashToken(refreshToken))
	if errors.Is(err, session.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}
	// Pick up role or name changes made since the token was issued.
	user, err := s.store.GetUserByID(ctx, principal.UserID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.clock()
	principal := auth.Principal{UserID: user.ID, Name: user.DisplayName, Role: rbac.Normalize(user.Role)}
	jti := util.NewID("jti")
	claims := auth.NewClaims(principal, jti, now, s.cfg.AccessTTL)

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.Save(ctx, auth.HashToken(refresh), principal, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         principal.Role,
		JTI:          jti,
		ExpiresAt:    time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	p := claims.Principal()
	return Session{
		Token:     token,
		UserID:    p.UserID,
		UserName:  p.Name,
		Role:      p.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		if err := s.sessions.RevokeAccess(ctx, sess.JTI, sess.ExpiresAt); err != nil {
			s.log().Warn("revoke access token failed", "user_id", sess.UserID, "error", err)
		}
	}
	if refreshToken != "" {
		return s.sessions.Revoke(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

// Ping checks the database and the session store.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return err
	}
	if s.sessions != nil {
		return s.sessions.Ping(ctx)
	}
	return nil
}

// Wait blocks until queued notification sends finish.
func (s *Service) Wait() {
	s.pending.Wait()
}
