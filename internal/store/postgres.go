package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrEmailTaken is returned when a sign-up collides with an existing email.
var ErrEmailTaken = errors.New("email already registered")

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, role, password_hash)
		VALUES ($1, LOWER($2), $3, $4, $5)
	`, user.ID, strings.TrimSpace(user.Email), user.DisplayName, user.Role, user.PasswordHash)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `id, email, display_name, role, password_hash, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.Role, &user.PasswordHash, &user.CreatedAt)
	return user, err
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = LOWER($1)`, strings.TrimSpace(email)))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

const documentColumns = `id, title, body, version, owner_id, COALESCE(updated_by, ''), created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.Title, &doc.Text, &doc.Version, &doc.OwnerID, &doc.UpdatedBy, &doc.CreatedAt, &doc.UpdatedAt)
	return doc, err
}

// ListDocuments returns the documents owned by ownerID, or every document
// when ownerID is empty.
func (s *PostgresStore) ListDocuments(ctx context.Context, ownerID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE ($1 = '' OR owner_id = $1)
		ORDER BY updated_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, body, version, owner_id, updated_by)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, doc.ID, doc.Title, doc.Text, doc.Version, doc.OwnerID)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// UpdateDocumentText replaces the canonical text and reports whether it
// changed.
func (s *PostgresStore) UpdateDocumentText(ctx context.Context, id, text, updatedBy string) (Document, bool, error) {
	var changed bool
	err := s.db.QueryRowContext(ctx, `
		WITH prev AS (SELECT body FROM documents WHERE id = $1)
		UPDATE documents
		SET body = $2, updated_by = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING (SELECT body FROM prev) IS DISTINCT FROM $2
	`, id, text, updatedBy).Scan(&changed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, false, err
		}
		return Document{}, false, fmt.Errorf("update document text: %w", err)
	}
	doc, err := s.GetDocument(ctx, id)
	return doc, changed, err
}

func (s *PostgresStore) SetDocumentVersion(ctx context.Context, id, version string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET version = $2 WHERE id = $1`, id, version)
	if err != nil {
		return fmt.Errorf("set document version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
