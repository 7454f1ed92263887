package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pingin/api/internal/anchor"
	"pingin/api/internal/annotation"
)

const commentColumns = `id, document_id, anchor_start, anchor_end, body, resolved, author_id, created_at`

func scanComment(row interface{ Scan(...any) error }) (Comment, error) {
	var c Comment
	err := row.Scan(&c.ID, &c.DocumentID, &c.AnchorStart, &c.AnchorEnd, &c.Body, &c.Resolved, &c.AuthorID, &c.CreatedAt)
	return c, err
}

func (s *PostgresStore) ListLiveComments(ctx context.Context, documentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+commentColumns+`
		FROM comments
		WHERE document_id = $1 AND NOT resolved
		ORDER BY id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()
	var out []Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetComment(ctx context.Context, id int64) (Comment, error) {
	return scanComment(s.db.QueryRowContext(ctx, `SELECT `+commentColumns+` FROM comments WHERE id = $1`, id))
}

func (s *PostgresStore) InsertComment(ctx context.Context, c Comment) (Comment, error) {
	created, err := scanComment(s.db.QueryRowContext(ctx, `
		INSERT INTO comments (document_id, anchor_start, anchor_end, body, author_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+commentColumns,
		c.DocumentID, c.AnchorStart, c.AnchorEnd, c.Body, c.AuthorID))
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateCommentBody(ctx context.Context, id int64, body string) (Comment, error) {
	c, err := scanComment(s.db.QueryRowContext(ctx, `
		UPDATE comments SET body = $2
		WHERE id = $1 AND NOT resolved
		RETURNING `+commentColumns, id, body))
	if errors.Is(err, sql.ErrNoRows) {
		return Comment{}, err
	}
	if err != nil {
		return Comment{}, fmt.Errorf("update comment: %w", err)
	}
	return c, nil
}

// ResolveComment closes a comment and reports whether it was open.
func (s *PostgresStore) ResolveComment(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE comments SET resolved = TRUE, resolved_at = NOW() WHERE id = $1 AND NOT resolved`, id)
	if err != nil {
		return false, fmt.Errorf("resolve comment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve comment rows: %w", err)
	}
	return n > 0, nil
}

const strikethroughColumns = `id, document_id, anchor_start, anchor_end, text, status, author_id, COALESCE(decided_by, ''), created_at, decided_at`

func scanStrikethrough(row interface{ Scan(...any) error }) (Strikethrough, error) {
	var st Strikethrough
	err := row.Scan(&st.ID, &st.DocumentID, &st.AnchorStart, &st.AnchorEnd, &st.Text, &st.Status, &st.AuthorID, &st.DecidedBy, &st.CreatedAt, &st.DecidedAt)
	return st, err
}

func (s *PostgresStore) ListLiveStrikethroughs(ctx context.Context, documentID string) ([]Strikethrough, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+strikethroughColumns+`
		FROM strikethroughs
		WHERE document_id = $1 AND status = 'LIVE'
		ORDER BY id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list strikethroughs: %w", err)
	}
	defer rows.Close()
	var out []Strikethrough
	for rows.Next() {
		st, err := scanStrikethrough(rows)
		if err != nil {
			return nil, fmt.Errorf("scan strikethrough: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetStrikethrough(ctx context.Context, id int64) (Strikethrough, error) {
	return scanStrikethrough(s.db.QueryRowContext(ctx, `SELECT `+strikethroughColumns+` FROM strikethroughs WHERE id = $1`, id))
}

func (s *PostgresStore) InsertStrikethrough(ctx context.Context, st Strikethrough) (Strikethrough, error) {
	created, err := scanStrikethrough(s.db.QueryRowContext(ctx, `
		INSERT INTO strikethroughs (document_id, anchor_start, anchor_end, text, author_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+strikethroughColumns,
		st.DocumentID, st.AnchorStart, st.AnchorEnd, st.Text, st.AuthorID))
	if err != nil {
		return Strikethrough{}, fmt.Errorf("insert strikethrough: %w", err)
	}
	return created, nil
}

const insertionColumns = `id, document_id, position, text, status, author_id, COALESCE(decided_by, ''), created_at, decided_at`

func scanInsertion(row interface{ Scan(...any) error }) (Insertion, error) {
	var in Insertion
	err := row.Scan(&in.ID, &in.DocumentID, &in.Position, &in.Text, &in.Status, &in.AuthorID, &in.DecidedBy, &in.CreatedAt, &in.DecidedAt)
	return in, err
}

func (s *PostgresStore) ListLiveInsertions(ctx context.Context, documentID string) ([]Insertion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+insertionColumns+`
		FROM insertions
		WHERE document_id = $1 AND status = 'LIVE'
		ORDER BY id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list insertions: %w", err)
	}
	defer rows.Close()
	var out []Insertion
	for rows.Next() {
		in, err := scanInsertion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan insertion: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetInsertion(ctx context.Context, id int64) (Insertion, error) {
	return scanInsertion(s.db.QueryRowContext(ctx, `SELECT `+insertionColumns+` FROM insertions WHERE id = $1`, id))
}

func (s *PostgresStore) InsertInsertion(ctx context.Context, in Insertion) (Insertion, error) {
	created, err := scanInsertion(s.db.QueryRowContext(ctx, `
		INSERT INTO insertions (document_id, position, text, author_id)
		VALUES ($1, $2, $3, $4)
		RETURNING `+insertionColumns,
		in.DocumentID, in.Position, in.Text, in.AuthorID))
	if err != nil {
		return Insertion{}, fmt.Errorf("insert insertion: %w", err)
	}
	return created, nil
}

// RejectStrikethrough closes a live strikethrough without touching the text.
func (s *PostgresStore) RejectStrikethrough(ctx context.Context, id int64, decidedBy string) (bool, error) {
	return s.decide(ctx, "strikethroughs", id, StatusRejected, decidedBy)
}

// RejectInsertion closes a live insertion without touching the text.
func (s *PostgresStore) RejectInsertion(ctx context.Context, id int64, decidedBy string) (bool, error) {
	return s.decide(ctx, "insertions", id, StatusRejected, decidedBy)
}

func (s *PostgresStore) decide(ctx context.Context, table string, id int64, status, decidedBy string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE `+table+`
		SET status = $2, decided_by = $3, decided_at = NOW()
		WHERE id = $1 AND status = 'LIVE'
	`, id, status, decidedBy)
	if err != nil {
		return false, fmt.Errorf("update %s status: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows: %w", table, err)
	}
	return n > 0, nil
}

// AcceptStrikethrough removes the struck text from the document and shifts
// the document's other live anchors, all in one transaction. A strikethrough
// whose text no longer matches is marked STALE and annotation.ErrStaleAnchor
// is returned.
func (s *PostgresStore) AcceptStrikethrough(ctx context.Context, id int64, decidedBy string) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin accept tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	st, err := scanStrikethrough(tx.QueryRowContext(ctx, `SELECT `+strikethroughColumns+` FROM strikethroughs WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Document{}, err
	}
	if st.Status != StatusLive {
		return Document{}, annotation.ErrNotLive
	}
	doc, err := scanDocument(tx.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, st.DocumentID))
	if err != nil {
		return Document{}, err
	}

	text := []rune(doc.Text)
	if st.AnchorStart < 0 || st.AnchorEnd > len(text) || st.AnchorEnd <= st.AnchorStart || string(text[st.AnchorStart:st.AnchorEnd]) != st.Text {
		if _, err := tx.ExecContext(ctx, `UPDATE strikethroughs SET status = 'STALE' WHERE id = $1`, id); err != nil {
			return Document{}, fmt.Errorf("mark strikethrough stale: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return Document{}, fmt.Errorf("commit stale strikethrough: %w", err)
		}
		return Document{}, annotation.ErrStaleAnchor
	}

	doc.Text = string(text[:st.AnchorStart]) + string(text[st.AnchorEnd:])
	if err := s.applyAccepted(ctx, tx, doc, anchor.Deletion(st.AnchorStart, st.AnchorEnd), "strikethroughs", id, decidedBy); err != nil {
		return Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit accept strikethrough: %w", err)
	}
	return s.GetDocument(ctx, doc.ID)
}

// AcceptInsertion splices the inserted text into the document and shifts the
// document's other live anchors in one transaction.
func (s *PostgresStore) AcceptInsertion(ctx context.Context, id int64, decidedBy string) (Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("begin accept tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	in, err := scanInsertion(tx.QueryRowContext(ctx, `SELECT `+insertionColumns+` FROM insertions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Document{}, err
	}
	if in.Status != StatusLive {
		return Document{}, annotation.ErrNotLive
	}
	doc, err := scanDocument(tx.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, in.DocumentID))
	if err != nil {
		return Document{}, err
	}

	text := []rune(doc.Text)
	at := min(max(in.Position, 0), len(text))
	doc.Text = string(text[:at]) + in.Text + string(text[at:])
	edit := anchor.Insertion(at, len([]rune(in.Text)))
	if err := s.applyAccepted(ctx, tx, doc, edit, "insertions", id, decidedBy); err != nil {
		return Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("commit accept insertion: %w", err)
	}
	return s.GetDocument(ctx, doc.ID)
}

func (s *PostgresStore) applyAccepted(ctx context.Context, tx *sql.Tx, doc Document, edit anchor.Edit, table string, id int64, decidedBy string) error {
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET body = $2, updated_by = $3, updated_at = NOW() WHERE id = $1`, doc.ID, doc.Text, decidedBy); err != nil {
		return fmt.Errorf("update document body: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE `+table+` SET status = 'ACCEPTED', decided_by = $2, decided_at = NOW() WHERE id = $1`, id, decidedBy); err != nil {
		return fmt.Errorf("mark %s accepted: %w", table, err)
	}

	live, err := loadLiveAnchors(ctx, tx, doc.ID)
	if err != nil {
		return err
	}
	acceptedInsertion := int64(0)
	if table == "insertions" {
		acceptedInsertion = id
	}
	for _, u := range planShift(edit, live, acceptedInsertion) {
		if err := u.apply(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

func loadLiveAnchors(ctx context.Context, tx *sql.Tx, documentID string) ([]liveAnchor, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT 'comments', id, anchor_start, anchor_end FROM comments WHERE document_id = $1 AND NOT resolved
		UNION ALL
		SELECT 'strikethroughs', id, anchor_start, anchor_end FROM strikethroughs WHERE document_id = $1 AND status = 'LIVE'
		UNION ALL
		SELECT 'insertions', id, position, position FROM insertions WHERE document_id = $1 AND status = 'LIVE'
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("load live anchors: %w", err)
	}
	defer rows.Close()
	var out []liveAnchor
	for rows.Next() {
		var a liveAnchor
		if err := rows.Scan(&a.table, &a.id, &a.start, &a.end); err != nil {
			return nil, fmt.Errorf("scan live anchor: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
