package search

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// PgFTS searches Postgres directly. It is the fallback when Meilisearch is
// unreachable.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy is always true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

// buildQuery returns the UNION ALL select over the requested entity types
// and its arguments. $1 is the query text.
func buildQuery(q Query) (string, []any) {
	const tsQuery = "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	ownerFilter := ""
	if q.OwnerID != "" {
		args = append(args, q.OwnerID)
		ownerFilter = " AND d.owner_id = $" + strconv.Itoa(len(args))
	}

	var parts []string
	if q.FilterType == "" || q.FilterType == ResultDocument {
		parts = append(parts, `
			SELECT 'document'::text AS type, d.id, d.title,
				ts_headline('english', d.body, `+tsQuery+`, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.id AS document_id,
				ts_rank(to_tsvector('english', d.title || ' ' || d.body), `+tsQuery+`) AS rank
			FROM documents d
			WHERE to_tsvector('english', d.title || ' ' || d.body) @@ `+tsQuery+ownerFilter)
	}
	if q.FilterType == "" || q.FilterType == ResultComment {
		parts = append(parts, `
			SELECT 'comment'::text AS type, c.id::text, d.title,
				ts_headline('english', c.body, `+tsQuery+`, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.document_id,
				ts_rank(to_tsvector('english', c.body), `+tsQuery+`) AS rank
			FROM comments c
			JOIN documents d ON d.id = c.document_id
			WHERE NOT c.resolved AND to_tsvector('english', c.body) @@ `+tsQuery+ownerFilter)
	}
	return strings.Join(parts, " UNION ALL "), args
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	union, args := buildQuery(q)
	if union == "" {
		return nil, 0, nil
	}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+union+") sub", args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT type, id, title, snippet, document_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, q.limit(), q.offset()), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords reads every document and live comment for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []CommentRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `SELECT id, title, body, owner_id FROM documents`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()
	var docs []DocumentRecord
	bodies := map[string][]rune{}
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Title, &d.Body, &d.OwnerID); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
		bodies[d.ID] = []rune(d.Body)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	commentRows, err := p.db.QueryContext(ctx, `
		SELECT c.id::text, c.body, c.anchor_start, c.anchor_end, c.document_id, d.owner_id
		FROM comments c
		JOIN documents d ON d.id = c.document_id
		WHERE NOT c.resolved
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load comments: %w", err)
	}
	defer commentRows.Close()
	var comments []CommentRecord
	for commentRows.Next() {
		var c CommentRecord
		var start, end int
		if err := commentRows.Scan(&c.ID, &c.Body, &start, &end, &c.DocumentID, &c.OwnerID); err != nil {
			return nil, nil, fmt.Errorf("scan comment: %w", err)
		}
		c.Quote = Quote(bodies[c.DocumentID], start, end)
		comments = append(comments, c)
	}
	return docs, comments, commentRows.Err()
}

// Quote returns text[start:end] clamped to the text.
func Quote(text []rune, start, end int) string {
	start = min(max(start, 0), len(text))
	end = min(max(end, start), len(text))
	return string(text[start:end])
}
