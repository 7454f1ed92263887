package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
)

type fakeIndex struct {
	healthy        bool
	searchFn       func(q Query) ([]Result, int, error)
	mu             sync.Mutex
	indexedDocs    []DocumentRecord
	indexedComment []CommentRecord
	deleted        []string
}

func (f *fakeIndex) Search(_ context.Context, q Query) ([]Result, int, error) {
	return f.searchFn(q)
}
func (f *fakeIndex) Healthy() bool { return f.healthy }
func (f *fakeIndex) IndexDocuments(docs []DocumentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexedDocs = append(f.indexedDocs, docs...)
	return nil
}
func (f *fakeIndex) IndexComments(c []CommentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexedComment = append(f.indexedComment, c...)
	return nil
}
func (f *fakeIndex) DeleteComment(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeSearcher struct {
	calls int
	fn    func(q Query) ([]Result, int, error)
}

func (f *fakeSearcher) Search(_ context.Context, q Query) ([]Result, int, error) {
	f.calls++
	return f.fn(q)
}
func (f *fakeSearcher) Healthy() bool { return true }

func TestServiceFallsBackWhenPrimaryFails(t *testing.T) {
	primary := &fakeIndex{healthy: true, searchFn: func(Query) ([]Result, int, error) {
		return nil, 0, errors.New("boom")
	}}
	fallback := &fakeSearcher{fn: func(q Query) ([]Result, int, error) {
		return []Result{{Type: ResultComment, ID: "7", DocumentID: "doc_1"}}, 1, nil
	}}
	svc := NewService(primary, nil, nil)
	svc.fallback = fallback

	resp := svc.Search(context.Background(), Query{Text: "thesis"})
	if fallback.calls != 1 || resp.Total != 1 || resp.Results[0].ID != "7" || resp.Query != "thesis" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestServiceUsesHealthyPrimary(t *testing.T) {
	primary := &fakeIndex{healthy: true, searchFn: func(Query) ([]Result, int, error) {
		return nil, 0, nil
	}}
	fallback := &fakeSearcher{fn: func(Query) ([]Result, int, error) { return nil, 0, nil }}
	svc := NewService(primary, nil, nil)
	svc.fallback = fallback

	resp := svc.Search(context.Background(), Query{Text: "x"})
	if fallback.calls != 0 {
		t.Fatal("fallback should not run when primary succeeds")
	}
	if resp.Results == nil {
		t.Fatal("results must be an empty slice, not nil")
	}
}

func TestServiceWithoutBackends(t *testing.T) {
	svc := NewService(nil, nil, nil)
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if len(resp.Results) != 0 || resp.Results == nil {
		t.Fatalf("unexpected response %+v", resp)
	}
	svc.IndexDocument(DocumentRecord{ID: "doc_1"})
	svc.Wait()
}

func TestServiceIndexWrites(t *testing.T) {
	idx := &fakeIndex{healthy: true}
	svc := NewService(idx, nil, nil)
	svc.IndexDocument(DocumentRecord{ID: "doc_1", Title: "Essay"})
	svc.IndexComment(CommentRecord{ID: "3", Body: "Cite this"})
	svc.DeleteComment("3")
	svc.Wait()

	if len(idx.indexedDocs) != 1 || len(idx.indexedComment) != 1 || len(idx.deleted) != 1 {
		t.Fatalf("unexpected writes: %+v %+v %+v", idx.indexedDocs, idx.indexedComment, idx.deleted)
	}
}

func TestServiceSkipsWritesWhenUnhealthy(t *testing.T) {
	idx := &fakeIndex{healthy: false}
	svc := NewService(idx, nil, nil)
	svc.IndexDocument(DocumentRecord{ID: "doc_1"})
	svc.Wait()
	if len(idx.indexedDocs) != 0 {
		t.Fatal("unhealthy index should not be written")
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		q        Query
		contains []string
		missing  []string
		wantArgs int
	}{
		{
			name:     "all types",
			q:        Query{Text: "thesis"},
			contains: []string{"FROM documents d", "FROM comments c", "UNION ALL"},
			missing:  []string{"owner_id = $2"},
			wantArgs: 1,
		},
		{
			name:     "comments for one student",
			q:        Query{Text: "thesis", FilterType: ResultComment, OwnerID: "usr_1"},
			contains: []string{"FROM comments c", "d.owner_id = $2"},
			missing:  []string{"UNION ALL"},
			wantArgs: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := buildQuery(tt.q)
			for _, s := range tt.contains {
				if !strings.Contains(sql, s) {
					t.Fatalf("expected %q in query:\n%s", s, sql)
				}
			}
			for _, s := range tt.missing {
				if strings.Contains(sql, s) {
					t.Fatalf("did not expect %q in query:\n%s", s, sql)
				}
			}
			if len(args) != tt.wantArgs {
				t.Fatalf("expected %d args, got %v", tt.wantArgs, args)
			}
		})
	}
}

func TestSearchRequestsFilterByOwner(t *testing.T) {
	reqs := searchRequests(Query{Text: "tone", OwnerID: "usr_1", Limit: 500})
	if len(reqs) != 2 {
		t.Fatalf("expected two index queries, got %d", len(reqs))
	}
	for _, r := range reqs {
		if r.Filter != `ownerId = "usr_1"` || r.Limit != 20 || r.Query != "tone" {
			t.Fatalf("unexpected request %+v", r)
		}
	}
	if got := searchRequests(Query{Text: "tone", FilterType: ResultDocument}); len(got) != 1 || got[0].IndexUID != idxDocuments {
		t.Fatalf("unexpected filtered requests %+v", got)
	}
}

func TestHitToResult(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	hit := meili.Hit{
		"id":         raw("12"),
		"body":       raw("Tighten this sentence"),
		"quote":      raw("very very"),
		"documentId": raw("doc_1"),
		"_formatted": raw(map[string]string{"body": "<mark>Tighten</mark> this sentence"}),
	}
	got := hitToResult(hit, ResultComment)
	want := Result{Type: ResultComment, ID: "12", Title: "very very", Snippet: "<mark>Tighten</mark> this sentence", DocumentID: "doc_1"}
	if got != want {
		t.Fatalf("hitToResult() = %+v, want %+v", got, want)
	}
}

func TestQuoteClamps(t *testing.T) {
	text := []rune("héllo world")
	if got := Quote(text, 1, 5); got != "éllo" {
		t.Fatalf("unexpected quote %q", got)
	}
	if got := Quote(text, 8, 100); got != "rld" {
		t.Fatalf("unexpected quote %q", got)
	}
	if got := Quote(text, 5, 2); got != "" {
		t.Fatalf("inverted range should be empty, got %q", got)
	}
}
