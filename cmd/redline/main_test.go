package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pingin/api/internal/annotation"
)

type reviewAPI struct {
	mu      sync.Mutex
	role    string
	text    string
	strikes []annotation.StrikethroughRecord
}

func (a *reviewAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	reply := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	switch r.Method + " " + r.URL.Path {
	case "GET /api/session":
		reply(http.StatusOK, map[string]any{"userId": "usr_1", "role": a.role})
	case "GET /api/documents/doc_1":
		reply(http.StatusOK, annotation.DocumentRecord{ID: "doc_1", Text: a.text, Version: "v1"})
	case "PUT /api/documents/doc_1":
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		a.text = body.Text
		reply(http.StatusOK, map[string]any{"id": "doc_1"})
	case "GET /api/documents/doc_1/comments":
		reply(http.StatusOK, map[string]any{"comments": []any{}})
	case "GET /api/documents/doc_1/insertions":
		reply(http.StatusOK, map[string]any{"insertions": []any{}})
	case "GET /api/documents/doc_1/strikethroughs":
		reply(http.StatusOK, map[string]any{"strikethroughs": a.strikes})
	case "POST /api/documents/doc_1/strikethroughs":
		var body struct {
			Start int    `json:"anchor_start"`
			End   int    `json:"anchor_end"`
			Text  string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		rec := annotation.StrikethroughRecord{ID: int64(len(a.strikes) + 1), AnchorStart: body.Start, AnchorEnd: body.End, Text: body.Text, Status: annotation.StatusLive}
		a.strikes = append(a.strikes, rec)
		reply(http.StatusCreated, rec)
	case "POST /api/strikethroughs/1/accept":
		a.strikes[0].Status = annotation.StatusAccepted
		reply(http.StatusOK, map[string]any{"id": 1})
	default:
		reply(http.StatusNotFound, map[string]string{"code": "NOT_FOUND", "error": "Not found"})
	}
}

func testGlobals(t *testing.T, api *reviewAPI) (*Globals, *bytes.Buffer) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	var out bytes.Buffer
	return &Globals{Server: srv.URL, Token: "tok", Timeout: 5 * time.Second, Plain: true, LogLevel: "error", out: &out}, &out
}

func TestStrikeThenRender(t *testing.T) {
	api := &reviewAPI{role: "consultant", text: "The cat sat."}
	g, out := testGlobals(t, api)

	strike := &StrikeCmd{Document: "doc_1", Selection: Selection{At: 4, Text: "cat "}}
	if err := strike.Run(g); err != nil {
		t.Fatalf("strike: %v", err)
	}
	if got := out.String(); got != "strikethrough:1 live\n" {
		t.Fatalf("strike output = %q", got)
	}

	out.Reset()
	if err := (&RenderCmd{Document: "doc_1"}).Run(g); err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "The [-cat -]^1sat.\n\n^1 delete \"cat \"\n"
	if got := out.String(); got != want {
		t.Fatalf("render output = %q, want %q", got, want)
	}
}

func TestAcceptSavesEditedText(t *testing.T) {
	api := &reviewAPI{
		role: "student",
		text: "The cat sat.",
		strikes: []annotation.StrikethroughRecord{
			{ID: 1, AnchorStart: 4, AnchorEnd: 8, Text: "cat ", Status: annotation.StatusLive},
		},
	}
	g, out := testGlobals(t, api)

	if err := (&AcceptCmd{Document: "doc_1", Key: "1"}).Run(g); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := out.String(); got != "strikethrough:1 accepted\n" {
		t.Fatalf("accept output = %q", got)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.text != "The sat." {
		t.Fatalf("saved text = %q", api.text)
	}
}

func TestConsultantCannotAccept(t *testing.T) {
	api := &reviewAPI{
		role: "consultant",
		text: "The cat sat.",
		strikes: []annotation.StrikethroughRecord{
			{ID: 1, AnchorStart: 4, AnchorEnd: 8, Text: "cat ", Status: annotation.StatusLive},
		},
	}
	g, _ := testGlobals(t, api)

	err := (&AcceptCmd{Document: "doc_1", Key: "1"}).Run(g)
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestOpenRequiresToken(t *testing.T) {
	g, _ := testGlobals(t, &reviewAPI{})
	g.Token = ""
	if err := (&RenderCmd{Document: "doc_1"}).Run(g); err == nil {
		t.Fatal("expected an error without a token")
	}
}
