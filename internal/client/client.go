// Package client talks to the review API over HTTP. Client implements
// annotation.Remote, so an annotation store can sync against a running
// server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pingin/api/internal/annotation"
	"pingin/api/internal/gitrepo"
	"pingin/api/internal/rbac"
	"pingin/api/internal/search"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx response. Code is the server's error code, for
// example ANCHOR_OVERLAP or STALE_ANCHOR.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
}

// Is maps server error codes onto the annotation sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case annotation.ErrOverlap:
		return e.Code == "ANCHOR_OVERLAP"
	case annotation.ErrStaleAnchor:
		return e.Code == "STALE_ANCHOR"
	case annotation.ErrNotLive:
		return e.Code == "NOT_LIVE"
	case annotation.ErrNotFound:
		return e.Status == http.StatusNotFound
	}
	return false
}

type Client struct {
	baseURL string
	token   string
	do      func(*http.Request) (*http.Response, error)
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which times out after 30s.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.do = hc.Do }
}

func New(baseURL, token string, opts ...Option) *Client {
	hc := &http.Client{Timeout: defaultTimeout}
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, do: hc.Do}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ annotation.Remote = (*Client)(nil)

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var payload struct {
		Code  string `json:"code"`
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &payload); err == nil {
		apiErr.Code, apiErr.Message = payload.Code, payload.Error
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Code == "" {
		apiErr.Code = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func documentPath(documentID string, rest ...string) string {
	return "/api/documents/" + url.PathEscape(documentID) + strings.Join(rest, "")
}

func idPath(kind string, id int64, action string) string {
	path := "/api/" + kind + "/" + strconv.FormatInt(id, 10)
	if action != "" {
		path += "/" + action
	}
	return path
}

func (c *Client) GetDocument(ctx context.Context, documentID string) (annotation.DocumentRecord, error) {
	var doc annotation.DocumentRecord
	err := c.call(ctx, http.MethodGet, documentPath(documentID), nil, &doc)
	return doc, err
}

func (c *Client) SaveDocument(ctx context.Context, documentID, text string) error {
	return c.call(ctx, http.MethodPut, documentPath(documentID), map[string]string{"text": text}, nil)
}

func (c *Client) ListComments(ctx context.Context, documentID string) ([]annotation.CommentRecord, error) {
	var out struct {
		Comments []annotation.CommentRecord `json:"comments"`
	}
	err := c.call(ctx, http.MethodGet, documentPath(documentID, "/comments"), nil, &out)
	return out.Comments, err
}

func (c *Client) CreateComment(ctx context.Context, documentID string, start, end int, body string) (annotation.CommentRecord, error) {
	var rec annotation.CommentRecord
	err := c.call(ctx, http.MethodPost, documentPath(documentID, "/comments"),
		map[string]any{"anchor_start": start, "anchor_end": end, "body": body}, &rec)
	return rec, err
}

func (c *Client) UpdateComment(ctx context.Context, commentID int64, body string) (annotation.CommentRecord, error) {
	var rec annotation.CommentRecord
	err := c.call(ctx, http.MethodPatch, idPath("comments", commentID, ""), map[string]string{"body": body}, &rec)
	return rec, err
}

func (c *Client) ResolveComment(ctx context.Context, commentID int64) error {
	return c.call(ctx, http.MethodPost, idPath("comments", commentID, "resolve"), nil, nil)
}

func (c *Client) ListStrikethroughs(ctx context.Context, documentID string) ([]annotation.StrikethroughRecord, error) {
	var out struct {
		Strikethroughs []annotation.StrikethroughRecord `json:"strikethroughs"`
	}
	err := c.call(ctx, http.MethodGet, documentPath(documentID, "/strikethroughs"), nil, &out)
	return out.Strikethroughs, err
}

func (c *Client) CreateStrikethrough(ctx context.Context, documentID string, start, end int, text string) (annotation.StrikethroughRecord, error) {
	var rec annotation.StrikethroughRecord
	err := c.call(ctx, http.MethodPost, documentPath(documentID, "/strikethroughs"),
		map[string]any{"anchor_start": start, "anchor_end": end, "text": text}, &rec)
	return rec, err
}

func (c *Client) AcceptStrikethrough(ctx context.Context, strikethroughID int64) error {
	return c.call(ctx, http.MethodPost, idPath("strikethroughs", strikethroughID, "accept"), nil, nil)
}

func (c *Client) RejectStrikethrough(ctx context.Context, strikethroughID int64) error {
	return c.call(ctx, http.MethodPost, idPath("strikethroughs", strikethroughID, "reject"), nil, nil)
}

func (c *Client) ListInsertions(ctx context.Context, documentID string) ([]annotation.InsertionRecord, error) {
	var out struct {
		Insertions []annotation.InsertionRecord `json:"insertions"`
	}
	err := c.call(ctx, http.MethodGet, documentPath(documentID, "/insertions"), nil, &out)
	return out.Insertions, err
}

func (c *Client) CreateInsertion(ctx context.Context, documentID string, at int, text string) (annotation.InsertionRecord, error) {
	var rec annotation.InsertionRecord
	err := c.call(ctx, http.MethodPost, documentPath(documentID, "/insertions"),
		map[string]any{"position": at, "text": text}, &rec)
	return rec, err
}

func (c *Client) AcceptInsertion(ctx context.Context, insertionID int64) error {
	return c.call(ctx, http.MethodPost, idPath("insertions", insertionID, "accept"), nil, nil)
}

func (c *Client) RejectInsertion(ctx context.Context, insertionID int64) error {
	return c.call(ctx, http.MethodPost, idPath("insertions", insertionID, "reject"), nil, nil)
}

func (c *Client) History(ctx context.Context, documentID string) ([]gitrepo.Commit, error) {
	var out struct {
		Commits []gitrepo.Commit `json:"commits"`
	}
	err := c.call(ctx, http.MethodGet, documentPath(documentID, "/history"), nil, &out)
	return out.Commits, err
}

func (c *Client) Search(ctx context.Context, text string) (search.Response, error) {
	var out search.Response
	err := c.call(ctx, http.MethodGet, "/api/search?q="+url.QueryEscape(text), nil, &out)
	return out, err
}

// SignIn exchanges credentials for an access token.
func SignIn(ctx context.Context, baseURL, email, password string, opts ...Option) (string, error) {
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	c := New(baseURL, "", opts...)
	if err := c.call(ctx, http.MethodPost, "/api/auth/signin", map[string]string{"email": email, "password": password}, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", errors.New("sign in: empty access token")
	}
	return out.AccessToken, nil
}

// VersionText fetches the document text as of a saved version.
func (c *Client) VersionText(ctx context.Context, documentID, hash string) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	err := c.call(ctx, http.MethodGet, documentPath(documentID, "/history/", url.PathEscape(hash)), nil, &out)
	return out.Text, err
}

// Identity is the caller as the server sees it.
type Identity struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	Role     rbac.Role `json:"role"`
}

func (c *Client) Whoami(ctx context.Context) (Identity, error) {
	var out Identity
	err := c.call(ctx, http.MethodGet, "/api/session", nil, &out)
	return out, err
}
