// Command redline reviews essays from the terminal against a running API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/alecthomas/kong"

	"pingin/api/internal/anchor"
	"pingin/api/internal/annotation"
	"pingin/api/internal/client"
	"pingin/api/internal/logging"
	"pingin/api/internal/review"
)

// Globals are shared by every command.
type Globals struct {
	Server   string        `help:"API base URL" env:"REDLINE_SERVER" default:"http://localhost:8787"`
	Token    string        `help:"Access token" env:"REDLINE_TOKEN"`
	Timeout  time.Duration `help:"Request timeout" default:"30s"`
	Plain    bool          `help:"Mark up with brackets instead of terminal styles"`
	LogLevel string        `name:"log-level" help:"Log level" default:"warn" enum:"debug,info,warn,error"`

	out      io.Writer
	mu       sync.Mutex
	syncErrs []error
}

var CLI struct {
	Globals

	Login   LoginCmd   `cmd:"" help:"Sign in and print an access token"`
	Render  RenderCmd  `cmd:"" help:"Show an essay with its live annotations"`
	Comment CommentCmd `cmd:"" help:"Comment on a passage"`
	Strike  StrikeCmd  `cmd:"" help:"Propose deleting a passage"`
	Insert  InsertCmd  `cmd:"" help:"Propose inserting text at a position"`
	Accept  AcceptCmd  `cmd:"" help:"Accept a proposal"`
	Reject  RejectCmd  `cmd:"" help:"Reject a proposal"`
	History HistoryCmd `cmd:"" help:"List saved versions of an essay"`
}

type LoginCmd struct {
	Email    string `arg:"" help:"Account email"`
	Password string `help:"Password" env:"REDLINE_PASSWORD" required:""`
}

func (c *LoginCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	token, err := client.SignIn(ctx, g.Server, c.Email, c.Password)
	if err != nil {
		return err
	}
	fmt.Fprintln(g.out, token)
	return nil
}

type RenderCmd struct {
	Document string `arg:"" help:"Document id"`
}

func (c *RenderCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	sess, err := g.open(ctx, c.Document)
	if err != nil {
		return err
	}
	seq, err := sess.Render()
	var stale annotation.StaleAnchor
	if err != nil && !errors.As(err, &stale) {
		return err
	}
	printer{out: g.out, plain: g.Plain}.document(seq, sess.Store())
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	return nil
}

// Selection flags name a passage the way a reader sees it: the text and
// where it starts in the rendered view.
type Selection struct {
	At   int    `help:"Rendered offset where the passage starts" default:"0"`
	Text string `help:"The passage as shown by render" required:""`
}

func (s Selection) anchor() anchor.Selection {
	return anchor.Selection{RenderedStart: s.At, RenderedEnd: s.At + len([]rune(s.Text)), Text: s.Text}
}

type CommentCmd struct {
	Document string `arg:"" help:"Document id"`
	Body     string `arg:"" help:"Comment text"`
	Selection
}

func (c *CommentCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	sess, err := g.open(ctx, c.Document)
	if err != nil {
		return err
	}
	if _, err := sess.OnSelectionComplete(c.anchor()); err != nil {
		return err
	}
	a, err := sess.CommentSelection(ctx, c.Body)
	if err != nil {
		return err
	}
	return g.settle(sess, a)
}

type StrikeCmd struct {
	Document string `arg:"" help:"Document id"`
	Selection
}

func (c *StrikeCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	sess, err := g.open(ctx, c.Document)
	if err != nil {
		return err
	}
	if _, err := sess.OnSelectionComplete(c.anchor()); err != nil {
		return err
	}
	a, err := sess.StrikeSelection(ctx)
	if err != nil {
		return err
	}
	return g.settle(sess, a)
}

type InsertCmd struct {
	Document string `arg:"" help:"Document id"`
	At       int    `arg:"" help:"Rendered offset of the caret"`
	Text     string `arg:"" help:"Text to insert"`
}

// Run types the text into a buffer at the caret and commits it, the same
// path a keyboard takes.
func (c *InsertCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	sess, err := g.open(ctx, c.Document)
	if err != nil {
		return err
	}
	if _, err := sess.OnCaretPlaced(c.At); err != nil {
		return err
	}
	for _, r := range c.Text {
		if _, err := sess.OnTypingKey(ctx, string(r)); err != nil {
			return err
		}
	}
	a, err := sess.OnTypingKey(ctx, review.KeyEnter)
	if err != nil {
		return err
	}
	if a == nil {
		return errors.New("nothing to insert")
	}
	return g.settle(sess, *a)
}

type AcceptCmd struct {
	Document string `arg:"" help:"Document id"`
	Key      string `arg:"" help:"Annotation key as shown by render"`
}

func (c *AcceptCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	sess, err := g.open(ctx, c.Document)
	if err != nil {
		return err
	}
	a, err := sess.OnAccept(ctx, c.Key)
	if err != nil {
		return err
	}
	return g.settle(sess, a)
}

type RejectCmd struct {
	Document string `arg:"" help:"Document id"`
	Key      string `arg:"" help:"Annotation key as shown by render"`
}

func (c *RejectCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	sess, err := g.open(ctx, c.Document)
	if err != nil {
		return err
	}
	a, err := sess.OnReject(ctx, c.Key)
	if err != nil {
		return err
	}
	return g.settle(sess, a)
}

type HistoryCmd struct {
	Document string `arg:"" help:"Document id"`
	Version  string `help:"Print the text of one version instead of the list"`
}

func (c *HistoryCmd) Run(g *Globals) error {
	ctx, cancel := g.context()
	defer cancel()
	api := g.client()
	if c.Version != "" {
		text, err := api.VersionText(ctx, c.Document, c.Version)
		if err != nil {
			return err
		}
		fmt.Fprintln(g.out, text)
		return nil
	}
	commits, err := api.History(ctx, c.Document)
	if err != nil {
		return err
	}
	printer{out: g.out, plain: g.Plain}.history(commits)
	return nil
}

func (g *Globals) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), g.Timeout)
}

func (g *Globals) client() *client.Client {
	return client.New(g.Server, g.Token)
}

// open starts a review session as the signed-in user. Sync failures from
// the background writes are collected for settle.
func (g *Globals) open(ctx context.Context, documentID string) (*review.Session, error) {
	if strings.TrimSpace(g.Token) == "" {
		return nil, errors.New("no access token; run redline login or set REDLINE_TOKEN")
	}
	api := g.client()
	me, err := api.Whoami(ctx)
	if err != nil {
		return nil, fmt.Errorf("whoami: %w", err)
	}
	logger := logging.New(os.Stderr, logging.ParseLevel(g.LogLevel), logging.FormatText)
	return review.Open(ctx, api, documentID, me.Role,
		annotation.WithLogger(logger),
		annotation.WithSyncObserver(g.observe),
	)
}

func (g *Globals) observe(ev annotation.SyncEvent) {
	if ev.Err == nil {
		return
	}
	g.mu.Lock()
	g.syncErrs = append(g.syncErrs, ev.Err)
	g.mu.Unlock()
}

// settle waits for the background sync and reports how the annotation
// ended up.
func (g *Globals) settle(sess *review.Session, a annotation.Annotation) error {
	sess.Wait()
	g.mu.Lock()
	err := errors.Join(g.syncErrs...)
	g.mu.Unlock()
	if err != nil {
		return err
	}
	final, ok := sess.Store().Get(a.Key)
	if !ok {
		final = a
	}
	fmt.Fprintf(g.out, "%s %s\n", final, final.State)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("redline"),
		kong.Description("Comment on, strike through and insert into essays under review."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)
	CLI.Globals.out = os.Stdout
	err := ctx.Run(&CLI.Globals)
	ctx.FatalIfErrorf(err)
}
