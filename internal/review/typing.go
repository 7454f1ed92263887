package review

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"pingin/api/internal/annotation"
	"pingin/api/internal/overlay"
	"pingin/api/internal/rbac"
)

// Key names follow the browser's KeyboardEvent.key values.
const (
	KeyEnter     = "Enter"
	KeyEscape    = "Escape"
	KeyBackspace = "Backspace"
	KeyDelete    = "Delete"
)

var (
	// ErrTypingActive indicates a caret placement while a typing buffer is
	// already open. Only one buffer may be active.
	ErrTypingActive = errors.New("a typing buffer is already active")

	// ErrNoTyping indicates a key event with no typing buffer open.
	ErrNoTyping = errors.New("no typing buffer is active")
)

// typingBuffer holds text typed at a caret before it is committed as an
// insertion. It is visible only to its author.
type typingBuffer struct {
	at   int
	text []rune
}

func (t *typingBuffer) overlay() *overlay.Typing {
	if t == nil {
		return nil
	}
	return &overlay.Typing{At: t.at, Text: string(t.text)}
}

// OnCaretPlaced opens the typing buffer at the canonical offset under the
// rendered caret position and returns that offset.
func (s *Session) OnCaretPlaced(rendered int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLocked(rbac.ActionAnnotate); err != nil {
		return 0, err
	}
	if s.typing != nil {
		return 0, ErrTypingActive
	}
	at := s.resolverLocked().ResolvePoint(rendered)
	s.typing = &typingBuffer{at: at}
	s.selection = nil
	return at, nil
}

// Typing reports the open buffer's anchor and contents.
func (s *Session) Typing() (at int, text string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.typing == nil {
		return 0, "", false
	}
	return s.typing.at, string(s.typing.text), true
}

// OnTypingKey feeds one key to the typing buffer. Enter commits a non-blank
// buffer as an insertion and returns it; Escape discards the buffer. With no
// buffer open, Backspace or Delete strikes the pending selection.
func (s *Session) OnTypingKey(ctx context.Context, key string) (*annotation.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.typing == nil {
		if (key == KeyBackspace || key == KeyDelete) && s.selection != nil {
			a, err := s.strikeLocked(ctx)
			if err != nil {
				return nil, err
			}
			return &a, nil
		}
		return nil, ErrNoTyping
	}

	switch key {
	case KeyEnter:
		buf := s.typing
		s.typing = nil
		text := string(buf.text)
		if strings.TrimSpace(text) == "" {
			return nil, nil
		}
		if err := s.requireLocked(rbac.ActionAnnotate); err != nil {
			return nil, err
		}
		a, err := s.store.Create(ctx, annotation.Insertion{At: buf.at, Text: text})
		if err != nil {
			return nil, err
		}
		return &a, nil
	case KeyEscape:
		s.typing = nil
	case KeyBackspace:
		if n := len(s.typing.text); n > 0 {
			s.typing.text = s.typing.text[:n-1]
		}
	default:
		if utf8.RuneCountInString(key) == 1 {
			s.typing.text = append(s.typing.text, []rune(key)...)
		}
	}
	return nil, nil
}
