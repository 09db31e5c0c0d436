package command

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/astrohaus/stationd/internal/concurrency"
)

// Request is a command waiting to be executed. Key is its dedup identity:
// a request whose key matches the last consumed one is dropped. The consume
// hook removes the backing artifact (e.g. the drop file) once the request has
// been fully handled.
type Request struct {
	ID      string
	Text    string
	Key     string
	consume func() error
}

// NewRequest builds a request delivered over the operator channel or the
// local API. Dedup is textual, same as the file-drop path: a resent frame
// with identical text does not execute twice even under a fresh id.
func NewRequest(id, text string) *Request {
	return &Request{ID: id, Text: text, Key: text}
}

// Consume removes whatever artifact produced the request. Safe to call on
// requests without one.
func (r *Request) Consume() error {
	if r.consume == nil {
		return nil
	}
	return r.consume()
}

// Source yields pending command requests. Poll returns (nil, nil) when
// nothing is waiting.
type Source interface {
	Poll(ctx context.Context) (*Request, error)
}

// FileDrop reads commands dropped as command_*.txt files in a local folder,
// typically over scp. At most one drop file may be present at a time.
type FileDrop struct {
	Dir string
}

const dropPattern = "command_*.txt"

func (f *FileDrop) Poll(ctx context.Context) (*Request, error) {
	matches, err := filepath.Glob(filepath.Join(f.Dir, dropPattern))
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", f.Dir, err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	if len(matches) > 1 {
		sort.Strings(matches)
		return nil, fmt.Errorf("found %d command files in %s, expected at most one: %s",
			len(matches), f.Dir, strings.Join(basenames(matches), ", "))
	}

	path := matches[0]
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading command file %s: %w", path, err)
	}
	text := strings.TrimSpace(string(content))
	return &Request{
		ID:      uuid.NewString(),
		Text:    text,
		Key:     text,
		consume: func() error { return os.Remove(path) },
	}, nil
}

func basenames(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}

// Inbox holds at most one pending request deposited by the operator channel
// or the local API. A second deposit before the executor polls replaces the
// first.
type Inbox struct {
	cell concurrency.Cell[*Request]
}

func (i *Inbox) Put(req *Request) { i.cell.Swap(req) }

func (i *Inbox) Poll(ctx context.Context) (*Request, error) {
	return i.cell.Swap(nil), nil
}
