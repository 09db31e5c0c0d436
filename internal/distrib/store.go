// Package distrib discovers, validates and atomically adopts newer versioned
// configuration documents from a remote source.
package distrib

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// Store lists and fetches files at a remote location.
type Store interface {
	List(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, name, dir string) error
}

// HTTPStore reads a plain HTTP directory index: List scrapes the anchor tags
// of the index page, Fetch downloads one file into dir through a temporary
// name so a partial download is never visible under its final name.
type HTTPStore struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	return &HTTPStore{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPStore) List(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.BaseURL+"/", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing files at %s: %w", s.BaseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("listing files at %s: server status %d", s.BaseURL, resp.StatusCode)
	}

	var names []string
	tokenizer := html.NewTokenizer(resp.Body)
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if tokenizer.Err() == io.EOF {
				return names, nil
			}
			return nil, fmt.Errorf("parsing index page of %s: %w", s.BaseURL, tokenizer.Err())
		case html.StartTagToken:
			token := tokenizer.Token()
			if token.Data != "a" {
				continue
			}
			for _, attr := range token.Attr {
				if attr.Key == "href" && attr.Val != "" {
					names = append(names, filepath.Base(attr.Val))
				}
			}
		}
	}
}

func (s *HTTPStore) Fetch(ctx context.Context, name, dir string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", s.BaseURL+"/"+name, nil)
	if err != nil {
		return err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("downloading %s: server status %d", name, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, "."+name+"-*")
	if err != nil {
		return fmt.Errorf("creating download file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("downloading %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing download file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("moving download into place: %w", err)
	}
	return nil
}
