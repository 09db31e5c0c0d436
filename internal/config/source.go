package config

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Source resolves the current configuration document and reports whether it
// has changed since last read.
//
// Global returns the full document and Section a worker-scoped sub-mapping
// (exact or suffix key match). Both return deep copies. ModTime exposes the
// last-observed timestamp of the backing file, when there is one, so workers
// can detect "configuration changed since I last looked" without re-parsing.
type Source interface {
	Global() (Document, error)
	Section(name string) (Section, error)
	ModTime() (time.Time, bool)
}

// Static parses the backing file once at construction and never re-reads.
type Static struct {
	doc Document
}

func NewStatic(path string, vars map[string]string) (*Static, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to find configuration file %s: %w", path, err)
	}
	doc, err := ParseFile(path, vars)
	if err != nil {
		return nil, err
	}
	return &Static{doc: doc}, nil
}

func (s *Static) Global() (Document, error) { return s.doc.Copy(), nil }

func (s *Static) Section(name string) (Section, error) {
	sec, err := SectionFor(s.doc, name)
	if err != nil {
		return nil, err
	}
	return sec.Copy(), nil
}

func (s *Static) ModTime() (time.Time, bool) { return time.Time{}, false }

// Memory wraps a document literal, for composition and tests.
type Memory struct {
	mu  sync.Mutex
	doc Document
}

func NewMemory(doc Document) *Memory { return &Memory{doc: doc} }

func (m *Memory) Global() (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Copy(), nil
}

func (m *Memory) Section(name string) (Section, error) {
	doc, _ := m.Global()
	return SectionFor(doc, name)
}

func (m *Memory) ModTime() (time.Time, bool) { return time.Time{}, false }

// Replace swaps the wrapped document, for tests that simulate edits.
func (m *Memory) Replace(doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = doc.Copy()
}

// Dynamic re-reads the backing file when its modification timestamp differs
// from the last observed one and serves the cached parse otherwise. Every
// stat and read happens under the shared configuration file lock, so a
// reader never observes a file mid-adoption.
type Dynamic struct {
	path string
	vars map[string]string
	lock *NamedLock

	mu    sync.Mutex
	mtime time.Time
	doc   Document
}

func NewDynamic(path string, vars map[string]string, locks *LockSet) *Dynamic {
	return &Dynamic{path: path, vars: vars, lock: locks.FileLock()}
}

func (d *Dynamic) Global() (Document, error) {
	d.lock.MustLock()
	defer d.lock.Unlock()

	info, err := os.Stat(d.path)
	if err != nil {
		return nil, fmt.Errorf("failed to find configuration file %s: %w", d.path, err)
	}

	d.mu.Lock()
	cached := d.doc
	sameStamp := !d.mtime.IsZero() && info.ModTime().Equal(d.mtime)
	d.mu.Unlock()

	if cached != nil && sameStamp {
		return cached.Copy(), nil
	}

	doc, err := ParseFile(d.path, d.vars)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.doc = doc
	d.mtime = info.ModTime()
	d.mu.Unlock()
	return doc.Copy(), nil
}

func (d *Dynamic) Section(name string) (Section, error) {
	doc, err := d.Global()
	if err != nil {
		return nil, err
	}
	return SectionFor(doc, name)
}

// ModTime returns the timestamp observed during the most recent re-read. It
// deliberately does not stat the file: change detection between reads is
// driven by whoever calls Global (the supervisor does, every cycle).
func (d *Dynamic) ModTime() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mtime, !d.mtime.IsZero()
}
