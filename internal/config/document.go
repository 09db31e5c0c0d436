// Package config resolves the station's declarative configuration document
// from its backing store and detects when it has changed.
//
// A document is a two-level TOML mapping: top-level keys are either the
// reserved "main" key or the name of a worker kind, values are worker-scoped
// mappings of scalars and paths. Documents are handed out as deep copies and
// never mutated in place.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tiendc/go-deepcopy"

	"github.com/astrohaus/stationd/internal/faults"
)

// MainKey is the reserved top-level key holding the supervisor's own
// configuration. Every other top-level key names a worker kind.
const MainKey = "main"

type Section map[string]any

type Document map[string]Section

// Copy returns a deep copy of the document.
func (d Document) Copy() Document {
	var out Document
	if err := deepcopy.Copy(&out, d); err != nil {
		// Documents come from TOML and only hold scalars, slices and maps.
		panic(fmt.Sprintf("copying configuration document: %s", err))
	}
	return out
}

// Copy returns a deep copy of the section.
func (s Section) Copy() Section {
	var out Section
	if err := deepcopy.Copy(&out, s); err != nil {
		panic(fmt.Sprintf("copying configuration section: %s", err))
	}
	return out
}

// Float reads a numeric value from the section. TOML decodes numbers as
// int64 or float64 depending on how they were spelled.
func (s Section) Float(key string) (float64, error) {
	raw, ok := s[key]
	if !ok {
		return 0, faults.Errorf(faults.Configuration, "missing required key %q", key)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	default:
		return 0, faults.Errorf(faults.Configuration, "value of key %q (%v) is not a number", key, raw)
	}
}

// String reads a string value from the section.
func (s Section) String(key string) (string, error) {
	raw, ok := s[key]
	if !ok {
		return "", faults.Errorf(faults.Configuration, "missing required key %q", key)
	}
	v, ok := raw.(string)
	if !ok {
		return "", faults.Errorf(faults.Configuration, "value of key %q (%v) is not a string", key, raw)
	}
	return v, nil
}

// Duration reads a numeric value from the section as seconds.
func (s Section) Duration(key string) (time.Duration, error) {
	secs, err := s.Float(key)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Parse decodes a TOML document. Top-level values that are not tables are
// rejected: the document format is strictly two-level. A namespaced header
// like [workers.heartbeat] decodes as nested tables; those are flattened back
// into the dotted top-level key so suffix resolution sees the full name.
func Parse(content string) (Document, error) {
	raw := map[string]any{}
	if _, err := toml.Decode(content, &raw); err != nil {
		return nil, faults.Errorf(faults.Configuration, "parsing configuration: %s", err)
	}

	doc := Document{}
	for key, val := range raw {
		table, ok := val.(map[string]any)
		if !ok {
			return nil, faults.Errorf(faults.Configuration, "top-level key %q is not a table", key)
		}
		flatten(doc, key, table)
	}
	return doc, nil
}

// flatten records table under key, recursing with dotted keys while the
// table holds nothing but tables. Sections hold scalars, so a table of
// tables can only be a namespace.
func flatten(doc Document, key string, table map[string]any) {
	if len(table) == 0 || !allTables(table) {
		doc[key] = Section(table)
		return
	}
	for sub, val := range table {
		flatten(doc, key+"."+sub, val.(map[string]any))
	}
}

func allTables(table map[string]any) bool {
	for _, val := range table {
		if _, ok := val.(map[string]any); !ok {
			return false
		}
	}
	return true
}

// ParseFile reads and decodes a TOML document, expanding ${VAR} references
// from the given variables first and the process environment second.
func ParseFile(path string, vars map[string]string) (Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading configuration file: %w", err)
	}
	expanded := os.Expand(string(content), func(name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		return os.Getenv(name)
	})
	doc, err := Parse(expanded)
	if err != nil {
		return nil, fmt.Errorf("configuration file %s: %w", path, err)
	}
	return doc, nil
}

// SectionFor finds the worker-scoped section for name by exact match first,
// then by suffix match against the document's top-level keys.
func SectionFor(doc Document, name string) (Section, error) {
	if sec, ok := doc[name]; ok {
		return sec, nil
	}
	for key, sec := range doc {
		if key != MainKey && strings.HasSuffix(key, name) {
			return sec, nil
		}
	}
	return nil, faults.Errorf(faults.Configuration, "failed to find the key %q in the configuration", name)
}
