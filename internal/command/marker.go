package command

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MarkerFile records the key of the last consumed request so the same command
// is not re-executed across restarts.
const MarkerFile = "previous.txt"

type Marker struct {
	path string
}

func NewMarker(dir string) *Marker {
	return &Marker{path: filepath.Join(dir, MarkerFile)}
}

// Last returns the key of the last consumed request, or "" if none was ever
// recorded.
func (m *Marker) Last() string {
	content, err := os.ReadFile(m.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(content))
}

func (m *Marker) Set(key string) error {
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(key+"\n"), 0644); err != nil {
		return fmt.Errorf("writing marker file: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("moving marker file into place: %w", err)
	}
	return nil
}
