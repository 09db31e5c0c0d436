package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// GlobalsFile is an optional flat table of string variables living next to
// the configuration file. Its values are substituted into ${VAR} references
// before a document is parsed, ahead of the process environment.
const GlobalsFile = "globals.toml"

// Globals reads the variable table from dir. A missing file yields an empty
// map.
func Globals(dir string) (map[string]string, error) {
	path := filepath.Join(dir, GlobalsFile)
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	vars := map[string]string{}
	if _, err := toml.Decode(string(content), &vars); err != nil {
		return nil, fmt.Errorf("failed to (toml) parse %s: %w", path, err)
	}
	return vars, nil
}
