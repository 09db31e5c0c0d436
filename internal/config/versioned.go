package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/astrohaus/stationd/internal/faults"
)

// Versioned configuration files are named <prefix>_<free-text>_<version>.toml:
// exactly three underscore-delimited segments after stripping the extension,
// with a non-negative integer version. The currently adopted file is always
// referenced through a stable symlink alias that atomically repoints after
// validation.

// ParseVersion extracts the version number from a versioned configuration
// filename.
func ParseVersion(filename string) (int, error) {
	name, ok := strings.CutSuffix(filename, ".toml")
	if !ok {
		return 0, fmt.Errorf("%q is not a versioned configuration filename: missing .toml extension", filename)
	}
	parts := strings.Split(name, "_")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%q is not a versioned configuration filename: expected three underscore-delimited segments", filename)
	}
	version, err := strconv.Atoi(parts[2])
	if err != nil || version < 0 {
		return 0, fmt.Errorf("%q is not a versioned configuration filename: %q is not a non-negative integer", filename, parts[2])
	}
	return version, nil
}

// IsVersionedName reports whether filename follows the versioned
// configuration naming scheme.
func IsVersionedName(filename string) bool {
	_, err := ParseVersion(filename)
	return err == nil
}

// ListVersioned returns the versioned configuration filenames in dir whose
// name starts with stem (e.g. "station_config"). No recursion.
func ListVersioned(dir, stem string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing configuration folder: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, stem+"_") && IsVersionedName(name) {
			names = append(names, name)
		}
	}
	return names, nil
}

// BestVersioned picks the filename with the highest version. Equal versions
// are broken by name so the choice stays deterministic.
func BestVersioned(filenames []string) (string, error) {
	if len(filenames) == 0 {
		return "", fmt.Errorf("no versioned configuration files to choose from")
	}
	sorted := append([]string(nil), filenames...)
	sort.Strings(sorted)

	best := ""
	bestVersion := -1
	for _, name := range sorted {
		version, err := ParseVersion(name)
		if err != nil {
			return "", err
		}
		if version > bestVersion {
			best = name
			bestVersion = version
		}
	}
	return best, nil
}

// CurrentFile resolves the alias in dir to the versioned file it points at.
func CurrentFile(dir, alias string) (string, error) {
	path := filepath.Join(dir, alias)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("failed to find the configuration file %s: %w", path, err)
	}
	target, err := os.Readlink(path)
	if err != nil {
		// Plain file, not a symlink.
		return alias, nil
	}
	return filepath.Base(target), nil
}

// Adopt atomically repoints the alias in dir at target and deletes every
// other versioned file with the same stem. It takes the shared configuration
// file lock so Dynamic readers never observe the switch mid-way. The target
// must already be present in dir and fully validated - a crash before Adopt
// leaves the old alias intact, a crash after leaves the new one.
func Adopt(ctx context.Context, locks *LockSet, dir, alias, stem, target string) error {
	if _, err := os.Stat(filepath.Join(dir, target)); err != nil {
		return faults.Errorf(faults.Distribution, "adoption target missing: %s", err)
	}

	lock := locks.FileLock()
	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer lock.Unlock()

	aliasPath := filepath.Join(dir, alias)
	tmp := aliasPath + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return faults.Errorf(faults.Distribution, "clearing stale alias: %s", err)
	}
	if err := os.Symlink(target, tmp); err != nil {
		return faults.Errorf(faults.Distribution, "creating alias symlink: %s", err)
	}
	if err := os.Rename(tmp, aliasPath); err != nil {
		return faults.Errorf(faults.Distribution, "repointing alias: %s", err)
	}

	names, err := ListVersioned(dir, stem)
	if err != nil {
		return faults.Errorf(faults.Distribution, "garbage collecting superseded files: %s", err)
	}
	for _, name := range names {
		if name == target {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return faults.Errorf(faults.Distribution, "deleting superseded file %s: %s", name, err)
		}
	}
	return nil
}
