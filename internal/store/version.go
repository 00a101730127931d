package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

const (
	// VersionFile names the active storage subdirectory of a site root.
	VersionFile = "version"

	// DefaultVersion is activated when a site root has no marker yet.
	DefaultVersion = "default"
)

var versionPattern = regexp.MustCompile(`^[\w_\-]{1,64}(?:\(\d{1,5}\))?$`)

// ValidVersion reports whether name can be used as a storage version.
func ValidVersion(name string) bool {
	return versionPattern.MatchString(name)
}

// ReadVersion returns the active version of the site root. A missing
// marker returns an error satisfying os.IsNotExist.
func ReadVersion(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, VersionFile)) //nolint:gosec // site root is chosen by the operator
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(string(data))
	if !ValidVersion(name) {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidVersion)
	}
	return name, nil
}

// Activate points the version marker of root at name. The marker is
// replaced atomically so readers see either the old or the new version.
func Activate(root, name string) error {
	if !ValidVersion(name) {
		return fmt.Errorf("%q: %w", name, ErrInvalidVersion)
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return fmt.Errorf("failed to create site root: %w", err)
	}
	f, err := os.CreateTemp(root, VersionFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write version marker: %w", err)
	}
	tmp := f.Name()
	if _, err := f.WriteString(name); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write version marker: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write version marker: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(root, VersionFile)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to activate version %s: %w", name, err)
	}
	return nil
}

// CurrentDir returns the directory of the active version of root,
// activating DefaultVersion when no marker exists and the store is
// writable.
func CurrentDir(root string, readOnly bool) (string, error) {
	name, err := ReadVersion(root)
	if errors.Is(err, os.ErrNotExist) {
		if readOnly {
			return "", fmt.Errorf("no storage version in %s: %w", root, err)
		}
		name = DefaultVersion
		if err := Activate(root, name); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}
	return filepath.Join(root, name), nil
}

// OpenCurrent opens the active version of the site root.
func OpenCurrent(root string, opts Options) (*Store, error) {
	dir, err := CurrentDir(root, opts.ReadOnly)
	if err != nil {
		return nil, err
	}
	return Open(dir, opts)
}

// NextVersion returns base if no such subdirectory exists in root,
// otherwise the first free "base(n)".
func NextVersion(root, base string) string {
	name := base
	for n := 1; ; n++ {
		if _, err := os.Stat(filepath.Join(root, name)); os.IsNotExist(err) {
			return name
		}
		name = base + "(" + strconv.Itoa(n) + ")"
	}
}
