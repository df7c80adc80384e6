// Package paths provides centralized path resolution for tabclaw.
// This package has NO internal imports (only stdlib) to avoid import cycles.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// BaseDir returns the tabclaw base directory (~/.tabclaw).
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".tabclaw"), nil
}

// DataPath returns a path within the tabclaw data directory
// (~/.tabclaw/<subpath>).
func DataPath(subpath string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// ConfigPath returns the active config file path.
// Priority: ./tabclaw.json or ./tabclaw.toml (current dir), then the same
// names under ~/.tabclaw. Returns ("", nil) if no config exists - that is a
// valid state, not an error.
func ConfigPath() (string, error) {
	names := []string{"tabclaw.json", "tabclaw.toml"}
	for _, name := range names {
		if _, err := os.Stat(name); err == nil {
			abs, err := filepath.Abs(name)
			if err != nil {
				return "", fmt.Errorf("failed to get absolute path: %w", err)
			}
			return abs, nil
		}
	}
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	for _, name := range names {
		p := filepath.Join(base, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// StorePath returns the default settings database path
// (~/.tabclaw/tabclaw.db).
func StorePath() (string, error) {
	return DataPath("tabclaw.db")
}

// EnsureDir creates dir (and parents) if missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
