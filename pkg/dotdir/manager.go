// Package dotdir manages the .ctxstore/ and ~/.ctxstore directories.
//
// The directory holds config.toml and, when no storage descriptor is
// configured, the default SQLite context store.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// dirName is the name of the ctxstore directory.
	dirName = ".ctxstore"

	// storeFile is the default SQLite store inside the ctxstore directory.
	storeFile = "ctxstore.db"
)

type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// Target returns the target absolute path to a .ctxstore/ directory.
// Order of precedence is as follows:
//  1. Provided override, created if missing
//  2. Local ./.ctxstore/ dir
//  3. Home ~/.ctxstore/ dir
//  4. If none found, returns an empty string
func (m *Manager) Target(overrideDir string) (string, error) {
	switch {
	case overrideDir != "":
		if err := os.MkdirAll(overrideDir, 0o755); err != nil {
			return "", fmt.Errorf("creating ctxstore directory %s: %w", overrideDir, err)
		}
		return filepath.Abs(overrideDir)

	case m.localDirExists():
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("getting current directory: %w", err)
		}
		return filepath.Join(cwd, dirName), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	dir := filepath.Join(home, dirName)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", nil
	}
	return dir, nil
}

// Ensure is like Target but creates ~/.ctxstore/ when no directory is found.
func (m *Manager) Ensure(overrideDir string) (string, error) {
	dir, err := m.Target(overrideDir)
	if err != nil || dir != "" {
		return dir, err
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	dir = filepath.Join(home, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating ctxstore directory %s: %w", dir, err)
	}
	return dir, nil
}

// DefaultDescriptor returns the storage descriptor used when none is
// configured: a SQLite database inside the resolved ctxstore directory.
func (m *Manager) DefaultDescriptor(overrideDir string) (string, error) {
	dir, err := m.Ensure(overrideDir)
	if err != nil {
		return "", err
	}
	return "sqlite://" + filepath.Join(dir, storeFile), nil
}

// localDirExists checks whether a .ctxstore/ directory exists in the current
// working directory.
func (m *Manager) localDirExists() bool {
	cwd, err := os.Getwd()
	if err != nil {
		return false
	}

	info, err := os.Stat(filepath.Join(cwd, dirName))
	return err == nil && info.IsDir()
}
