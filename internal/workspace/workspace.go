// Package workspace provisions the directories the CLI runs in.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mylxsw/asteria/log"
)

const (
	sharedDir  = "shared_workspace"
	namedDir   = "workspace"
	uploadsDir = "files"
)

var ErrInvalidName = errors.New("invalid workspace name")

// Error reports a directory that could not be provisioned.
type Error struct {
	Path   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to create workspace %s: %s", e.Path, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Manager maps workspace names to directories under a base path.
type Manager struct {
	base string
}

func NewManager(base string) (*Manager, error) {
	if base == "" {
		base = "."
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace base %q: %w", base, err)
	}
	return &Manager{base: abs}, nil
}

func (m *Manager) Base() string { return m.base }

// Path returns the directory for name without creating it. An empty name
// selects the shared workspace.
func (m *Manager) Path(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return filepath.Join(m.base, sharedDir), nil
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(m.base, namedDir, name), nil
}

// Ensure creates the directory for name if needed and returns it.
func (m *Manager) Ensure(name string) (string, error) {
	path, err := m.Path(name)
	if err != nil {
		return "", err
	}
	if err := ensureDir(path); err != nil {
		return "", err
	}
	return path, nil
}

// UploadDir returns the directory that stores uploaded documents.
func (m *Manager) UploadDir() (string, error) {
	path := filepath.Join(m.base, uploadsDir)
	if err := ensureDir(path); err != nil {
		return "", err
	}
	return path, nil
}

func ensureDir(path string) error {
	if info, err := os.Stat(path); err == nil {
		if !info.IsDir() {
			return &Error{Path: path, Reason: "path exists and is not a directory"}
		}
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		werr := &Error{Path: path, Reason: describe(err), Err: err}
		log.Errorf("workspace: %v", werr)
		return werr
	}
	log.Debugf("workspace: created %s", path)
	return nil
}

func describe(err error) string {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return "permission denied"
	case errors.Is(err, syscall.ENOSPC):
		return "no space left on device"
	case errors.Is(err, syscall.EROFS):
		return "read-only file system"
	case errors.Is(err, syscall.ENAMETOOLONG):
		return "name too long"
	default:
		return err.Error()
	}
}
