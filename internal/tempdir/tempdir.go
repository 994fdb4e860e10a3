// Package tempdir manages per-process-scoped scratch directories used
// for staged compilation output and format-file builds, with orphan
// reclamation across daemon restarts.
package tempdir

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"
)

// DefaultRoot is the registry root used when no override is configured.
func DefaultRoot() string {
	return filepath.Join(os.TempDir(), ".tex-fast-recompile-tmp")
}

// Registry creates and reclaims entries under Root. Root is explicit
// (not a package-level global) so tests can point it at a scratch
// directory.
type Registry struct {
	Root string
	pid  int
}

// New returns a Registry rooted at root, creating it if necessary. pid
// defaults to the current process id; overridable for tests.
func New(root string) (*Registry, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Registry{Root: root, pid: os.Getpid()}, nil
}

// Entry is an owned scratch directory. Remove must be called exactly
// once the instance that owns it has finished with it.
type Entry struct {
	Path string
}

// Create makes a fresh "<pid>-<uuid>" directory under the registry
// root and returns an owned Entry.
func (r *Registry) Create() (*Entry, error) {
	name := strconv.Itoa(r.pid) + "-" + uuid.NewString()
	path := filepath.Join(r.Root, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	return &Entry{Path: path}, nil
}

// Remove deletes the entry's directory, ignoring a not-found race with
// a concurrent cleanup.
func (e *Entry) Remove() error {
	if e == nil {
		return nil
	}
	err := os.RemoveAll(e.Path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GCDead removes every entry in the registry whose leading "<pid>-"
// prefix names a process that is no longer alive. No live process's
// directory is ever touched: only pids that process.PidExists reports
// as gone are reclaimed.
func (r *Registry) GCDead() error {
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pidStr, _, found := strings.Cut(e.Name(), "-")
		if !found {
			continue
		}
		pid, err := strconv.ParseInt(pidStr, 10, 32)
		if err != nil {
			continue
		}
		alive, err := process.PidExists(int32(pid))
		if err != nil || alive {
			continue
		}
		_ = os.RemoveAll(filepath.Join(r.Root, e.Name()))
	}
	return nil
}
