package compiler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kpym/tex-fast-recompile/internal/tempdir"
)

// stagedFallbackExtensions is the best-effort list of auxiliary file
// extensions copied into the temp output directory when the real
// output directory's path contains the platform path separator (and so
// cannot be safely prepended onto TEXINPUTS). It is known to miss
// sub-aux formats; SPEC_FULL.md does not promise correctness here.
var stagedFallbackExtensions = []string{
	"aux", "bcf", "fls", "idx", "ind", "lof", "lot", "out", "toc", "blg", "ilg", "xdv",
}

// Staged wraps a Direct compiler instance against a daemon-owned
// temporary output directory, mirroring inputs in and artifacts out so
// the user's real output directory only ever sees complete files.
type Staged struct {
	registry *tempdir.Registry
	cfg      Config

	entry           *tempdir.Entry
	wrapped         *Direct
	exited          bool
	onMirrorFailure func(error)
}

// NewStaged returns a Staged compiler instance for cfg, using registry
// to acquire its private temp directory on Enter.
func NewStaged(registry *tempdir.Registry, cfg Config) *Staged {
	return &Staged{registry: registry, cfg: cfg}
}

// OnMirrorFailure sets a callback invoked (instead of propagating an
// error from Finish) when mirroring staged artifacts back to the real
// output directory fails. Mirroring happens after the compile already
// succeeded, so this is reported, not fatal.
func (s *Staged) OnMirrorFailure(f func(error)) { s.onMirrorFailure = f }

func (s *Staged) OutputDirectory() string { return s.cfg.OutputDirectory }

// Enter implements Instance.
func (s *Staged) Enter(ctx context.Context) error {
	entry, err := s.registry.Create()
	if err != nil {
		return err
	}
	s.entry = entry

	wrappedCfg := s.cfg
	wrappedCfg.OutputDirectory = entry.Path
	wrappedCfg.PauseAtBeginDocumentEnd = true // begindocument hooks already ran by resume time; safe under staging

	if containsPathListSeparator(s.cfg.OutputDirectory) {
		mirrorAuxFilesIn(s.cfg.OutputDirectory, entry.Path, s.cfg.Jobname)
		wrappedCfg.Env = s.cfg.Env
	} else {
		wrappedCfg.Env = prependTexinputs(s.cfg.Env, s.cfg.OutputDirectory)
	}

	s.wrapped = NewDirect(wrappedCfg)
	if err := s.wrapped.Enter(ctx); err != nil {
		return err
	}
	return nil
}

// Finish implements Instance.
func (s *Staged) Finish(ctx context.Context, dst io.Writer) (bool, error) {
	ok, err := s.wrapped.Finish(ctx, dst)
	if err != nil {
		return false, err
	}
	if ok {
		if mirrErr := mirrorFilesOut(s.entry.Path, s.cfg.OutputDirectory); mirrErr != nil && s.onMirrorFailure != nil {
			s.onMirrorFailure(fmt.Errorf("%w: %v", ErrMirrorFailure, mirrErr))
		}
	}
	return ok, nil
}

// Exit implements Instance.
func (s *Staged) Exit() {
	if s.exited {
		return
	}
	s.exited = true
	if s.wrapped != nil {
		s.wrapped.Exit()
	}
	_ = s.entry.Remove()
}

func containsPathListSeparator(path string) bool {
	for _, r := range path {
		if r == os.PathListSeparator {
			return true
		}
	}
	return false
}

func mirrorAuxFilesIn(realOutputDir, tempDir, jobname string) {
	for _, ext := range stagedFallbackExtensions {
		src := filepath.Join(realOutputDir, jobname+"."+ext)
		dst := filepath.Join(tempDir, jobname+"."+ext)
		_ = copyFilePreservingMtime(src, dst)
	}
}

func prependTexinputs(env []string, realOutputDir string) []string {
	base := env
	if base == nil {
		base = os.Environ()
	}
	out := make([]string, 0, len(base)+1)
	found := false
	for _, kv := range base {
		if rest, ok := strings.CutPrefix(kv, "TEXINPUTS="); ok {
			out = append(out, "TEXINPUTS="+realOutputDir+string(os.PathListSeparator)+rest)
			found = true
		} else {
			out = append(out, kv)
		}
	}
	if !found {
		out = append(out, "TEXINPUTS="+realOutputDir+string(os.PathListSeparator))
	}
	return out
}

// mirrorFilesOut copies every regular file (not subdirectories) from
// tempDir into realOutputDir, preserving mtime. Subdirectory outputs
// are a known limitation, same as the teacher's own clear/copy helpers
// only ever operating on a flat set of extensions.
func mirrorFilesOut(tempDir, realOutputDir string) error {
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(realOutputDir, 0o755); err != nil {
		return err
	}
	var firstErr error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := filepath.Join(tempDir, e.Name())
		dst := filepath.Join(realOutputDir, e.Name())
		if err := copyFilePreservingMtime(src, dst); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func copyFilePreservingMtime(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
