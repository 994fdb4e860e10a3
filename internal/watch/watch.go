// Package watch is the Event Intake (component I): it notices source
// and preamble-watch file changes and reports them as a coalesced
// recompile signal, either via native fsnotify or, when polling is
// requested, a stat-diffing ticker loop.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event reports that path changed; Preamble marks it as one of the
// paths that should trigger a full preamble re-scan rather than a
// steady recompile.
type Event struct {
	Path     string
	Preamble bool
}

type target struct {
	realpath string
	preamble bool
}

type fileStat struct {
	size  int64
	mtime time.Time
}

// Intake watches a fixed set of paths and delivers Events until Close
// or the driving context is cancelled.
type Intake struct {
	targets []target

	watcher      *fsnotify.Watcher
	pollInterval time.Duration
	statState    map[string]fileStat

	events chan Event
	errs   chan error
}

// New builds an Intake over paths (steady recompile triggers) and
// preamblePaths (full preamble re-scan triggers). pollInterval <= 0
// uses native fsnotify; otherwise a ticker polls every pollInterval,
// the same fallback the original's PollingObserver provides for
// filesystems without native notification.
func New(paths, preamblePaths []string, pollInterval time.Duration) (*Intake, error) {
	targets := make([]target, 0, len(paths)+len(preamblePaths))
	for _, p := range paths {
		targets = append(targets, target{realpath: resolve(p), preamble: false})
	}
	for _, p := range preamblePaths {
		targets = append(targets, target{realpath: resolve(p), preamble: true})
	}

	in := &Intake{
		targets:      targets,
		pollInterval: pollInterval,
		events:       make(chan Event, 16),
		errs:         make(chan error, 1),
	}

	if pollInterval <= 0 {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		watchedDirs := make(map[string]bool)
		for _, t := range targets {
			dir := filepath.Dir(t.realpath)
			if watchedDirs[dir] {
				continue
			}
			if err := w.Add(dir); err != nil {
				w.Close()
				return nil, err
			}
			watchedDirs[dir] = true
		}
		in.watcher = w
		return in, nil
	}

	in.statState = make(map[string]fileStat, len(targets))
	for _, t := range targets {
		in.statState[t.realpath] = statOf(t.realpath)
	}
	return in, nil
}

// resolve follows symlinks to a canonical path so edits through a
// symlinked directory (or an editor's rename-and-replace) still match
// the watched realpath; falls back to the absolute path.
func resolve(p string) string {
	if real, err := filepath.EvalSymlinks(p); err == nil {
		return real
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func statOf(path string) fileStat {
	info, err := os.Stat(path)
	if err != nil {
		return fileStat{}
	}
	return fileStat{size: info.Size(), mtime: info.ModTime()}
}

// Events returns the channel Events are delivered on.
func (in *Intake) Events() <-chan Event { return in.events }

// Errors returns the channel watcher-level errors are delivered on
// (native mode only; polling never errors past a failed Stat).
func (in *Intake) Errors() <-chan error { return in.errs }

// Run drives the watch loop until ctx is cancelled. Call it in its own
// goroutine.
func (in *Intake) Run(ctx context.Context) {
	if in.watcher != nil {
		in.runNative(ctx)
		return
	}
	in.runPolling(ctx)
}

func (in *Intake) runNative(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-in.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			in.deliverMatching(ctx, ev.Name)
		case err, ok := <-in.watcher.Errors:
			if !ok {
				return
			}
			select {
			case in.errs <- err:
			default:
			}
		}
	}
}

func (in *Intake) deliverMatching(ctx context.Context, changed string) {
	cleaned := filepath.Clean(changed)
	for _, t := range in.targets {
		if t.realpath != cleaned {
			continue
		}
		select {
		case in.events <- Event{Path: t.realpath, Preamble: t.preamble}:
		case <-ctx.Done():
			return
		}
	}
}

func (in *Intake) runPolling(ctx context.Context) {
	ticker := time.NewTicker(in.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, t := range in.targets {
				cur := statOf(t.realpath)
				if cur == in.statState[t.realpath] {
					continue
				}
				in.statState[t.realpath] = cur
				select {
				case in.events <- Event{Path: t.realpath, Preamble: t.preamble}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Close releases the native watcher, if any. Polling mode has nothing
// to release.
func (in *Intake) Close() error {
	if in.watcher != nil {
		return in.watcher.Close()
	}
	return nil
}

// Debounce coalesces a burst of Events into a single recompilePreamble
// bool (true if any coalesced Event was a preamble-watch trigger), fired
// a fixed delay after the burst's first event — matching the original's
// single time.sleep(extra_delay) per burst, not a per-event reset: a
// steady stream of events inside delay of one another still fires at
// the first-event-plus-delay boundary instead of being pushed back
// indefinitely.
func Debounce(ctx context.Context, events <-chan Event, delay time.Duration) <-chan bool {
	out := make(chan bool)
	go func() {
		defer close(out)
		var timerC <-chan time.Time
		var pending bool
		var preamble bool
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Preamble {
					preamble = true
				}
				if !pending {
					pending = true
					timerC = time.After(delay)
				}
			case <-timerC:
				if !pending {
					continue
				}
				select {
				case out <- preamble:
				case <-ctx.Done():
					return
				}
				pending = false
				preamble = false
				timerC = nil
			}
		}
	}()
	return out
}
