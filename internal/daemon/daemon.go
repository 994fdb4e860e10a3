// Package daemon orchestrates Compiler Instances across ticks: it
// pre-parks the next run, reacts to preamble changes and auto-reruns,
// and guarantees the parked-instance and output-pipe invariants in
// SPEC_FULL.md §4.H hold across every tick exit path.
package daemon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/kpym/tex-fast-recompile/internal/compiler"
	"github.com/kpym/tex-fast-recompile/internal/iopipe"
	"github.com/kpym/tex-fast-recompile/internal/preamble"
	"github.com/kpym/tex-fast-recompile/internal/status"
	"github.com/kpym/tex-fast-recompile/internal/tempdir"
)

// InstanceFactory builds a fresh, not-yet-entered Compiler Instance for
// one run. mode selects Direct-Use vs Direct-NotUsed vs the format
// precompiler; outputDirectory is the real output directory for a
// compile, or the format-temp-dir for a format build. formatDir is the
// daemon-owned format-temp-dir path when precompiling is active (used
// to prepend TEXFORMATS for a Use-mode engine), or "" otherwise.
// onCompiling, when non-nil, should be installed as the instance's
// compiling callback (fired after the resume write, before stdout is
// drained); nil for instances that never reach that step (the format
// precompiler). The factory decides internally whether to wrap the
// result in compiler.Staged.
type InstanceFactory func(mode compiler.FormatMode, outputDirectory, formatDir string, onCompiling func()) compiler.Instance

// Config is the daemon-level configuration, independent of how a
// single engine invocation is built (that's compiler.Config, owned by
// the InstanceFactory's closure).
type Config struct {
	Jobname            string
	OutputDirectory    string
	PrecompilePreamble bool
	MaxReruns          int
	ShowTime           bool
	CopyOutput         string
	CopyLog            string
	NumSeparationLines int
	CompilingCmd       string
	SuccessCmd         string
	FailureCmd         string
	LogSanitize        *regexp.Regexp
}

// Daemon is the Compilation Daemon (component H).
type Daemon struct {
	cfg      Config
	factory  InstanceFactory
	report   *status.Reporter
	registry *tempdir.Registry

	parked        compiler.Instance
	formatTempDir *tempdir.Entry

	pipeW *iopipe.Writer

	// onNewPipe is invoked once per completed tick with the reader for
	// the next tick's output; the caller is expected to start draining
	// it immediately (e.g. by copying to os.Stdout).
	onNewPipe func(*iopipe.Reader)

	startTime time.Time
}

// New constructs a Daemon. registry is used to acquire the
// daemon-owned format-temp-dir when PrecompilePreamble is set.
func New(cfg Config, factory InstanceFactory, registry *tempdir.Registry, report *status.Reporter, onNewPipe func(*iopipe.Reader)) *Daemon {
	if cfg.MaxReruns <= 0 {
		cfg.MaxReruns = 5
	}
	return &Daemon{cfg: cfg, factory: factory, report: report, registry: registry, onNewPipe: onNewPipe}
}

// Enter creates the format-temp-dir (if precompiling) and attempts to
// park the first instance, quietly: a NoPreamble failure here is not
// reported since the caller hasn't triggered a tick yet.
func (d *Daemon) Enter(ctx context.Context) error {
	w, r := iopipe.New()
	d.pipeW = w
	if d.onNewPipe != nil {
		d.onNewPipe(r)
	}

	if d.cfg.PrecompilePreamble {
		entry, err := d.registry.Create()
		if err != nil {
			return err
		}
		d.formatTempDir = entry
	}

	d.prepareCompiler(ctx, true)
	return nil
}

// Exit disposes the parked instance and the owned format-temp-dir.
// Never panics.
func (d *Daemon) Exit() {
	if d.parked != nil {
		d.parked.Exit()
		d.parked = nil
	}
	if d.formatTempDir != nil {
		_ = d.formatTempDir.Remove()
		d.formatTempDir = nil
	}
	if d.pipeW != nil {
		_ = d.pipeW.Close()
	}
}

func (d *Daemon) formatPath() string {
	return compiler.FormatPath(d.formatTempDir.Path, d.cfg.Jobname)
}

// Recompile runs one tick. It never panics and never propagates an
// error: every fault is reported via the output pipe and the boolean
// return, per SPEC_FULL.md §7.
func (d *Daemon) Recompile(ctx context.Context, recompilePreamble bool) bool {
	d.startTime = time.Now()
	fmt.Fprint(d.pipeW, strings.Repeat("\n", d.cfg.NumSeparationLines))
	if recompilePreamble {
		d.println("Some preamble-watch file changed, recompiling.")
		return d.recompilePreambleChanged(ctx)
	}
	return d.recompileSteady(ctx, 0)
}

func (d *Daemon) recompilePreambleChanged(ctx context.Context) bool {
	if d.cfg.PrecompilePreamble {
		_ = os.Remove(d.formatPath())
	}
	d.disposeParked()

	if d.cfg.PrecompilePreamble && !fileExists(d.formatPath()) {
		ok := d.buildFormat(ctx, false)
		if !ok {
			d.rotatePipeAndPrepark(ctx)
			return false
		}
	}

	d.prepareCompiler(ctx, false)
	return d.recompileSteady(ctx, 0)
}

// recompileSteady is the non-preamble-change path. reruns counts
// automatic reruns already performed for this tick, bounding the loop
// to cfg.MaxReruns (DESIGN.md's resolution of the "--auto-rerun cap
// is documented but unused" open question).
func (d *Daemon) recompileSteady(ctx context.Context, reruns int) bool {
	if d.parked == nil {
		d.prepareCompiler(ctx, false)
		if d.parked == nil {
			d.rotatePipeAndPrepark(ctx)
			return false
		}
	}

	ok, err := d.parked.Finish(ctx, d.pipeW)
	if err != nil {
		if errors.Is(err, compiler.ErrPreambleChanged) {
			d.println("Preamble changed, recompiling.")
			return d.recompilePreambleChanged(ctx)
		}
		if errors.Is(err, preamble.ErrNoPreamble) {
			d.printFailure(err)
			d.disposeParked()
			d.rotatePipeAndPrepark(ctx)
			return false
		}
		d.printFailure(err)
		d.disposeParked()
		d.rotatePipeAndPrepark(ctx)
		return false
	}

	if d.cfg.ShowTime {
		fmt.Fprintf(d.pipeW, "Time taken: %.3fs\n", time.Since(d.startTime).Seconds())
	}

	outputDir := d.parked.OutputDirectory()
	pdfPath := compiler.PDFPath(outputDir, d.cfg.Jobname)
	logPath := compiler.LogPath(outputDir, d.cfg.Jobname)

	if d.cfg.CopyOutput != "" {
		_ = copyFileIfExists(pdfPath, d.cfg.CopyOutput)
	}
	if d.cfg.CopyLog != "" {
		if err := copyFile(logPath, d.cfg.CopyLog); err != nil {
			d.printFailure(err)
		}
	}

	logText, _ := os.ReadFile(logPath)
	if needsRerun(logText) && reruns < d.cfg.MaxReruns {
		d.println("Rerunning.")
		d.disposeParked()
		return d.recompileSteady(ctx, reruns+1)
	}

	pdfExists := fileExists(pdfPath)
	if ok && pdfExists {
		d.runHookCmd(d.cfg.SuccessCmd)
	} else {
		d.report.DumpLog(logText, d.cfg.LogSanitize)
		d.runHookCmd(d.cfg.FailureCmd)
	}

	d.disposeParked()
	d.rotatePipeAndPrepark(ctx)
	return ok && pdfExists
}

func needsRerun(log []byte) bool {
	for _, marker := range [][]byte{[]byte("Rerun to get"), []byte("Rerun."), []byte("Please rerun")} {
		if bytes.Contains(log, marker) {
			return true
		}
	}
	return false
}

// buildFormat runs a one-shot Format Precompiler to (re)produce the
// .fmt file. Returns whether it succeeded; a failure (NoPreamble or
// otherwise) is reported unless quiet, which prepareCompiler passes
// through from its own caller.
func (d *Daemon) buildFormat(ctx context.Context, quiet bool) bool {
	inst := d.factory(compiler.FormatPrecompile, d.formatTempDir.Path, d.formatTempDir.Path, nil)
	if err := inst.Enter(ctx); err != nil {
		if !quiet {
			d.printFailure(err)
		}
		return false
	}
	ok, err := inst.Finish(ctx, d.pipeW)
	inst.Exit()
	if err != nil {
		if !quiet {
			d.printFailure(err)
		}
		return false
	}
	return ok
}

// prepareCompiler constructs and enters the next parked instance. If
// quiet, a NoPreamble failure is swallowed (no message is written); the
// daemon simply retries on the next tick.
func (d *Daemon) prepareCompiler(ctx context.Context, quiet bool) {
	if d.cfg.PrecompilePreamble && !fileExists(d.formatPath()) {
		if !d.buildFormat(ctx, quiet) {
			return
		}
	}

	mode := compiler.FormatNotUsed
	outputDir := d.cfg.OutputDirectory
	formatDir := ""
	if d.cfg.PrecompilePreamble {
		mode = compiler.FormatUse
		formatDir = d.formatTempDir.Path
	}

	inst := d.factory(mode, outputDir, formatDir, d.onCompiling)
	if err := inst.Enter(ctx); err != nil {
		if errors.Is(err, preamble.ErrNoPreamble) {
			if !quiet {
				d.printFailure(err)
			}
			return
		}
		if !quiet {
			d.printFailure(err)
		}
		return
	}
	d.parked = inst
}

func (d *Daemon) disposeParked() {
	if d.parked == nil {
		return
	}
	d.parked.Exit()
	d.parked = nil
}

func (d *Daemon) rotatePipeAndPrepark(ctx context.Context) {
	_ = d.pipeW.Close()
	w, r := iopipe.New()
	d.pipeW = w
	if d.onNewPipe != nil {
		d.onNewPipe(r)
	}
	d.prepareCompiler(ctx, true)
}

func (d *Daemon) println(msg string) {
	fmt.Fprintln(d.pipeW, msg)
	d.report.Action(msg)
}

func (d *Daemon) printFailure(err error) {
	msg := err.Error()
	fmt.Fprintf(d.pipeW, "! %s.\n", msg)
	d.report.Error(msg)
}

// onCompiling fires once the parked instance has been resumed, before
// its stdout is drained to the pipe: it reports the transition and
// runs the user's --compiling-cmd hook, if any.
func (d *Daemon) onCompiling() {
	d.report.Action("Compiling...")
	d.runHookCmd(d.cfg.CompilingCmd)
}

func (d *Daemon) runHookCmd(shellCmd string) {
	if shellCmd == "" {
		return
	}
	cmd := exec.Command("sh", "-c", shellCmd)
	cmd.Stdout = d.pipeW
	cmd.Stderr = d.pipeW
	if err := cmd.Run(); err != nil {
		d.report.Error(fmt.Sprintf("hook command failed: %v", err))
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyFileIfExists(src, dst string) error {
	if !fileExists(src) {
		return nil
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
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
	_, err = io.Copy(out, in)
	return err
}
