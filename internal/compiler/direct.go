// Package compiler drives a TeX engine subprocess from spawn through
// the parked pause point to a completed compile, in both direct and
// staged-output-directory flavors.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/kpym/tex-fast-recompile/internal/iopipe"
	"github.com/kpym/tex-fast-recompile/internal/preamble"
)

// killTimeout bounds how long Exit waits for the subprocess to die
// after signalling it.
const killTimeout = time.Second

// Instance is the lifecycle contract shared by Direct and Staged.
type Instance interface {
	// Enter spawns the parked subprocess. Returns preamble.ErrNoPreamble
	// if the source has no usable pause point; no subprocess is started
	// in that case.
	Enter(ctx context.Context) error
	// Finish resumes the parked subprocess, drains its stdout to dst,
	// and returns whether it exited with status 0. May be called at
	// most once, and only after Enter succeeded. If ctx is cancelled
	// before the subprocess exits on its own, its process group is sent
	// a soft interrupt first (so its own interrupt handler can run and
	// report itself through dst) and only killed outright after a
	// bounded timeout.
	Finish(ctx context.Context, dst io.Writer) (bool, error)
	// Exit unconditionally tears the instance down: kills the
	// subprocess, bounds the wait, and releases owned resources. Safe
	// to call multiple times and never panics.
	Exit()
	// OutputDirectory is where the caller should look for the produced
	// PDF/log, once Finish has returned successfully.
	OutputDirectory() string
}

// Direct spawns the engine against the real output directory.
type Direct struct {
	cfg Config

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	internalW *iopipe.Writer
	internalR *iopipe.Reader
	pumpDone  chan struct{}

	waitOnce sync.Once
	waitErr  error

	preambleAtStart preamble.Preamble
	entered         bool
	finished        bool
	exited          bool
}

// NewDirect returns a Direct compiler instance for cfg. It does not
// spawn anything until Enter is called.
func NewDirect(cfg Config) *Direct {
	return &Direct{cfg: cfg}
}

func (d *Direct) OutputDirectory() string { return d.cfg.OutputDirectory }

// Enter implements Instance. It does not tie the subprocess to ctx:
// the engine's lifecycle is managed explicitly by Finish/Exit so that
// ctx cancellation goes through the soft-interrupt-then-kill sequence
// instead of os/exec's default instant SIGKILL-on-cancel behavior.
func (d *Direct) Enter(ctx context.Context) error {
	if d.entered {
		return errors.New("enter called more than once")
	}

	src, err := os.ReadFile(d.cfg.Filename)
	if err != nil {
		return err
	}
	p, err := preamble.Extract(src)
	if err != nil {
		return err
	}
	d.preambleAtStart = p

	args, err := buildArgs(d.cfg, p)
	if err != nil {
		return err
	}

	cmd := exec.Command(d.cfg.Executable, args...)
	cmd.Env = d.cfg.Env
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	d.cmd = cmd
	d.stdin = stdin
	d.stdout = stdout
	d.entered = true

	internalW, internalR := iopipe.New()
	d.internalW = internalW
	d.internalR = internalR
	d.pumpDone = make(chan struct{})

	go func() {
		defer close(d.pumpDone)
		buf := make([]byte, 4096)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				_, _ = internalW.Write(buf[:n])
			}
			if err != nil {
				break
			}
		}
		_ = internalW.Close()
	}()

	return nil
}

// Finish implements Instance.
func (d *Direct) Finish(ctx context.Context, dst io.Writer) (bool, error) {
	if !d.entered {
		return false, ErrNotEntered
	}
	if d.finished {
		return false, ErrAlreadyFinished
	}
	d.finished = true

	src, err := os.ReadFile(d.cfg.Filename)
	if err != nil {
		return false, err
	}
	current, err := preamble.Extract(src)
	if err != nil {
		return false, err
	}
	if !current.Equal(d.preambleAtStart) {
		return false, ErrPreambleChanged
	}

	if d.cfg.FormatMode == FormatPrecompile {
		_ = d.stdin.Close()
		waitErr := d.drainAndWait(ctx, dst)
		return exitedZero(d.cmd, waitErr), nil
	}

	if _, err := d.stdin.Write([]byte(d.cfg.Filename + "\n")); err != nil {
		// A broken pipe here only happens if the engine aborted during
		// the preamble; that failure surfaces via stdout instead.
		if !isBrokenPipe(err) {
			return false, err
		}
	}
	if d.cfg.CloseStdin {
		_ = d.stdin.Close()
	}

	if d.cfg.CompilingCallback != nil {
		d.cfg.CompilingCallback()
	}

	waitErr := d.drainAndWait(ctx, dst)
	return exitedZero(d.cmd, waitErr), nil
}

// drainAndWait copies the subprocess's buffered stdout to dst while
// watching ctx. If the subprocess exits (or closes stdout) on its own
// first, this just reaps it. If ctx is cancelled first — an interrupt
// arriving mid-compile — the process group is sent a soft interrupt so
// the engine's own handler can run and report itself through dst, and
// only killed outright if its output has not finished draining within
// killTimeout of that interrupt.
func (d *Direct) drainAndWait(ctx context.Context, dst io.Writer) error {
	copyDone := make(chan struct{})
	go func() {
		_, _ = io.Copy(dst, d.internalR)
		close(copyDone)
	}()

	select {
	case <-copyDone:
	case <-ctx.Done():
		d.escalate(copyDone)
	}

	return d.wait()
}

// wait calls cmd.Wait exactly once, no matter how many of Finish/Exit
// end up waiting on the same subprocess.
func (d *Direct) wait() error {
	d.waitOnce.Do(func() {
		d.waitErr = d.cmd.Wait()
	})
	return d.waitErr
}

// escalate sends a soft interrupt to the engine's process group, then —
// if it hasn't exited within killTimeout — a hard kill, logging if even
// that doesn't finish it off within a second bound. done is closed by
// the caller once the condition it cares about (process exited, or its
// output fully drained) has been observed.
func (d *Direct) escalate(done <-chan struct{}) {
	interruptProcessGroup(d.cmd)
	select {
	case <-done:
		return
	case <-time.After(killTimeout):
	}

	killProcessGroup(d.cmd)
	select {
	case <-done:
	case <-time.After(killTimeout):
		fmt.Fprintf(os.Stderr, "[tex-fast-recompile] subprocess did not exit within %s after SIGKILL, possible resource leak\n", killTimeout)
	}
}

// Exit implements Instance.
func (d *Direct) Exit() {
	if d.exited {
		return
	}
	d.exited = true
	if !d.entered || d.cmd == nil || d.cmd.Process == nil {
		return
	}

	if d.cmd.ProcessState == nil {
		done := make(chan struct{})
		go func() {
			_ = d.wait()
			close(done)
		}()
		d.escalate(done)
	}

	if d.pumpDone != nil {
		<-d.pumpDone
	}
	_ = d.stdin.Close()
	_ = d.stdout.Close()
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed)
}

// exitedZero reports whether the subprocess terminated with status 0.
// cmd.Wait returning nil already means exactly that; kept as a named
// helper so Finish's two call sites read the same way the spec states
// the contract ("return process.returncode == 0").
func exitedZero(cmd *exec.Cmd, waitErr error) bool {
	return waitErr == nil
}
