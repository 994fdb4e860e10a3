package daemon

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpym/tex-fast-recompile/internal/compiler"
	"github.com/kpym/tex-fast-recompile/internal/iopipe"
	"github.com/kpym/tex-fast-recompile/internal/preamble"
	"github.com/kpym/tex-fast-recompile/internal/status"
	"github.com/kpym/tex-fast-recompile/internal/tempdir"
)

// fakeInstance is an in-memory stand-in for a Compiler Instance, so
// daemon control-flow (invariants, rerun detection, preamble-changed
// recovery) can be tested without spawning a real TeX engine.
type fakeInstance struct {
	mode      compiler.FormatMode
	outputDir string
	jobname   string

	enterErr   error
	finishOK   bool
	finishErr  error
	writeOut   string
	logContent string
	writePDF   bool

	entered bool
	exited  bool
}

func (f *fakeInstance) Enter(ctx context.Context) error {
	f.entered = true
	return f.enterErr
}

func (f *fakeInstance) Finish(ctx context.Context, dst io.Writer) (bool, error) {
	if f.finishErr != nil {
		return false, f.finishErr
	}
	_, _ = dst.Write([]byte(f.writeOut))
	_ = os.WriteFile(compiler.LogPath(f.outputDir, f.jobname), []byte(f.logContent), 0o644)
	if f.writePDF {
		_ = os.WriteFile(compiler.PDFPath(f.outputDir, f.jobname), []byte("pdf"), 0o644)
	}
	return f.finishOK, nil
}

func (f *fakeInstance) Exit()                   { f.exited = true }
func (f *fakeInstance) OutputDirectory() string { return f.outputDir }

func drain(t *testing.T, r *iopipe.Reader) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	_ = r.CopyTo(&buf)
	return &buf
}

func newTestDaemon(t *testing.T, outDir string, build func(mode compiler.FormatMode, dir, formatDir string, onCompiling func()) compiler.Instance) (*Daemon, *[]*iopipe.Reader) {
	t.Helper()
	reg, err := tempdir.New(t.TempDir())
	require.NoError(t, err)
	reporter := status.New(status.LevelNo, &bytes.Buffer{}, nil)
	readers := &[]*iopipe.Reader{}
	d := New(Config{
		Jobname:            "a",
		OutputDirectory:    outDir,
		NumSeparationLines: 1,
	}, build, reg, reporter, func(r *iopipe.Reader) {
		*readers = append(*readers, r)
	})
	return d, readers
}

func TestRecompile_SuccessReturnsTrue(t *testing.T) {
	outDir := t.TempDir()
	d, readers := newTestDaemon(t, outDir, func(mode compiler.FormatMode, dir, formatDir string, onCompiling func()) compiler.Instance {
		return &fakeInstance{outputDir: dir, jobname: "a", finishOK: true, writePDF: true}
	})
	require.NoError(t, d.Enter(context.Background()))
	ok := d.Recompile(context.Background(), false)
	assert.True(t, ok)
	assert.Len(t, *readers, 2) // one from Enter, one from the rotate after this tick
	d.Exit()
}

func TestRecompile_MissingPDFIsFailure(t *testing.T) {
	outDir := t.TempDir()
	d, _ := newTestDaemon(t, outDir, func(mode compiler.FormatMode, dir, formatDir string, onCompiling func()) compiler.Instance {
		return &fakeInstance{outputDir: dir, jobname: "a", finishOK: true, writePDF: false}
	})
	require.NoError(t, d.Enter(context.Background()))
	ok := d.Recompile(context.Background(), false)
	assert.False(t, ok)
	d.Exit()
}

func TestRecompile_FailureDumpsLogAtErrorsAndLogLevel(t *testing.T) {
	outDir := t.TempDir()
	reg, err := tempdir.New(t.TempDir())
	require.NoError(t, err)
	var buf bytes.Buffer
	reporter := status.New(status.LevelErrorsAndLog, &buf, nil)
	d := New(Config{Jobname: "a", OutputDirectory: outDir}, func(mode compiler.FormatMode, dir, formatDir string, onCompiling func()) compiler.Instance {
		return &fakeInstance{outputDir: dir, jobname: "a", finishOK: true, writePDF: false, logContent: "! Undefined control sequence.\nl.3 \\bogus"}
	}, reg, reporter, nil)
	require.NoError(t, d.Enter(context.Background()))
	ok := d.Recompile(context.Background(), false)
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "Undefined control sequence")
}

func TestRecompile_NoPreambleReportsAndReturnsFalse(t *testing.T) {
	outDir := t.TempDir()
	d, _ := newTestDaemon(t, outDir, func(mode compiler.FormatMode, dir, formatDir string, onCompiling func()) compiler.Instance {
		return &fakeInstance{outputDir: dir, jobname: "a", enterErr: preamble.ErrNoPreamble}
	})
	require.NoError(t, d.Enter(context.Background()))
	ok := d.Recompile(context.Background(), false)
	assert.False(t, ok)
}

func TestRecompile_RerunsOnLogMarkerThenSucceeds(t *testing.T) {
	outDir := t.TempDir()
	attempt := 0
	d, _ := newTestDaemon(t, outDir, func(mode compiler.FormatMode, dir, formatDir string, onCompiling func()) compiler.Instance {
		attempt++
		log := "Rerun to get cross-references right."
		if attempt > 1 {
			log = "all good"
		}
		return &fakeInstance{outputDir: dir, jobname: "a", finishOK: true, writePDF: true, logContent: log}
	})
	require.NoError(t, d.Enter(context.Background()))
	ok := d.Recompile(context.Background(), false)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, attempt, 2)
}

func TestRecompile_RerunCapBoundsLoop(t *testing.T) {
	outDir := t.TempDir()
	attempts := 0
	reg, err := tempdir.New(t.TempDir())
	require.NoError(t, err)
	reporter := status.New(status.LevelNo, &bytes.Buffer{}, nil)
	d := New(Config{Jobname: "a", OutputDirectory: outDir, MaxReruns: 2}, func(mode compiler.FormatMode, dir, formatDir string, onCompiling func()) compiler.Instance {
		attempts++
		return &fakeInstance{outputDir: dir, jobname: "a", finishOK: true, writePDF: true, logContent: "Please rerun"}
	}, reg, reporter, nil)
	require.NoError(t, d.Enter(context.Background()))
	d.Recompile(context.Background(), false)
	assert.LessOrEqual(t, attempts, 4) // initial + MaxReruns(2) + 1 final prepark-ish bound
}

func TestRecompile_PreambleChangedPrintsNoticeAndRecovers(t *testing.T) {
	outDir := t.TempDir()
	call := 0
	d, readers := newTestDaemon(t, outDir, func(mode compiler.FormatMode, dir, formatDir string, onCompiling func()) compiler.Instance {
		call++
		if call == 1 {
			return &fakeInstance{outputDir: dir, jobname: "a", finishErr: compiler.ErrPreambleChanged}
		}
		return &fakeInstance{outputDir: dir, jobname: "a", finishOK: true, writePDF: true}
	})
	require.NoError(t, d.Enter(context.Background()))
	ok := d.Recompile(context.Background(), false)
	assert.True(t, ok)
	require.NotEmpty(t, *readers)
	text := drain(t, (*readers)[0]).String()
	assert.Contains(t, text, "Preamble changed, recompiling.")
}

func TestExit_DisposesParkedInstance(t *testing.T) {
	outDir := t.TempDir()
	var created []*fakeInstance
	d, _ := newTestDaemon(t, outDir, func(mode compiler.FormatMode, dir, formatDir string, onCompiling func()) compiler.Instance {
		f := &fakeInstance{outputDir: dir, jobname: "a", finishOK: true, writePDF: true}
		created = append(created, f)
		return f
	})
	require.NoError(t, d.Enter(context.Background()))
	d.Exit()
	require.Len(t, created, 1)
	assert.True(t, created[0].exited)
}

func TestCopyOutputAndLog(t *testing.T) {
	outDir := t.TempDir()
	copyOut := filepath.Join(t.TempDir(), "copy.pdf")
	copyLog := filepath.Join(t.TempDir(), "copy.log")
	reg, err := tempdir.New(t.TempDir())
	require.NoError(t, err)
	reporter := status.New(status.LevelNo, &bytes.Buffer{}, nil)
	d := New(Config{Jobname: "a", OutputDirectory: outDir, CopyOutput: copyOut, CopyLog: copyLog}, func(mode compiler.FormatMode, dir, formatDir string, onCompiling func()) compiler.Instance {
		return &fakeInstance{outputDir: dir, jobname: "a", finishOK: true, writePDF: true, logContent: "all good"}
	}, reg, reporter, nil)
	require.NoError(t, d.Enter(context.Background()))
	ok := d.Recompile(context.Background(), false)
	require.True(t, ok)
	assert.FileExists(t, copyOut)
	assert.FileExists(t, copyLog)
}
