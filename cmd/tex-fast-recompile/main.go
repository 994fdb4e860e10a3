// Command tex-fast-recompile watches a TeX source file and recompiles
// it on save, reusing a parked engine process per iteration so the
// preamble is paid for once instead of on every edit.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kpym/tex-fast-recompile/internal/compiler"
	"github.com/kpym/tex-fast-recompile/internal/daemon"
	"github.com/kpym/tex-fast-recompile/internal/iopipe"
	"github.com/kpym/tex-fast-recompile/internal/status"
	"github.com/kpym/tex-fast-recompile/internal/tempdir"
	"github.com/kpym/tex-fast-recompile/internal/texinput"
	"github.com/kpym/tex-fast-recompile/internal/watch"
)

// version is set by goreleaser based on the git tag.
var version string = "--"

var (
	jobname            string
	outputDirectory    string
	noTempOutputDir    bool
	shellEscape        bool
	eightBit           bool
	recorder           bool
	extraArgs          []string
	extraWatch         []string
	extraWatchPreamble []string
	extraDelay         float64
	noCloseStdin       bool
	noShowTime         bool
	noNormalize        bool
	copyOutput         string
	copyLog            string
	numSeparationLines int
	compilingCmd       string
	successCmd         string
	failureCmd         string
	logSanitize        string
	pollingDuration    float64
	precompilePreamble bool
	infoLevelFlag      string
	mustShowVersion    bool
	mustShowHelp       bool
)

func printHelp() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "tex-fast-recompile (version: %s): compile a TeX source using a parked, precompiled-preamble engine.\n\n", version)
	fmt.Fprintf(out, "Usage: tex-fast-recompile [options] <executable> <filename>[.tex]\n")
	fmt.Fprintf(out, "  The available options are:\n\n")
	flag.PrintDefaults()
	fmt.Fprintln(out)
}

func printVersion() {
	fmt.Fprintf(flag.CommandLine.Output(), "version: %s\n", version)
}

func setParameters() {
	flag.StringVar(&jobname, "jobname", "", "Job name (default: the filename without its extension).")
	flag.StringVar(&outputDirectory, "output-directory", "", "Directory for generated files (default: the filename's directory).")
	flag.BoolVar(&noTempOutputDir, "no-temp-output-directory", false, "Write directly to the output directory instead of staging through a temp directory.")
	flag.BoolVar(&shellEscape, "shell-escape", false, "Pass --shell-escape to the engine.")
	flag.BoolVar(&eightBit, "8bit", false, "Pass --8bit to the engine.")
	flag.BoolVar(&recorder, "recorder", false, "Pass --recorder to the engine.")
	flag.StringSliceVar(&extraArgs, "extra-args", nil, "Additional engine command-line argument. Can be repeated.")
	flag.StringSliceVar(&extraWatch, "extra-watch", nil, "Additional file to watch, triggering a steady recompile. Can be repeated.")
	flag.StringSliceVar(&extraWatchPreamble, "extra-watch-preamble", nil, "Additional file to watch, triggering a full preamble rebuild. Can be repeated.")
	flag.Float64Var(&extraDelay, "extra-delay", 0.05, "Debounce delay (seconds) after a detected file change.")
	flag.BoolVar(&noCloseStdin, "no-close-stdin", false, "Leave the engine's stdin open after sending the resume line.")
	flag.BoolVar(&noShowTime, "no-show-time", false, "Do not print the time taken by each compile.")
	flag.BoolVar(&noNormalize, "no-normalize", false, "Keep accents and spaces in the default job name.")
	flag.StringVar(&copyOutput, "copy-output", "", "Copy the generated PDF to this path after each successful compile.")
	flag.StringVar(&copyLog, "copy-log", "", "Copy the generated log to this path after each compile.")
	flag.IntVar(&numSeparationLines, "num-separation-lines", 5, "Number of blank lines printed between compiles.")
	flag.StringVar(&compilingCmd, "compiling-cmd", "", "Shell command run when a compile resumes.")
	flag.StringVar(&successCmd, "success-cmd", "", "Shell command run after a successful compile.")
	flag.StringVar(&failureCmd, "failure-cmd", "", "Shell command run after a failed compile.")
	flag.StringVar(&logSanitize, "log-sanitize", `(?ms)^(?:! |l\.|<recently read> ).*?$(?:\s^.*?$){0,2}`, "Match the log against this regex before display at --info=errors+log, or display all if empty.")
	flag.Float64Var(&pollingDuration, "polling-duration", 0, "Poll for file changes every this many seconds, instead of using native file-system notifications.")
	flag.BoolVar(&precompilePreamble, "precompile-preamble", false, "Precompile the preamble into a .fmt file and reuse it across ticks.")
	flag.StringVar(&infoLevelFlag, "info", "actions", "The info level [no|errors|errors+log|actions|debug].")
	flag.BoolVarP(&mustShowVersion, "version", "v", false, "Print the version number.")
	flag.BoolVarP(&mustShowHelp, "help", "h", false, "Print this help message.")

	flag.CommandLine.SortFlags = false
	flag.Usage = printHelp
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		flag.Usage()
		os.Exit(2)
	}

	if mustShowHelp {
		flag.Usage()
		os.Exit(0)
	}
	if mustShowVersion {
		printVersion()
		os.Exit(0)
	}
}

func fatal(report *status.Reporter, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	report.Error(msg)
	os.Exit(1)
}

func main() {
	setParameters()

	if flag.NArg() != 2 {
		fmt.Fprintln(flag.CommandLine.Output(), "Error: exactly two positional arguments are required: <executable> <filename>.")
		flag.Usage()
		os.Exit(2)
	}
	executable := flag.Arg(0)
	filename := flag.Arg(1)
	if !strings.HasSuffix(filename, ".tex") {
		filename += ".tex"
	}

	level, err := status.LevelFromString(infoLevelFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, loggerCleanup, err := status.NewDebugLogger(level >= status.LevelDebug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer loggerCleanup()
	report := status.New(level, os.Stdout, logger)

	if jobname == "" {
		jobname = strings.TrimSuffix(filepath.Base(filename), ".tex")
		if !noNormalize {
			jobname = texinput.Normalize(jobname)
		}
	}
	if outputDirectory == "" {
		outputDirectory = filepath.Dir(filename)
	}
	if copyOutput != "" && copyOutput == compiler.PDFPath(outputDirectory, jobname) {
		fatal(report, "--copy-output must not equal the generated PDF path")
	}
	if copyLog != "" && copyLog == compiler.LogPath(outputDirectory, jobname) {
		fatal(report, "--copy-log must not equal the generated log path")
	}

	registry, err := tempdir.New(tempdir.DefaultRoot())
	if err != nil {
		fatal(report, "could not create temp-dir registry: %v", err)
	}
	if err := registry.GCDead(); err != nil {
		report.Debugf("temp-dir GC failed: %v", err)
	}

	useTempOutputDirectory := !noTempOutputDir
	factory := buildInstanceFactory(executable, filename, jobname, useTempOutputDirectory, registry, report)

	var sanitizeRe *regexp.Regexp
	if logSanitize != "" {
		sanitizeRe, err = regexp.Compile(logSanitize)
		if err != nil {
			fatal(report, "invalid --log-sanitize pattern: %v", err)
		}
	}

	cfg := daemon.Config{
		Jobname:            jobname,
		OutputDirectory:    outputDirectory,
		PrecompilePreamble: precompilePreamble,
		ShowTime:           !noShowTime,
		CopyOutput:         copyOutput,
		CopyLog:            copyLog,
		NumSeparationLines: numSeparationLines,
		CompilingCmd:       compilingCmd,
		SuccessCmd:         successCmd,
		FailureCmd:         failureCmd,
		LogSanitize:        sanitizeRe,
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	d := daemon.New(cfg, factory, registry, report, func(r *iopipe.Reader) {
		go func() {
			_ = r.CopyTo(os.Stdout)
		}()
	})

	if err := d.Enter(ctx); err != nil {
		fatal(report, "could not start: %v", err)
	}
	defer d.Exit()

	d.Recompile(ctx, false)

	intake, err := watch.New(append([]string{filename}, extraWatch...), extraWatchPreamble, time.Duration(pollingDuration*float64(time.Second)))
	if err != nil {
		fatal(report, "could not start the file watcher: %v", err)
	}
	defer intake.Close()
	go intake.Run(ctx)

	report.Action("Watching for file changes...(to exit press Ctrl/Cmd-C).")
	debounced := watch.Debounce(ctx, intake.Events(), time.Duration(extraDelay*float64(time.Second)))

	for {
		select {
		case <-ctx.Done():
			return
		case recompilePreamble, ok := <-debounced:
			if !ok {
				return
			}
			d.Recompile(ctx, recompilePreamble)
		case err, ok := <-intake.Errors():
			if !ok {
				continue
			}
			report.Error(fmt.Sprintf("file watcher error: %v", err))
		}
	}
}

// buildInstanceFactory closes over the fixed parts of one engine
// invocation (executable, filename, jobname) and decides Direct vs
// Staged, and precompiled-format wiring, per call.
func buildInstanceFactory(executable, filename, jobname string, useTempOutputDirectory bool, registry *tempdir.Registry, report *status.Reporter) daemon.InstanceFactory {
	return func(mode compiler.FormatMode, outputDirectory, formatDir string, onCompiling func()) compiler.Instance {
		cfg := compiler.Config{
			Filename:        filename,
			Executable:      executable,
			Jobname:         jobname,
			OutputDirectory: outputDirectory,
			ShellEscape:     shellEscape,
			EightBit:        eightBit,
			Recorder:        recorder,
			ExtraArgs:       extraArgs,
			CloseStdin:      !noCloseStdin,
			FormatMode:      mode,
		}
		if onCompiling != nil {
			cfg.CompilingCallback = onCompiling
		}
		if mode == compiler.FormatUse && formatDir != "" {
			cfg.Env = prependTexformats(os.Environ(), formatDir)
		}

		if mode == compiler.FormatPrecompile {
			return compiler.NewFormatPrecompiler(cfg)
		}
		if useTempOutputDirectory {
			staged := compiler.NewStaged(registry, cfg)
			staged.OnMirrorFailure(func(err error) {
				report.Error(fmt.Sprintf("could not mirror staged output: %v", err))
			})
			return staged
		}
		return compiler.NewDirect(cfg)
	}
}

func prependTexformats(env []string, formatDir string) []string {
	out := make([]string, 0, len(env)+1)
	found := false
	for _, kv := range env {
		if rest, ok := strings.CutPrefix(kv, "TEXFORMATS="); ok {
			out = append(out, "TEXFORMATS="+formatDir+string(os.PathListSeparator)+rest)
			found = true
		} else {
			out = append(out, kv)
		}
	}
	if !found {
		out = append(out, "TEXFORMATS="+formatDir+string(os.PathListSeparator))
	}
	return out
}
