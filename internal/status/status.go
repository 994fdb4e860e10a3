// Package status reports daemon activity to the user: colored
// action/error lines in the teacher's style, plus structured debug
// tracing at --info=debug.
package status

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// Level mirrors the teacher's infoLevelType ladder.
type Level uint8

const (
	LevelNo Level = iota
	LevelErrors
	LevelErrorsAndLog
	LevelActions
	LevelDebug
)

// LevelFromString converts the --info flag value to a Level.
func LevelFromString(s string) (Level, error) {
	switch s {
	case "no":
		return LevelNo, nil
	case "errors":
		return LevelErrors, nil
	case "errors+log":
		return LevelErrorsAndLog, nil
	case "actions":
		return LevelActions, nil
	case "debug":
		return LevelDebug, nil
	default:
		return LevelDebug, fmt.Errorf("invalid info level %q", s)
	}
}

// Reporter prints user-facing status lines and, at LevelDebug, emits
// structured traces via zap.
type Reporter struct {
	Level  Level
	Out    io.Writer
	logger *zap.SugaredLogger
}

// New builds a Reporter. logger may be nil, in which case debug traces
// are silently dropped (used in tests).
func New(level Level, out io.Writer, logger *zap.SugaredLogger) *Reporter {
	return &Reporter{Level: level, Out: out, logger: logger}
}

// Action prints a teacher-style cyan status line when Level >= Actions.
func (r *Reporter) Action(msg string) {
	if r.Level < LevelActions {
		return
	}
	color.New(color.FgCyan).Fprintln(r.Out, msg)
}

// Error prints a red error line whenever errors are being reported at
// all (Level >= Errors), regardless of the action-level threshold.
func (r *Reporter) Error(msg string) {
	if r.Level < LevelErrors {
		return
	}
	color.New(color.FgRed).Fprintln(r.Out, msg)
}

// Debugf emits a debug trace via zap, gated behind LevelDebug so normal
// runs pay nothing for it.
func (r *Reporter) Debugf(format string, args ...interface{}) {
	if r.Level < LevelDebug || r.logger == nil {
		return
	}
	r.logger.Debugf(format, args...)
}

// NewDebugLogger builds the zap logger used at --info=debug; nop
// elsewhere to avoid paying for structured logging setup otherwise.
func NewDebugLogger(enabled bool) (*zap.SugaredLogger, func(), error) {
	if !enabled {
		return zap.NewNop().Sugar(), func() {}, nil
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	logger, err := cfg.Build()
	if err != nil {
		return nil, nil, err
	}
	return logger.Sugar(), func() { _ = logger.Sync() }, nil
}

// Delimit formats a labeled block the way the teacher's delimit()
// wraps command output and logs for --info=debug display.
func Delimit(what, end, msg string) string {
	line := strings.Repeat("-", 77)
	return line + " " + what + "\n" + msg + "\n" + line + " " + end
}

// SanitizeLog keeps only the lines of log matched by sanitize (the
// compiled --log-sanitize pattern), mirroring the teacher's
// sanitizeLog: a nil sanitize prints the raw log unfiltered, and a
// pattern that matches nothing reports that explicitly rather than an
// empty block.
func SanitizeLog(log []byte, sanitize *regexp.Regexp) string {
	if sanitize == nil {
		return Delimit("raw log", "end log", string(log))
	}
	matches := sanitize.FindAll(log, -1)
	if len(matches) == 0 {
		return "Nothing interesting in the log."
	}
	return Delimit("sanitized log", "end log", string(bytes.Join(matches, []byte("\n"))))
}

// DumpLog prints the sanitized log at Level >= LevelErrorsAndLog,
// the teacher's "errors+log" tier: a plain "errors" run reports only
// the pass/fail line, this tier also shows what went wrong.
func (r *Reporter) DumpLog(log []byte, sanitize *regexp.Regexp) {
	if r.Level < LevelErrorsAndLog {
		return
	}
	fmt.Fprintln(r.Out, SanitizeLog(log, sanitize))
}
