package compiler

import (
	"github.com/kpym/tex-fast-recompile/internal/preamble"
	"github.com/kpym/tex-fast-recompile/internal/texinput"
)

// FormatMode selects which variant of the engine invocation to build.
type FormatMode int

const (
	FormatNotUsed FormatMode = iota
	FormatPrecompile
	FormatUse
)

// companionVersion is the minimum version of the fastrecompile TeX
// package this build's bootstrap expression requires, enforced on the
// TeX side via \fastrecompilecheckversion.
const companionVersion = "0.5.0"

// Config is the immutable description of one engine invocation.
type Config struct {
	Filename                string
	Executable              string
	Jobname                 string
	OutputDirectory         string
	ShellEscape             bool
	EightBit                bool
	Recorder                bool
	ExtraArgs               []string
	ExtraCommands           []string
	CloseStdin              bool
	CompilingCallback       func()
	FormatMode              FormatMode
	Env                     []string // nil: inherit os.Environ()
	PauseAtBeginDocumentEnd bool     // false: pause before begindocument hooks (safer default)
}

// buildArgs constructs the engine command-line arguments (without the
// executable itself) per the bootstrap-expression contract in
// SPEC_FULL.md §6.
func buildArgs(cfg Config, p preamble.Preamble) ([]string, error) {
	var args []string
	if cfg.FormatMode == FormatPrecompile {
		args = append(args, "--ini")
	}
	args = append(args, "--jobname="+cfg.Jobname)
	args = append(args, "--output-directory="+cfg.OutputDirectory)
	if cfg.ShellEscape {
		args = append(args, "--shell-escape")
	}
	if cfg.EightBit {
		args = append(args, "--8bit")
	}
	if cfg.Recorder {
		args = append(args, "--recorder")
	}
	args = append(args, cfg.ExtraArgs...)

	switch cfg.FormatMode {
	case FormatPrecompile:
		args = append(args, "&"+cfg.Executable)
	case FormatUse:
		args = append(args, "&"+cfg.Jobname)
	}

	bootstrap, err := bootstrapExpression(cfg, p)
	if err != nil {
		return nil, err
	}
	args = append(args, bootstrap)
	args = append(args, cfg.ExtraCommands...)
	return args, nil
}

func bootstrapExpression(cfg Config, p preamble.Preamble) (string, error) {
	if cfg.FormatMode == FormatUse {
		return cfg.Filename, nil
	}

	escapedOutdir, err := texinput.Escape(cfg.OutputDirectory)
	if err != nil {
		return "", err
	}
	escapedFilename, err := texinput.Escape(cfg.Filename)
	if err != nil {
		return "", err
	}

	expr := `\RequirePackage{fastrecompile}` +
		`\edef\fastrecompileoutputdir{` + escapedOutdir + `/}` +
		`\fastrecompilecheckversion{` + companionVersion + `}`

	if p.Implicit {
		if cfg.PauseAtBeginDocumentEnd {
			expr += `\fastrecompilesetimplicitpreambleii`
		} else {
			expr += `\fastrecompilesetimplicitpreamble`
		}
	}

	if cfg.FormatMode == FormatPrecompile {
		expr += `\csname @@input\endcsname{mylatexformat.ltx}{` + escapedFilename + `}`
	} else {
		expr += `\input{` + escapedFilename + `}`
	}

	return expr, nil
}

// pdfPath and logPath are the well-known artifact paths for a given
// jobname in a given output directory.
func pdfPath(outputDirectory, jobname string) string { return joinPath(outputDirectory, jobname+".pdf") }
func logPath(outputDirectory, jobname string) string { return joinPath(outputDirectory, jobname+".log") }
func fmtPath(outputDirectory, jobname string) string { return joinPath(outputDirectory, jobname+".fmt") }

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}

func formatModeString(m FormatMode) string {
	switch m {
	case FormatPrecompile:
		return "precompile"
	case FormatUse:
		return "use"
	default:
		return "not-used"
	}
}
