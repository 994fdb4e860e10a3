package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpym/tex-fast-recompile/internal/preamble"
)

func TestBuildArgs_UseMode_PassesFilenameVerbatim(t *testing.T) {
	cfg := Config{
		Filename:        "a.tex",
		Executable:      "pdftex",
		Jobname:         "a",
		OutputDirectory: "out",
		FormatMode:      FormatUse,
	}
	args, err := buildArgs(cfg, preamble.Preamble{})
	require.NoError(t, err)
	assert.Contains(t, args, "&a")
	assert.Equal(t, "a.tex", args[len(args)-1])
}

func TestBuildArgs_Precompile_InjectsMylatexformat(t *testing.T) {
	cfg := Config{
		Filename:        "a.tex",
		Executable:      "pdftex",
		Jobname:         "a",
		OutputDirectory: "out",
		FormatMode:      FormatPrecompile,
	}
	args, err := buildArgs(cfg, preamble.Preamble{})
	require.NoError(t, err)
	assert.Contains(t, args, "--ini")
	assert.Contains(t, args, "&pdftex")
	last := args[len(args)-1]
	assert.Contains(t, last, `\csname @@input\endcsname{mylatexformat.ltx}{a.tex}`)
	assert.Contains(t, last, `\RequirePackage{fastrecompile}`)
}

func TestBuildArgs_NotUsed_ImplicitPreambleSetsHookToken(t *testing.T) {
	cfg := Config{
		Filename:        "a.tex",
		Executable:      "pdftex",
		Jobname:         "a",
		OutputDirectory: "out",
		FormatMode:      FormatNotUsed,
	}
	args, err := buildArgs(cfg, preamble.Preamble{Implicit: true})
	require.NoError(t, err)
	last := args[len(args)-1]
	assert.Contains(t, last, `\fastrecompilesetimplicitpreamble`)
	assert.NotContains(t, last, `\fastrecompilesetimplicitpreambleii`)
}

func TestBuildArgs_PauseAtBeginDocumentEndUsesIIVariant(t *testing.T) {
	cfg := Config{
		Filename:                "a.tex",
		Executable:              "pdftex",
		Jobname:                 "a",
		OutputDirectory:         "out",
		FormatMode:              FormatNotUsed,
		PauseAtBeginDocumentEnd: true,
	}
	args, err := buildArgs(cfg, preamble.Preamble{Implicit: true})
	require.NoError(t, err)
	assert.Contains(t, args[len(args)-1], `\fastrecompilesetimplicitpreambleii`)
}

func TestBuildArgs_ExplicitPreambleNoHookToken(t *testing.T) {
	cfg := Config{Filename: "a.tex", Executable: "pdftex", Jobname: "a", OutputDirectory: "out"}
	args, err := buildArgs(cfg, preamble.Preamble{Implicit: false})
	require.NoError(t, err)
	assert.NotContains(t, args[len(args)-1], `\fastrecompilesetimplicitpreamble`)
}

func TestBuildArgs_OrderMatchesSpec(t *testing.T) {
	cfg := Config{
		Filename:        "a.tex",
		Executable:      "pdftex",
		Jobname:         "a",
		OutputDirectory: "out",
		ShellEscape:     true,
		EightBit:        true,
		Recorder:        true,
		ExtraArgs:       []string{"-foo"},
		ExtraCommands:   []string{"\\bar"},
		FormatMode:      FormatUse,
	}
	args, err := buildArgs(cfg, preamble.Preamble{})
	require.NoError(t, err)
	joined := strings.Join(args, " ")
	assert.True(t, strings.Index(joined, "--jobname=a") < strings.Index(joined, "--output-directory=out"))
	assert.True(t, strings.Index(joined, "--output-directory=out") < strings.Index(joined, "--shell-escape"))
	assert.True(t, strings.Index(joined, "-foo") < strings.Index(joined, "&a"))
	assert.Equal(t, "\\bar", args[len(args)-1])
}

func TestBuildArgs_RejectsInvalidFilename(t *testing.T) {
	cfg := Config{Filename: "~bad.tex", Executable: "pdftex", Jobname: "a", OutputDirectory: "out"}
	_, err := buildArgs(cfg, preamble.Preamble{})
	require.Error(t, err)
}
