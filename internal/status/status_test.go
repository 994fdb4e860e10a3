package status

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFromString(t *testing.T) {
	cases := map[string]Level{
		"no":         LevelNo,
		"errors":     LevelErrors,
		"errors+log": LevelErrorsAndLog,
		"actions":    LevelActions,
		"debug":      LevelDebug,
	}
	for s, want := range cases {
		got, err := LevelFromString(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := LevelFromString("bogus")
	assert.Error(t, err)
}

func TestAction_GatedByLevel(t *testing.T) {
	var buf bytes.Buffer
	r := New(LevelErrors, &buf, nil)
	r.Action("hello")
	assert.Empty(t, buf.String())

	r2 := New(LevelActions, &buf, nil)
	r2.Action("hello")
	assert.Contains(t, buf.String(), "hello")
}

func TestError_GatedByLevel(t *testing.T) {
	var buf bytes.Buffer
	r := New(LevelNo, &buf, nil)
	r.Error("boom")
	assert.Empty(t, buf.String())

	r2 := New(LevelErrors, &buf, nil)
	r2.Error("boom")
	assert.Contains(t, buf.String(), "boom")
}

func TestDebugf_NilLoggerIsSilent(t *testing.T) {
	r := New(LevelDebug, &bytes.Buffer{}, nil)
	assert.NotPanics(t, func() { r.Debugf("x=%d", 1) })
}

func TestDelimit(t *testing.T) {
	out := Delimit("start", "end", "body")
	assert.Contains(t, out, "start")
	assert.Contains(t, out, "body")
	assert.Contains(t, out, "end")
}

func TestSanitizeLog_NilPatternReturnsRawLog(t *testing.T) {
	out := SanitizeLog([]byte("anything at all"), nil)
	assert.Contains(t, out, "anything at all")
	assert.Contains(t, out, "raw log")
}

func TestSanitizeLog_FiltersToMatchedLines(t *testing.T) {
	re := regexp.MustCompile(`(?m)^! .*$`)
	log := []byte("some noise\n! Undefined control sequence.\nmore noise\n")
	out := SanitizeLog(log, re)
	assert.Contains(t, out, "! Undefined control sequence.")
	assert.NotContains(t, out, "some noise")
}

func TestSanitizeLog_NoMatchReportsNothingInteresting(t *testing.T) {
	re := regexp.MustCompile(`(?m)^! .*$`)
	out := SanitizeLog([]byte("all clean, nothing to see"), re)
	assert.Equal(t, "Nothing interesting in the log.", out)
}

func TestDumpLog_GatedByErrorsAndLogLevel(t *testing.T) {
	var buf bytes.Buffer
	r := New(LevelErrors, &buf, nil)
	r.DumpLog([]byte("! boom"), nil)
	assert.Empty(t, buf.String())

	r2 := New(LevelErrorsAndLog, &buf, nil)
	r2.DumpLog([]byte("! boom"), nil)
	assert.Contains(t, buf.String(), "boom")
}
