// Package texinput escapes and normalizes filenames for safe inclusion
// in a TeX engine command line.
package texinput

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidFilename is returned by Escape when the filename cannot be
// made safe for a TeX \input argument.
var ErrInvalidFilename = errors.New("invalid filename")

var replacer = strings.NewReplacer(
	"#", `\string#`,
	" ", `\space `,
	"%", `\csname cs_to_str:N\endcsname\%`,
	"{", `\csname cs_to_str:N\endcsname\{`,
	"}", `\csname cs_to_str:N\endcsname\}`,
	`\`, `\csname cs_to_str:N\endcsname\\`,
)

// Escape validates name and translates the characters that are special
// to kpathsea or TeX's tokenizer, producing text suitable for
// concatenation inside a TeX \input{...} argument.
func Escape(name string) (string, error) {
	switch {
	case strings.HasPrefix(name, "~"):
		return "", invalidFilenameError{name: name, reason: "starts with ~ (would expand to home directory)"}
	case strings.HasPrefix(name, "|"):
		return "", invalidFilenameError{name: name, reason: "starts with | (triggers kpathsea pipe input)"}
	case strings.Contains(name, "$"):
		return "", invalidFilenameError{name: name, reason: "contains $ (triggers kpathsea variable expansion)"}
	case strings.Contains(name, `"`):
		return "", invalidFilenameError{name: name, reason: `contains " (unsupported)`}
	}
	return replacer.Replace(name), nil
}

type invalidFilenameError struct {
	name   string
	reason string
}

func (e invalidFilenameError) Error() string {
	return "invalid filename " + e.name + ": " + e.reason
}

func (e invalidFilenameError) Is(target error) bool { return target == ErrInvalidFilename }

func isNonspacingMark(r rune) bool {
	return unicode.Is(unicode.Mn, r)
}

// Normalize strips accents and spaces from a filename so it round-trips
// cleanly through the engine's command line even without Escape's
// space-escaping. Grounded on the teacher's normalizeName: NFD-decompose,
// drop nonspacing marks, recompose NFC.
func Normalize(name string) string {
	t := transform.Chain(norm.NFD, transform.RemoveFunc(isNonspacingMark), norm.NFC)
	result, _, err := transform.String(t, name)
	if err != nil {
		return strings.ReplaceAll(name, " ", "")
	}
	return strings.ReplaceAll(result, " ", "")
}
