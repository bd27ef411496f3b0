package text

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// strippedControls are the C0 controls and DEL removed before any other
// stage. Tab, LF and CR survive: tab is collapsed later, LF and CR are
// handled by line-ending unification.
var strippedControls = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x0000, Hi: 0x0008, Stride: 1},
		{Lo: 0x000B, Hi: 0x000C, Stride: 1},
		{Lo: 0x000E, Hi: 0x001F, Stride: 1},
		{Lo: 0x007F, Hi: 0x007F, Stride: 1},
	},
	LatinOffset: 4,
}

// horizontalSpace is every space-like rune that collapses to a single
// ASCII space. It includes the zero-width space and the mongolian vowel
// separator, which unicode.IsSpace does not report.
var horizontalSpace = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x0009, Hi: 0x0009, Stride: 1},
		{Lo: 0x000B, Hi: 0x000C, Stride: 1},
		{Lo: 0x0020, Hi: 0x0020, Stride: 1},
		{Lo: 0x00A0, Hi: 0x00A0, Stride: 1},
		{Lo: 0x1680, Hi: 0x1680, Stride: 1},
		{Lo: 0x180E, Hi: 0x180E, Stride: 1},
		{Lo: 0x2000, Hi: 0x200B, Stride: 1},
		{Lo: 0x202F, Hi: 0x202F, Stride: 1},
		{Lo: 0x205F, Hi: 0x205F, Stride: 1},
		{Lo: 0x3000, Hi: 0x3000, Stride: 1},
	},
	LatinOffset: 4,
}

// lineEndings unifies CRLF and bare CR to LF. CRLF is listed first so a
// CR followed by LF is consumed as one break.
var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

var blankLineRun = regexp.MustCompile(`\n{3,}`)

// canonicalize is decided once at init. When NFC is not usable the stage
// is skipped instead of failing the pipeline.
var canonicalize = probeCanonicalization()

func probeCanonicalization() bool {
	// "e" + COMBINING ACUTE ACCENT composes to U+00E9.
	return norm.NFC.String("e\u0301") == "\u00e9"
}

// CanonicalizationAvailable reports whether Normalize applies NFC.
func CanonicalizationAvailable() bool { return canonicalize }

// Normalize returns the canonical storage form of s.
//
// Control characters are stripped, the text is NFC-composed, line endings
// become \n, horizontal whitespace runs collapse to one space, every line
// is trimmed, runs of blank lines are capped at one and the result is
// trimmed. Normalize is total, idempotent and safe for concurrent use.
// Invalid UTF-8 sequences are replaced with U+FFFD.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	s = strings.Map(stripControl, s)
	if canonicalize {
		s = norm.NFC.String(s)
	}

	s = lineEndings.Replace(s)
	s = collapseHorizontalSpace(s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimFunc(line, isTrimSpace)
	}
	s = strings.Join(lines, "\n")

	s = blankLineRun.ReplaceAllLiteralString(s, "\n\n")

	return strings.TrimFunc(s, isTrimSpace)
}

func stripControl(r rune) rune {
	if unicode.Is(strippedControls, r) {
		return -1
	}
	return r
}

func collapseHorizontalSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inRun := false
	for _, r := range s {
		if unicode.Is(horizontalSpace, r) {
			if !inRun {
				b.WriteByte(' ')
				inRun = true
			}
			continue
		}
		inRun = false
		b.WriteRune(r)
	}

	return b.String()
}

// isTrimSpace matches what line and string trimming remove: the
// horizontal set, line breaks, the Unicode line/paragraph separators and
// the byte order mark.
func isTrimSpace(r rune) bool {
	switch r {
	case '\n', '\r', '\u2028', '\u2029', '\uFEFF':
		return true
	}
	return unicode.Is(horizontalSpace, r)
}
