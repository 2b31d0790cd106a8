package semantic

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Encoding is a negotiated LSP position encoding.
type Encoding string

const (
	UTF8  Encoding = "utf-8"
	UTF16 Encoding = "utf-16"
	UTF32 Encoding = "utf-32"
)

// ParseEncoding maps a server-announced encoding onto a known one.
// Servers that announce nothing use UTF-16.
func ParseEncoding(s string) Encoding {
	switch Encoding(strings.ToLower(s)) {
	case UTF8:
		return UTF8
	case UTF32:
		return UTF32
	default:
		return UTF16
	}
}

// ByteOffset converts col, counted in e's code units, to a byte offset into
// line. ok is false when col lies past the end of the line or inside a
// multi-unit character.
func (e Encoding) ByteOffset(line string, col int) (int, bool) {
	if col < 0 {
		return 0, false
	}
	if e == UTF8 {
		return col, col <= len(line)
	}
	units := 0
	for i, r := range line {
		if units == col {
			return i, true
		}
		if units > col {
			return 0, false
		}
		units += e.runeUnits(r)
	}
	if units == col {
		return len(line), true
	}
	return 0, false
}

// Column converts a byte offset into line to e's code units.
func (e Encoding) Column(line string, offset int) int {
	if offset > len(line) {
		offset = len(line)
	}
	if e == UTF8 {
		return offset
	}
	units := 0
	for _, r := range line[:offset] {
		units += e.runeUnits(r)
	}
	return units
}

func (e Encoding) runeUnits(r rune) int {
	if e == UTF32 {
		return 1
	}
	if n := utf16.RuneLen(r); n > 0 {
		return n
	}
	return 1
}

// Lines splits document text into lines without their terminators.
func Lines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// slice extracts the text of a single-line token. ok is false when the
// token does not fit the line.
func (e Encoding) slice(line string, start, length int) (string, bool) {
	from, ok := e.ByteOffset(line, start)
	if !ok {
		return "", false
	}
	to, ok := e.ByteOffset(line, start+length)
	if !ok || !utf8.ValidString(line[from:to]) {
		return "", false
	}
	return line[from:to], true
}
