// Package classify decides whether byte content is binary and whether text
// content looks like LaTeX source. The core checks are pure functions over
// buffers; IsMarkupFile is the only entry point that touches the filesystem.
package classify

import (
	"bytes"
	"io"
	"os"
	"strings"
	"unicode/utf8"
)

// SniffSize is the number of leading bytes inspected by every check.
const SniffSize = 4096

// printableThreshold is the minimum share of printable bytes for text.
const printableThreshold = 0.7

// Signature is a known binary magic prefix.
type Signature struct {
	Name  string
	Magic []byte
}

// BinarySignatures lists the magic prefixes that mark content as binary.
var BinarySignatures = []Signature{
	{"pdf", []byte{0x25, 0x50, 0x44, 0x46}},
	{"jpeg", []byte{0xFF, 0xD8, 0xFF}},
	{"png", []byte{0x89, 0x50, 0x4E, 0x47}},
	{"gif", []byte{0x47, 0x49, 0x46, 0x38}},
	{"bmp", []byte{0x42, 0x4D}},
	{"gzip", []byte{0x1F, 0x8B, 0x08}},
	{"zip", []byte{0x50, 0x4B, 0x03, 0x04}},
	{"rar", []byte{0x52, 0x61, 0x72, 0x21}},
}

// Sniff returns the name of the binary signature sample starts with, or "".
func Sniff(sample []byte) string {
	for _, sig := range BinarySignatures {
		if bytes.HasPrefix(sample, sig.Magic) {
			return sig.Name
		}
	}
	return ""
}

// IsBinary reports whether sample looks like binary data. Only the first
// SniffSize bytes are considered. Samples shorter than 4 bytes are never
// binary.
func IsBinary(sample []byte) bool {
	if len(sample) > SniffSize {
		sample = sample[:SniffSize]
	}
	if len(sample) < 4 {
		return false
	}
	if Sniff(sample) != "" {
		return true
	}

	printable := 0
	for _, b := range sample {
		if (b >= 32 && b <= 126) || b == '\t' || b == '\n' || b == '\r' {
			printable++
		}
	}
	return float64(printable)/float64(len(sample)) < printableThreshold
}

// markupIdioms are matched case-insensitively against the decoded prefix.
var markupIdioms = []string{
	`\documentclass`,
	`\begin{document}`,
	`\section{`,
	`\usepackage`,
	`\newcommand`,
	`\input{`,
}

// IsMarkupSource reports whether prefix looks like LaTeX: at least two
// distinct idioms, or a document class together with \begin{document}.
func IsMarkupSource(prefix []byte) bool {
	if len(prefix) > SniffSize {
		prefix = prefix[:SniffSize]
	}
	if len(prefix) == 0 || IsBinary(prefix) {
		return false
	}

	text := strings.ToLower(stripControl(decode(prefix)))

	matches := 0
	for _, idiom := range markupIdioms {
		if strings.Contains(text, idiom) {
			matches++
		}
	}
	if matches >= 2 {
		return true
	}
	return strings.Contains(text, `\documentclass`) && strings.Contains(text, `\begin{document}`)
}

// IsMarkupFile reads the head of path and applies IsMarkupSource. Missing,
// empty or unreadable files are not markup.
func IsMarkupFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	buf := make([]byte, SniffSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false
	}
	return IsMarkupSource(buf[:n])
}

// decode treats b as UTF-8, dropping invalid sequences; bytes that are not
// valid UTF-8 at all are read as Latin-1.
func decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	cleaned := strings.ToValidUTF8(string(b), "")
	if cleaned != "" {
		return cleaned
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// stripControl removes C0 control characters except tab, LF and CR.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}
