// Package slug derives URL-safe identifiers from human names.
package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fallback is used when a name has no usable characters.
const Fallback = "unknown"

var (
	invalidChars       = regexp.MustCompile(`[^-._a-z0-9]+`)
	leadingPunctuation = regexp.MustCompile(`^[-._]+`)
	dashRuns           = regexp.MustCompile(`-+`)
)

// stripMarks decomposes accented characters and drops the combining marks.
var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Make turns a version name into its candidate slug: lowercase, runs of
// characters outside [-._a-z0-9] become "-", leading punctuation is dropped.
// "1%0" and "1-0" both become "1-0".
func Make(name string) string {
	if name == "" {
		return ""
	}
	s, _, err := transform.String(stripMarks, name)
	if err != nil {
		s = name
	}
	s = strings.ToLower(s)
	s = invalidChars.ReplaceAllString(s, "-")
	s = leadingPunctuation.ReplaceAllString(s, "")
	s = dashRuns.ReplaceAllString(s, "-")
	if s == "" {
		return Fallback
	}
	return s
}

// Suffix encodes iteration (1-based) as lowercase letters: 1 -> "_a",
// 26 -> "_z", 27 -> "_aa".
func Suffix(iteration int) string {
	if iteration <= 0 {
		return ""
	}
	var b []byte
	for iteration > 0 {
		iteration--
		b = append([]byte{byte('a' + iteration%26)}, b...)
		iteration /= 26
	}
	return "_" + string(b)
}

// Unique returns the first of candidate, candidate_a, candidate_b, ... for
// which taken reports false.
func Unique(candidate string, taken func(string) bool) string {
	s := candidate
	for i := 1; taken(s); i++ {
		s = candidate + Suffix(i)
	}
	return s
}

// UniqueIn is Unique against a set of existing slugs.
func UniqueIn(candidate string, existing map[string]bool) string {
	return Unique(candidate, func(s string) bool { return existing[s] })
}
