// Package similarity provides the text primitives the matching engine and the
// reference resolver are built on: glyph stripping, normalised edit-distance
// similarity, and a rule-based match score.
package similarity

import (
	"strings"
	"unicode"

	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/text/unicode/norm"
)

const (
	zeroWidthJoiner    = '\u200d'
	zeroWidthNonJoiner = '\u200c'
	keycapCombining    = '\u20e3'
)

// StripGlyphs removes decorative pictographs and symbol runes from s, applies
// NFKC normalisation, collapses runs of whitespace and trims the result.
// Passes repeat until the output stops changing, so
// StripGlyphs(StripGlyphs(s)) == StripGlyphs(s). Every changing pass either
// drops runes or composes them, so the loop terminates.
func StripGlyphs(s string) string {
	out := s
	for {
		next := stripOnce(out)
		if next == out {
			return out
		}
		out = next
	}
}

func stripOnce(s string) string {
	s = norm.NFKC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case isGlyph(r):
			continue
		case unicode.IsSpace(r):
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

func isGlyph(r rune) bool {
	switch {
	case r == zeroWidthJoiner, r == zeroWidthNonJoiner, r == keycapCombining:
		return true
	case unicode.Is(unicode.Variation_Selector, r):
		return true
	case unicode.In(r, unicode.So, unicode.Sk, unicode.Co, unicode.Me):
		return true
	}
	return false
}

// Normalize strips glyphs and lower-cases s
func Normalize(s string) string {
	return strings.ToLower(StripGlyphs(s))
}

// Tokens splits the normalised form of s into words
func Tokens(s string) []string {
	return strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Similarity returns 1 - editDistance/maxLen over the normalised forms of a
// and b. It is 0 when either side is empty and 1 for equal strings.
//
// editDistance sums the edits of a Myers diff, which can exceed the true
// Levenshtein distance, so the result never scores higher than classic
// normalised Levenshtein similarity.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	la, lb := len([]rune(na)), len([]rune(nb))
	if la == 0 || lb == 0 {
		return 0
	}
	if na == nb {
		return 1
	}

	longest := la
	if lb > longest {
		longest = lb
	}

	sim := 1 - float64(editDistance(na, nb))/float64(longest)
	if sim < 0 {
		return 0
	}
	return sim
}

// editDistance is an upper bound on the Levenshtein distance of a and b
func editDistance(a, b string) int {
	dmp := diffmatchpatch.New()
	// A zero timeout disables the half-match shortcut so the diff stays minimal
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMain(a, b, false)
	return dmp.DiffLevenshtein(diffs)
}
