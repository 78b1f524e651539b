// Package retrieval implements the Hybrid Retrieval Engine (spec §4.4):
// dense + lexical candidate generation per data_source, RRF fusion, and
// the profile direct-lookup shortcut.
package retrieval

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"
)

// caseFolder applies Unicode-aware case folding (vs. strings.ToLower,
// which mishandles some non-ASCII letters) to the English branch.
var caseFolder = cases.Fold()

// stopwords is a small English stopword list; good enough to keep obviously
// low-signal terms out of the lexical query without a pack dependency (no
// example repo ships a stopword list or stemmer — see DESIGN.md).
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"of": {}, "to": {}, "in": {}, "on": {}, "at": {}, "for": {}, "and": {},
	"or": {}, "with": {}, "it": {}, "this": {}, "that": {}, "be": {}, "as": {},
}

// BuildLexicalQuery normalizes a raw query into the token string sent to
// the FullTextSearch backend. It mirrors spec §4.4's "Lexical branch":
// fold fullwidth/halfwidth forms, detect CJK by Unicode range, and for CJK
// text split every CJK rune into its own token (there is no real
// segmenter), keeping those single-rune tokens and dropping only non-CJK
// runs shorter than 2 runes, so CJK tokens get no minimum-length filter;
// otherwise case-fold, tokenize on non-letters, drop stopwords, and apply a
// light suffix-stripping stem.
func BuildLexicalQuery(query string) string {
	// Fold fullwidth/halfwidth forms first: CJK text commonly mixes in
	// fullwidth Latin letters, digits, and punctuation, which would
	// otherwise dodge both the CJK-rune checks below and the stopword/
	// stem tables (built against their halfwidth equivalents).
	query = width.Fold.String(query)
	if containsCJK(query) {
		return buildCJKQuery(query)
	}
	return buildEnglishQuery(query)
}

func containsCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}

func buildCJKQuery(s string) string {
	var tokens []string
	var run []rune
	flush := func() {
		if len(run) >= 1 {
			tokens = append(tokens, string(run))
		}
		run = nil
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			flush()
			continue
		}
		if isCJKRune(r) {
			flush()
			tokens = append(tokens, string(r))
			continue
		}
		run = append(run, r)
	}
	flush()
	out := tokens[:0]
	for _, t := range tokens {
		if len([]rune(t)) >= 2 || isCJKRune([]rune(t)[0]) {
			out = append(out, t)
		}
	}
	return strings.Join(out, " ")
}

func isCJKRune(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

func buildEnglishQuery(s string) string {
	fields := strings.FieldsFunc(caseFolder.String(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, stem(f))
	}
	return strings.Join(out, " ")
}

// stem strips a handful of common English suffixes. This is a minimal
// heuristic, not a full Porter stemmer; see DESIGN.md.
func stem(w string) string {
	for _, suf := range []string{"ing", "edly", "ed", "ies", "es", "s"} {
		if len(w) > len(suf)+2 && strings.HasSuffix(w, suf) {
			return strings.TrimSuffix(w, suf)
		}
	}
	return w
}
