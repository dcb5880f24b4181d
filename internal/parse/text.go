package parse

import (
	"strings"
	"unicode"
)

// foldDiacritics maps German diacritics onto their base letters so that
// matching is insensitive to umlaut spelling variants ("Migräne" vs
// "Migraene" handled via both directions being folded).
var foldDiacritics = strings.NewReplacer(
	"ä", "a", "ö", "o", "ü", "u", "ß", "ss",
	"á", "a", "à", "a", "é", "e", "è", "e",
)

// foldKey lowercases s and strips diacritics. Used as the comparison key for
// fuzzy medication matching.
func foldKey(s string) string {
	return foldDiacritics.Replace(strings.ToLower(s))
}

// findPhrase locates phrase in lower (both already lowercased) requiring
// non-letter boundaries on both sides, so "stark" does not match inside
// "verstärkt". Returns the byte index or -1.
func findPhrase(lower, phrase string) int {
	from := 0
	for {
		idx := strings.Index(lower[from:], phrase)
		if idx < 0 {
			return -1
		}
		idx += from
		if letterBoundary(lower, idx, len(phrase)) {
			return idx
		}
		from = idx + len(phrase)
	}
}

// letterBoundary reports whether the match at [idx, idx+n) is not embedded
// in a longer letter run.
func letterBoundary(s string, idx, n int) bool {
	if idx > 0 {
		r := lastRune(s[:idx])
		if unicode.IsLetter(r) {
			return false
		}
	}
	if idx+n < len(s) {
		r := firstRune(s[idx+n:])
		if unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func lastRune(s string) rune {
	var last rune
	for _, r := range s {
		last = r
	}
	return last
}

// consume blanks out the byte range [idx, idx+n) of text so the span cannot
// match a later extraction stage. Whitespace is collapsed when the note
// residual is assembled.
func consume(text string, idx, n int) string {
	return text[:idx] + strings.Repeat(" ", n) + text[idx+n:]
}

// collapseSpaces trims text and folds internal whitespace runs into single
// spaces.
func collapseSpaces(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
