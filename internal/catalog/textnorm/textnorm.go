// Package textnorm cleans free-text catalog fields before they are indexed
// and user search input before it is sent to the index.
package textnorm

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/unicode/norm"
)

// Punctuation is the ASCII punctuation set removed by StripPunctuation.
const Punctuation = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Options selects which cleaning steps Normalize applies. Whitespace is
// always collapsed.
type Options struct {
	StripAccents     bool
	StripPunctuation bool
}

var (
	// Default strips both accents and punctuation.
	Default = Options{StripAccents: true, StripPunctuation: true}
	// KeepPunctuation only folds accents.
	KeepPunctuation = Options{StripAccents: true}
)

// Normalize cleans text according to opts. Punctuation is removed before
// folding, so ASCII produced by folding ("¿" to "?", "«" to "<<") survives a
// Default pass.
func Normalize(text string, opts Options) string {
	if opts.StripPunctuation {
		text = stripPunctuation(text)
	}
	if opts.StripAccents {
		text = FoldAccents(text)
	}
	return collapseSpace(text)
}

// NormalizePtr is Normalize for optional values; nil yields "".
func NormalizePtr(text *string, opts Options) string {
	if text == nil {
		return ""
	}
	return Normalize(*text, opts)
}

// NormalizeQuery prepares user search input: accents folded, whitespace
// collapsed and lowercased. Punctuation is left for the index analyzer.
func NormalizeQuery(text string) string {
	return strings.ToLower(Normalize(text, KeepPunctuation))
}

// FoldAccents transliterates every non-ASCII character to ASCII: accents
// are dropped, other scripts are romanized and symbols get their ASCII
// spelling. Characters with no equivalent are removed.
func FoldAccents(text string) string {
	if isASCII(text) {
		return text
	}
	return unidecode.Unidecode(norm.NFC.String(text))
}

func stripPunctuation(text string) string {
	return strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && strings.ContainsRune(Punctuation, r) {
			return -1
		}
		return r
	}, text)
}

func collapseSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
