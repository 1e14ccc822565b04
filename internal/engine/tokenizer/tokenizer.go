// Package tokenizer splits raw text into normalized tokens. The same
// tokenizer settings are used for training corpora and for inference text.
package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Options controls normalization. The zero value keeps case and accents and
// drops punctuation.
type Options struct {
	Lowercase       bool `yaml:"lowercase"`
	StripAccents    bool `yaml:"strip_accents"`
	KeepPunctuation bool `yaml:"keep_punctuation"`
}

// DefaultOptions lowercases and strips accents.
func DefaultOptions() Options {
	return Options{Lowercase: true, StripAccents: true}
}

// Flags packs the options into a single byte for model metadata.
func (o Options) Flags() uint8 {
	var f uint8
	if o.Lowercase {
		f |= 1
	}
	if o.StripAccents {
		f |= 2
	}
	if o.KeepPunctuation {
		f |= 4
	}
	return f
}

// OptionsFromFlags is the inverse of Options.Flags.
func OptionsFromFlags(f uint8) Options {
	return Options{
		Lowercase:       f&1 != 0,
		StripAccents:    f&2 != 0,
		KeepPunctuation: f&4 != 0,
	}
}

// Tokenizer is safe for concurrent use.
type Tokenizer struct {
	opts Options
}

// New creates a Tokenizer with the given options.
func New(opts Options) *Tokenizer {
	return &Tokenizer{opts: opts}
}

// Options returns the settings this tokenizer was built with.
func (t *Tokenizer) Options() Options {
	return t.opts
}

// Tokenize normalizes text (NFKC, optional lowercase and accent stripping)
// and splits it on whitespace and punctuation.
func (t *Tokenizer) Tokenize(text string) []string {
	text = norm.NFKC.String(cleanText(text))
	if t.opts.Lowercase {
		// Casers carry state, so one is built per call.
		text = cases.Lower(language.Und).String(text)
	}
	if t.opts.StripAccents {
		text = stripAccents(text)
	}

	var tokens []string
	for _, word := range strings.Fields(text) {
		tokens = append(tokens, t.splitOnPunctuation(word)...)
	}
	return tokens
}

// splitOnPunctuation breaks a word at punctuation runes. Punctuation becomes
// its own token only when KeepPunctuation is set.
func (t *Tokenizer) splitOnPunctuation(word string) []string {
	var tokens []string
	var current strings.Builder
	for _, r := range word {
		if !isPunctuation(r) {
			current.WriteRune(r)
			continue
		}
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
		if t.opts.KeepPunctuation {
			tokens = append(tokens, string(r))
		}
	}
	if current.Len() > 0 {
		tokens = append(tokens, current.String())
	}
	return tokens
}

// cleanText drops control characters and maps every whitespace rune to a
// plain space.
func cleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == 0 || r == unicode.ReplacementChar:
			continue
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripAccents(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range norm.NFD.String(text) {
		if unicode.In(r, unicode.Mn) {
			continue
		}
		b.WriteRune(r)
	}
	return norm.NFC.String(b.String())
}

func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) ||
		(r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
