package output

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/crimson-sun/doccat/internal/model"
)

// Verbosity controls how much of a prediction is emitted.
type Verbosity int

const (
	Minimal  Verbosity = iota // label and probability only
	Standard                  // text truncated, all outcomes
	Full                      // everything
)

const (
	minimalTextLen  = 200
	standardTextLen = 2000
)

// ParseVerbosity maps "minimal", "standard" and "full" to a Verbosity.
func ParseVerbosity(s string) (Verbosity, error) {
	switch strings.ToLower(s) {
	case "minimal":
		return Minimal, nil
	case "standard", "":
		return Standard, nil
	case "full":
		return Full, nil
	}
	return Standard, fmt.Errorf("output: unknown verbosity %q", s)
}

func (v Verbosity) String() string {
	switch v {
	case Minimal:
		return "minimal"
	case Full:
		return "full"
	default:
		return "standard"
	}
}

// FormatPrediction returns a copy of p trimmed for verbosity. At Minimal the
// outcome list and OOV count are dropped and the text is shortened. At
// Standard long texts are truncated.
func FormatPrediction(p model.Prediction, v Verbosity) model.Prediction {
	switch v {
	case Minimal:
		p.Text = truncate(p.Text, minimalTextLen)
		p.Outcomes = nil
		p.OutOfVocabulary = 0
	case Standard:
		p.Text = truncate(p.Text, standardTextLen)
	}
	return p
}

// truncate cuts s to at most n bytes on a rune boundary and marks the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
