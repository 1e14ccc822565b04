// Package testdata embeds a small labeled commodity corpus for tests.
package testdata

import (
	"bytes"
	_ "embed"

	"github.com/crimson-sun/doccat/internal/corpus"
	"github.com/crimson-sun/doccat/internal/model"
)

//go:embed commodities.txt
var commodities []byte

// Delimiter separates label and text in the embedded corpus.
const Delimiter = "\t"

// Commodities returns the raw corpus file.
func Commodities() []byte {
	return append([]byte(nil), commodities...)
}

// Samples parses the embedded corpus.
func Samples() ([]model.Sample, error) {
	return corpus.ReadAll(bytes.NewReader(commodities), "commodities.txt", Delimiter)
}
