package model

// Sample is one labeled line of a training corpus. Label is empty for text
// that has yet to be classified. Source and Line locate it for error
// messages and are empty for in-memory samples.
type Sample struct {
	Label  string
	Text   string
	Source string
	Line   int
}
