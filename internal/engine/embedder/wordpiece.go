package embedder

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/crimson-sun/doccat/internal/engine/tokenizer"
)

const (
	maxSeqLen    = 128
	maxWordRunes = 200
	continuation = "##"
	unknownToken = "[UNK]"
)

// wordVocab is a WordPiece vocabulary; a token's id is its line number.
type wordVocab struct {
	ids map[string]int64

	pad, unk, cls, sep int64
}

func loadWordVocab(path string) (*wordVocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	defer f.Close()
	v, err := readWordVocab(f)
	if err != nil {
		return nil, fmt.Errorf("vocab %s: %w", path, err)
	}
	return v, nil
}

func readWordVocab(r io.Reader) (*wordVocab, error) {
	v := &wordVocab{ids: make(map[string]int64, 32000)}
	sc := bufio.NewScanner(r)
	var n int64
	for sc.Scan() {
		v.ids[sc.Text()] = n
		n++
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("empty vocabulary")
	}
	for name, dst := range map[string]*int64{"[PAD]": &v.pad, unknownToken: &v.unk, "[CLS]": &v.cls, "[SEP]": &v.sep} {
		id, ok := v.ids[name]
		if !ok {
			return nil, fmt.Errorf("missing special token %s", name)
		}
		*dst = id
	}
	return v, nil
}

func (v *wordVocab) id(tok string) int64 {
	if id, ok := v.ids[tok]; ok {
		return id
	}
	return v.unk
}

// encoded is a padded batch of token ids, flat [batch*seqLen].
type encoded struct {
	inputIDs      []int64
	attentionMask []int64
	tokenTypeIDs  []int64
	batch, seqLen int64
}

// wordPiece splits text into BERT sub-word ids. Words come from the
// canonical tokenizer with punctuation kept, so text is normalized the same
// way for sparse and dense features.
type wordPiece struct {
	vocab *wordVocab
	words *tokenizer.Tokenizer
}

func newWordPiece(v *wordVocab) *wordPiece {
	return &wordPiece{
		vocab: v,
		words: tokenizer.New(tokenizer.Options{Lowercase: true, StripAccents: true, KeepPunctuation: true}),
	}
}

// ids returns [CLS] pieces... [SEP], truncated to maxSeqLen.
func (w *wordPiece) ids(text string) []int64 {
	out := []int64{w.vocab.cls}
	for _, word := range w.words.Tokenize(text) {
		for _, piece := range w.split(word) {
			if len(out) == maxSeqLen-1 {
				return append(out, w.vocab.sep)
			}
			out = append(out, w.vocab.id(piece))
		}
	}
	return append(out, w.vocab.sep)
}

// split applies greedy longest-match-first WordPiece to one word. A word
// with any unmatchable remainder becomes a single [UNK].
func (w *wordPiece) split(word string) []string {
	runes := []rune(word)
	if len(runes) > maxWordRunes {
		return []string{unknownToken}
	}
	var pieces []string
	for start := 0; start < len(runes); {
		end := len(runes)
		var piece string
		for ; end > start; end-- {
			cand := string(runes[start:end])
			if start > 0 {
				cand = continuation + cand
			}
			if _, ok := w.vocab.ids[cand]; ok {
				piece = cand
				break
			}
		}
		if piece == "" {
			return []string{unknownToken}
		}
		pieces = append(pieces, piece)
		start = end
	}
	return pieces
}

// encode pads every text to the longest sequence in the batch.
func (w *wordPiece) encode(texts []string) encoded {
	seqs := make([][]int64, len(texts))
	var longest int
	for i, t := range texts {
		seqs[i] = w.ids(t)
		longest = max(longest, len(seqs[i]))
	}

	total := len(texts) * longest
	e := encoded{
		inputIDs:      make([]int64, total),
		attentionMask: make([]int64, total),
		tokenTypeIDs:  make([]int64, total),
		batch:         int64(len(texts)),
		seqLen:        int64(longest),
	}
	for i, seq := range seqs {
		row := i * longest
		for j, id := range seq {
			e.inputIDs[row+j] = id
			e.attentionMask[row+j] = 1
		}
		for j := len(seq); j < longest; j++ {
			e.inputIDs[row+j] = w.vocab.pad
		}
	}
	return e
}
