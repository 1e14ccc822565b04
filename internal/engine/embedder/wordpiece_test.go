package embedder

import (
	"os"
	"reflect"
	"strings"
	"testing"
)

// ids are line numbers: [PAD]=0 [UNK]=1 [CLS]=2 [SEP]=3 ...
const testVocab = `[PAD]
[UNK]
[CLS]
[SEP]
steel
pipe
##s
cafe
,
fresh
`

func testWordPiece(t *testing.T) *wordPiece {
	t.Helper()
	v, err := readWordVocab(strings.NewReader(testVocab))
	if err != nil {
		t.Fatalf("readWordVocab error: %v", err)
	}
	return newWordPiece(v)
}

func TestWordPieceIDs(t *testing.T) {
	wp := testWordPiece(t)
	tests := []struct {
		text string
		want []int64
	}{
		{"", []int64{2, 3}},
		{"Steel pipes", []int64{2, 4, 5, 6, 3}},
		{"Café, fresh", []int64{2, 7, 8, 9, 3}},
		{"zinc", []int64{2, 1, 3}},
		{"steelx", []int64{2, 1, 3}},
	}
	for _, tt := range tests {
		if got := wp.ids(tt.text); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ids(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestWordPieceTruncates(t *testing.T) {
	wp := testWordPiece(t)
	got := wp.ids(strings.Repeat("steel ", 500))
	if len(got) != maxSeqLen {
		t.Fatalf("len = %d, want %d", len(got), maxSeqLen)
	}
	if got[0] != wp.vocab.cls || got[len(got)-1] != wp.vocab.sep {
		t.Errorf("truncated sequence must keep [CLS] and [SEP]: %v", got[:3])
	}
}

func TestEncodePadsToLongest(t *testing.T) {
	wp := testWordPiece(t)
	e := wp.encode([]string{"steel", "steel pipes fresh"})
	if e.batch != 2 || e.seqLen != 6 {
		t.Fatalf("batch=%d seqLen=%d, want 2 and 6", e.batch, e.seqLen)
	}
	wantMask := []int64{1, 1, 1, 0, 0, 0, 1, 1, 1, 1, 1, 1}
	if !reflect.DeepEqual(e.attentionMask, wantMask) {
		t.Errorf("mask = %v, want %v", e.attentionMask, wantMask)
	}
	if e.inputIDs[3] != wp.vocab.pad {
		t.Errorf("padding id = %d, want %d", e.inputIDs[3], wp.vocab.pad)
	}
}

func TestReadWordVocabRequiresSpecials(t *testing.T) {
	if _, err := readWordVocab(strings.NewReader("[PAD]\n[UNK]\nhello\n")); err == nil {
		t.Error("expected error for vocabulary without [CLS]/[SEP]")
	}
	if _, err := readWordVocab(strings.NewReader("")); err == nil {
		t.Error("expected error for empty vocabulary")
	}
}

// TestEmbedderModel runs only when a local encoder is available.
func TestEmbedderModel(t *testing.T) {
	model, vocab := os.Getenv("DOCCAT_EMBED_MODEL"), os.Getenv("DOCCAT_EMBED_VOCAB")
	if model == "" || vocab == "" {
		t.Skip("DOCCAT_EMBED_MODEL and DOCCAT_EMBED_VOCAB not set")
	}
	e, err := New(Config{ModelPath: model, VocabPath: vocab})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer e.Close()

	vecs, err := e.EmbedBatch([]string{"fresh apples", "steel pipes"})
	if err != nil {
		t.Fatalf("EmbedBatch error: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != e.Dim() {
		t.Fatalf("unexpected shape: %d vectors of %d", len(vecs), len(vecs[0]))
	}
	var norm float64
	for _, x := range vecs[0] {
		norm += float64(x) * float64(x)
	}
	if norm < 0.99 || norm > 1.01 {
		t.Errorf("vector not unit length: %v", norm)
	}
}
