package engine

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/crimson-sun/doccat/internal/corpus"
	"github.com/crimson-sun/doccat/internal/engine/feature"
	"github.com/crimson-sun/doccat/internal/engine/maxent"
	"github.com/crimson-sun/doccat/internal/engine/testdata"
	"github.com/crimson-sun/doccat/internal/engine/tokenizer"
	"github.com/crimson-sun/doccat/internal/logging"
	"github.com/crimson-sun/doccat/internal/model"
)

var quiet = logging.Discard()

// newTestEngine trains an engine on the embedded commodity corpus.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	samples, err := testdata.Samples()
	if err != nil {
		t.Fatalf("Samples() error: %v", err)
	}
	eng, err := Train(context.Background(), corpus.NewSliceStream(samples),
		tokenizer.New(tokenizer.DefaultOptions()), feature.BagOfWords{}, maxent.DefaultTrainConfig(), quiet)
	if err != nil && !errors.Is(err, maxent.ErrConvergence) {
		t.Fatalf("Train() error: %v", err)
	}
	return eng
}

func TestProcessShipment(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		text string
		want string
	}{
		{"Fresh Apples and Bananas", "Fruits"},
		{"steel coils, hot rolled", "Metals"},
		{"cotton shirts", "Textiles"},
		{"laptop batteries", "Electronics"},
		{"acid drums", "Chemicals"},
	}
	for _, tt := range tests {
		p, err := eng.Process(tt.text)
		if err != nil {
			t.Fatalf("Process(%q) error: %v", tt.text, err)
		}
		if p.Label != tt.want {
			t.Errorf("Process(%q) = %s (%.3f), want %s", tt.text, p.Label, p.Probability, tt.want)
		}
		if p.Text != tt.text || p.ModelID == "" || p.Timestamp.IsZero() {
			t.Errorf("incomplete prediction: %+v", p)
		}
		var sum float64
		for i, o := range p.Outcomes {
			sum += o.Probability
			if i > 0 && o.Probability > p.Outcomes[i-1].Probability {
				t.Errorf("outcomes not in descending order: %v", p.Outcomes)
			}
		}
		if math.Abs(sum-1) > 1e-6 {
			t.Errorf("probabilities sum to %v", sum)
		}
		if p.Outcomes[0].Label != p.Label {
			t.Errorf("first outcome %s differs from label %s", p.Outcomes[0].Label, p.Label)
		}
	}
}

func TestProcessEmptyTextIsUniform(t *testing.T) {
	eng := newTestEngine(t)
	p, err := eng.Process("   ")
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	want := 1 / float64(eng.Model().NumLabels())
	for _, o := range p.Outcomes {
		if math.Abs(o.Probability-want) > 1e-9 {
			t.Errorf("P(%s) = %v, want %v", o.Label, o.Probability, want)
		}
	}
}

func TestProcessCountsOutOfVocabulary(t *testing.T) {
	eng := newTestEngine(t)
	p, err := eng.Process("steel zeppelin")
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if p.OutOfVocabulary != 1 {
		t.Errorf("OutOfVocabulary = %d, want 1", p.OutOfVocabulary)
	}
}

func TestProcessBatchConsistency(t *testing.T) {
	eng := newTestEngine(t)
	texts := []string{"copper wire", "silk dresses", "mobile phones"}

	batched, err := eng.ProcessBatch(texts)
	if err != nil {
		t.Fatalf("ProcessBatch() error: %v", err)
	}
	if len(batched) != len(texts) {
		t.Fatalf("batch len = %d, want %d", len(batched), len(texts))
	}
	for i, text := range texts {
		single, _ := eng.Process(text)
		if batched[i].Label != single.Label || batched[i].Probability != single.Probability {
			t.Errorf("[%d] batch %s/%v, single %s/%v", i, batched[i].Label, batched[i].Probability,
				single.Label, single.Probability)
		}
	}
}

func TestProcessEmptyBatch(t *testing.T) {
	eng := newTestEngine(t)
	preds, err := eng.ProcessBatch(nil)
	if err != nil {
		t.Fatalf("ProcessBatch(nil) error: %v", err)
	}
	if preds != nil {
		t.Errorf("expected nil, got %d predictions", len(preds))
	}
}

func TestFromModelRestoresPipeline(t *testing.T) {
	samples, _ := testdata.Samples()
	ngram, _ := feature.NewNGram(2)
	ext := feature.Combine(feature.BagOfWords{}, ngram)
	tok := tokenizer.New(tokenizer.Options{Lowercase: true})

	eng, err := Train(context.Background(), corpus.NewSliceStream(samples), tok, ext, maxent.DefaultTrainConfig(), quiet)
	if err != nil && !errors.Is(err, maxent.ErrConvergence) {
		t.Fatalf("Train() error: %v", err)
	}
	data, err := eng.Model().MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	m, err := maxent.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := FromModel(m)
	if err != nil {
		t.Fatalf("FromModel() error: %v", err)
	}
	if restored.Tokenizer().Options() != tok.Options() {
		t.Errorf("tokenizer options = %+v, want %+v", restored.Tokenizer().Options(), tok.Options())
	}
	for _, text := range []string{"Stainless Steel Pipes", "denim jeans", ""} {
		a, _ := eng.Process(text)
		b, _ := restored.Process(text)
		if a.Label != b.Label || a.Probability != b.Probability {
			t.Errorf("%q: original %s/%v, restored %s/%v", text, a.Label, a.Probability, b.Label, b.Probability)
		}
	}
}

func TestFromModelNeedsEmbedding(t *testing.T) {
	samples := []model.Sample{{Label: "a", Text: "x"}, {Label: "b", Text: "y"}}
	emb := feature.NewEmbedding(constVectorizer{1, -1}, 1)
	eng, err := Train(context.Background(), corpus.NewSliceStream(samples),
		tokenizer.New(tokenizer.DefaultOptions()), feature.Combine(feature.BagOfWords{}, emb),
		maxent.DefaultTrainConfig(), quiet)
	if err != nil && !errors.Is(err, maxent.ErrConvergence) {
		t.Fatalf("Train() error: %v", err)
	}
	if _, err := FromModel(eng.Model()); err == nil {
		t.Error("expected error without the embedding extractor")
	}
	if _, err := FromModel(eng.Model(), emb); err != nil {
		t.Errorf("FromModel with embedding: %v", err)
	}
}

type constVectorizer []float32

func (c constVectorizer) Embed(string) ([]float32, error) { return c, nil }

func TestTrainInsufficientData(t *testing.T) {
	samples := []model.Sample{{Label: "only", Text: "one label here"}}
	_, err := Train(context.Background(), corpus.NewSliceStream(samples),
		tokenizer.New(tokenizer.DefaultOptions()), feature.BagOfWords{}, maxent.DefaultTrainConfig(), quiet)
	if !errors.Is(err, maxent.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestTrainCancelled(t *testing.T) {
	samples, _ := testdata.Samples()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng, err := Train(ctx, corpus.NewSliceStream(samples),
		tokenizer.New(tokenizer.DefaultOptions()), feature.BagOfWords{}, maxent.DefaultTrainConfig(), quiet)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if eng == nil {
		t.Fatal("expected an engine with the best weights so far")
	}
}

func TestCorpusAccuracy(t *testing.T) {
	eng := newTestEngine(t)
	samples, _ := testdata.Samples()
	correct := 0
	for _, s := range samples {
		p, err := eng.Process(s.Text)
		if err != nil {
			t.Fatal(err)
		}
		if p.Label == s.Label {
			correct++
		} else {
			t.Logf("miss: %q classified as %s, want %s", s.Text, p.Label, s.Label)
		}
	}
	acc := float64(correct) / float64(len(samples))
	t.Logf("training accuracy: %d/%d (%.1f%%)", correct, len(samples), acc*100)
	if acc < 0.9 {
		t.Errorf("training accuracy %.3f below 0.9", acc)
	}
}
