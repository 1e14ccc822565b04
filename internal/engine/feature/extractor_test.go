package feature

import (
	"errors"
	"reflect"
	"testing"
)

func TestBagOfWordsCountsOccurrences(t *testing.T) {
	got, err := BagOfWords{}.Extract([]string{"apple", "banana", "apple"})
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	want := Counts{"apple": 2, "banana": 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBagOfWordsEmpty(t *testing.T) {
	got, err := BagOfWords{}.Extract(nil)
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty counts, got %v", got)
	}
}

func TestNGram(t *testing.T) {
	g, err := NewNGram(2)
	if err != nil {
		t.Fatalf("NewNGram error: %v", err)
	}
	got, _ := g.Extract([]string{"red", "apple", "red", "apple"})
	want := Counts{"ng=red_apple": 2, "ng=apple_red": 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if g.Name() != "ngram:2" {
		t.Errorf("Name() = %q, want ngram:2", g.Name())
	}

	short, _ := g.Extract([]string{"alone"})
	if len(short) != 0 {
		t.Errorf("expected no bigrams for one token, got %v", short)
	}
}

func TestNGramRejectsUnigram(t *testing.T) {
	if _, err := NewNGram(1); err == nil {
		t.Fatal("expected error for n=1")
	}
}

func TestCombineMergesCounts(t *testing.T) {
	g, _ := NewNGram(2)
	ext := Combine(BagOfWords{}, g)
	got, err := ext.Extract([]string{"dog", "cat"})
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	want := Counts{"dog": 1, "cat": 1, "ng=dog_cat": 1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if d := Descriptors(ext); !reflect.DeepEqual(d, []string{"bow", "ngram:2"}) {
		t.Errorf("Descriptors = %v", d)
	}
}

func TestCombineSingleIsIdentity(t *testing.T) {
	if _, ok := Combine(BagOfWords{}).(BagOfWords); !ok {
		t.Error("Combine with one part should return that part")
	}
}

func TestCountsTotal(t *testing.T) {
	c := Counts{"a": 1, "b": 2.5}
	if c.Total() != 3.5 {
		t.Errorf("Total() = %v, want 3.5", c.Total())
	}
}

func TestResolve(t *testing.T) {
	ext, err := Resolve([]string{"bow", "ngram:3"})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if d := Descriptors(ext); !reflect.DeepEqual(d, []string{"bow", "ngram:3"}) {
		t.Errorf("Descriptors = %v", d)
	}

	if _, err := Resolve([]string{"bogus"}); err == nil {
		t.Error("expected error for unknown descriptor")
	}
	if _, err := Resolve(nil); err == nil {
		t.Error("expected error for empty descriptors")
	}
	if _, err := Resolve([]string{"embedding"}); err == nil {
		t.Error("expected error for embedding without a supplied extractor")
	}
}

type fakeVectorizer struct {
	vec []float32
	err error
}

func (f fakeVectorizer) Embed(string) ([]float32, error) { return f.vec, f.err }

func TestResolveUsesSuppliedExtractor(t *testing.T) {
	emb := NewEmbedding(fakeVectorizer{vec: []float32{1}}, 1)
	ext, err := Resolve([]string{"bow", "embedding"}, emb)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	got, err := ext.Extract([]string{"x"})
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	if got["emb+0"] != 1 || got["x"] != 1 {
		t.Errorf("unexpected counts %v", got)
	}
}

func TestEmbeddingRectifies(t *testing.T) {
	emb := NewEmbedding(fakeVectorizer{vec: []float32{0.5, -0.25, 0}}, 2)
	got, err := emb.Extract([]string{"steel", "pipe"})
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	want := Counts{"emb+0": 1, "emb-1": 0.5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	for name, v := range got {
		if v < 0 {
			t.Errorf("feature %s has negative value %v", name, v)
		}
	}
}

func TestEmbeddingPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	emb := NewEmbedding(fakeVectorizer{err: boom}, 1)
	if _, err := emb.Extract([]string{"a"}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped boom, got %v", err)
	}
	got, err := emb.Extract(nil)
	if err != nil || len(got) != 0 {
		t.Errorf("empty tokens: got %v, %v", got, err)
	}
}
