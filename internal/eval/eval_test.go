package eval

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/crimson-sun/doccat/internal/corpus"
	"github.com/crimson-sun/doccat/internal/engine"
	"github.com/crimson-sun/doccat/internal/engine/feature"
	"github.com/crimson-sun/doccat/internal/engine/maxent"
	"github.com/crimson-sun/doccat/internal/engine/testdata"
	"github.com/crimson-sun/doccat/internal/engine/tokenizer"
	"github.com/crimson-sun/doccat/internal/logging"
	"github.com/crimson-sun/doccat/internal/model"
)

// keywordClassifier labels text by the first keyword it contains.
type keywordClassifier map[string]string

func (k keywordClassifier) Classify(text string) (maxent.Result, error) {
	if text == "fail" {
		return maxent.Result{}, errors.New("cannot classify")
	}
	label := "Other"
	for word, l := range k {
		if strings.Contains(text, word) {
			label = l
			break
		}
	}
	return maxent.Result{Outcomes: []maxent.Outcome{{Label: label, Probability: 1}}}, nil
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestEvaluate(t *testing.T) {
	c := keywordClassifier{"apple": "Fruits", "steel": "Metals"}
	samples := []model.Sample{
		{Label: "Fruits", Text: "apple crates"},
		{Label: "Fruits", Text: "banana boxes"}, // predicted Other
		{Label: "Metals", Text: "steel coils"},
		{Label: "Metals", Text: "fail"},
	}

	r := Evaluate(c, samples)
	if r.Samples != 4 || r.Correct != 2 || r.Failed != 1 {
		t.Fatalf("Samples=%d Correct=%d Failed=%d", r.Samples, r.Correct, r.Failed)
	}
	if !approx(r.Accuracy, 0.5) {
		t.Errorf("Accuracy = %v, want 0.5", r.Accuracy)
	}
	if r.Confusion["Fruits"]["Other"] != 1 || r.Confusion["Fruits"]["Fruits"] != 1 {
		t.Errorf("Confusion = %v", r.Confusion)
	}

	byLabel := map[string]LabelStats{}
	for _, s := range r.Labels {
		byLabel[s.Label] = s
	}
	if got := []string{r.Labels[0].Label, r.Labels[1].Label, r.Labels[2].Label}; got[0] != "Fruits" || got[1] != "Metals" || got[2] != "Other" {
		t.Errorf("labels not sorted: %v", got)
	}
	fruits := byLabel["Fruits"]
	if !approx(fruits.Precision, 1) || !approx(fruits.Recall, 0.5) || !approx(fruits.F1, 2.0/3) {
		t.Errorf("Fruits = %+v", fruits)
	}
	metals := byLabel["Metals"]
	if metals.Support != 2 || !approx(metals.Recall, 0.5) || !approx(metals.Precision, 1) {
		t.Errorf("Metals = %+v", metals)
	}
	other := byLabel["Other"]
	if other.Support != 0 || other.Predicted != 1 || other.F1 != 0 {
		t.Errorf("Other = %+v", other)
	}
	// Other has no support and is left out of the macro average.
	if !approx(r.MacroF1(), 2.0/3) {
		t.Errorf("MacroF1 = %v, want 2/3", r.MacroF1())
	}
}

func TestEvaluateEmpty(t *testing.T) {
	r := Evaluate(keywordClassifier{}, nil)
	if r.Samples != 0 || r.Accuracy != 0 || r.MacroF1() != 0 {
		t.Errorf("empty report = %+v", r)
	}
}

func TestTable(t *testing.T) {
	r := Evaluate(keywordClassifier{"apple": "Fruits"}, []model.Sample{{Label: "Fruits", Text: "apple"}})
	out := r.Table()
	for _, want := range []string{"LABEL", "Fruits", "100.0%", "accuracy 100.0% (1/1)"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestCrossValidatePartitions(t *testing.T) {
	samples := make([]model.Sample, 10)
	for i := range samples {
		samples[i] = model.Sample{Label: "L", Text: string(rune('a' + i))}
	}

	split := func(seed uint64) [][]string {
		var trainSets [][]string
		_, err := CrossValidate(context.Background(), samples, 3, seed, func(_ context.Context, train []model.Sample) (Classifier, error) {
			var texts []string
			for _, s := range train {
				texts = append(texts, s.Text)
			}
			trainSets = append(trainSets, texts)
			return keywordClassifier{}, nil
		})
		if err != nil {
			t.Fatalf("CrossValidate error: %v", err)
		}
		return trainSets
	}

	sets := split(7)
	if len(sets) != 3 {
		t.Fatalf("got %d folds, want 3", len(sets))
	}
	// Each sample is held out exactly once: it is missing from one training set.
	missing := map[string]int{}
	for _, set := range sets {
		in := map[string]bool{}
		for _, s := range set {
			in[s] = true
		}
		for _, s := range samples {
			if !in[s.Text] {
				missing[s.Text]++
			}
		}
	}
	for _, s := range samples {
		if missing[s.Text] != 1 {
			t.Errorf("sample %q held out %d times", s.Text, missing[s.Text])
		}
	}

	again := split(7)
	for k := range sets {
		if strings.Join(sets[k], "") != strings.Join(again[k], "") {
			t.Fatal("same seed produced a different split")
		}
	}
}

func TestCrossValidateErrors(t *testing.T) {
	samples := []model.Sample{{Label: "a", Text: "x"}, {Label: "b", Text: "y"}}
	ok := func(context.Context, []model.Sample) (Classifier, error) { return keywordClassifier{}, nil }

	if _, err := CrossValidate(context.Background(), samples, 1, 0, ok); err == nil {
		t.Error("expected error for 1 fold")
	}
	if _, err := CrossValidate(context.Background(), samples, 3, 0, ok); err == nil {
		t.Error("expected error for more folds than samples")
	}

	boom := errors.New("boom")
	_, err := CrossValidate(context.Background(), samples, 2, 0, func(context.Context, []model.Sample) (Classifier, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want %v", err, boom)
	}

	// Non-convergence is a warning: the fold is still evaluated.
	cv, err := CrossValidate(context.Background(), samples, 2, 0, func(context.Context, []model.Sample) (Classifier, error) {
		return keywordClassifier{}, &maxent.ConvergenceError{Iterations: 1}
	})
	if err != nil || len(cv.Folds) != 2 {
		t.Errorf("convergence warning should not fail: err=%v folds=%d", err, len(cv.Folds))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := CrossValidate(ctx, samples, 2, 0, ok); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestCrossValidateStopsOnCancelledFold(t *testing.T) {
	samples := []model.Sample{{Label: "a", Text: "x"}, {Label: "b", Text: "y"}, {Label: "a", Text: "z"}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int
	cv, err := CrossValidate(ctx, samples, 3, 0, func(context.Context, []model.Sample) (Classifier, error) {
		calls++
		if calls < 2 {
			return keywordClassifier{}, nil
		}
		// Training interrupted: best-so-far model plus the cancellation.
		cancel()
		return keywordClassifier{}, &maxent.ConvergenceError{Iterations: 3, Cause: context.Canceled}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(cv.Folds) != 1 {
		t.Errorf("scored folds = %d, want only the completed one", len(cv.Folds))
	}
	if calls != 2 {
		t.Errorf("train calls = %d, want 2", calls)
	}
}

func TestCrossValidateEngine(t *testing.T) {
	samples, err := testdata.Samples()
	if err != nil {
		t.Fatal(err)
	}
	quiet := logging.Discard()
	cfg := maxent.DefaultTrainConfig()

	cv, err := CrossValidate(context.Background(), samples, 4, 42, func(ctx context.Context, train []model.Sample) (Classifier, error) {
		ext, err := feature.Resolve(cfg.Extractors)
		if err != nil {
			return nil, err
		}
		eng, err := engine.Train(ctx, corpus.NewSliceStream(train), tokenizer.New(tokenizer.DefaultOptions()), ext, cfg, quiet)
		if eng == nil {
			return nil, err
		}
		return eng, err
	})
	if err != nil {
		t.Fatalf("CrossValidate error: %v", err)
	}
	if len(cv.Folds) != 4 {
		t.Fatalf("got %d folds", len(cv.Folds))
	}
	total := 0
	for _, f := range cv.Folds {
		total += f.Samples
	}
	if total != len(samples) {
		t.Errorf("folds cover %d samples, want %d", total, len(samples))
	}
	if cv.MeanAccuracy < 0 || cv.MeanAccuracy > 1 || math.IsNaN(cv.StdDev) {
		t.Errorf("MeanAccuracy=%v StdDev=%v", cv.MeanAccuracy, cv.StdDev)
	}
}
