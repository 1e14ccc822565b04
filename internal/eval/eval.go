// Package eval measures classification quality on labeled samples.
package eval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"

	"github.com/crimson-sun/doccat/internal/engine/maxent"
	"github.com/crimson-sun/doccat/internal/model"
)

// Classifier predicts the best label for a text. *engine.Engine satisfies it.
type Classifier interface {
	Classify(text string) (maxent.Result, error)
}

// LabelStats holds per-label counts and scores. Precision and recall are 0
// when their denominators are 0.
type LabelStats struct {
	Label     string
	Support   int // samples whose true label is Label
	Predicted int // samples predicted as Label
	Correct   int
	Precision float64
	Recall    float64
	F1        float64
}

// Report summarises one evaluation run.
type Report struct {
	Samples  int
	Correct  int
	Failed   int // samples the classifier returned an error for
	Accuracy float64
	Labels   []LabelStats // sorted by label
	// Confusion[actual][predicted] counts samples.
	Confusion map[string]map[string]int
}

// Evaluate classifies every sample and compares against its label. Samples
// that fail to classify count as wrong and are reported in Failed.
func Evaluate(c Classifier, samples []model.Sample) Report {
	r := Report{Samples: len(samples), Confusion: map[string]map[string]int{}}
	stats := map[string]*LabelStats{}
	get := func(label string) *LabelStats {
		s, ok := stats[label]
		if !ok {
			s = &LabelStats{Label: label}
			stats[label] = s
		}
		return s
	}

	for _, s := range samples {
		actual := get(s.Label)
		actual.Support++
		res, err := c.Classify(s.Text)
		if err != nil {
			r.Failed++
			continue
		}
		predicted := res.Label()
		get(predicted).Predicted++
		if r.Confusion[s.Label] == nil {
			r.Confusion[s.Label] = map[string]int{}
		}
		r.Confusion[s.Label][predicted]++
		if predicted == s.Label {
			r.Correct++
			actual.Correct++
		}
	}

	if r.Samples > 0 {
		r.Accuracy = float64(r.Correct) / float64(r.Samples)
	}
	for _, s := range stats {
		if s.Predicted > 0 {
			s.Precision = float64(s.Correct) / float64(s.Predicted)
		}
		if s.Support > 0 {
			s.Recall = float64(s.Correct) / float64(s.Support)
		}
		if s.Precision+s.Recall > 0 {
			s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
		}
		r.Labels = append(r.Labels, *s)
	}
	sort.Slice(r.Labels, func(i, j int) bool { return r.Labels[i].Label < r.Labels[j].Label })
	return r
}

// MacroF1 is the unweighted mean F1 over labels that occur in the samples.
func (r Report) MacroF1() float64 {
	var sum float64
	var n int
	for _, s := range r.Labels {
		if s.Support == 0 {
			continue
		}
		sum += s.F1
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Table renders the per-label scores for a terminal.
func (r Report) Table() string {
	pct := func(v float64) string { return strconv.FormatFloat(v*100, 'f', 1, 64) + "%" }
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("LABEL", "SUPPORT", "PRECISION", "RECALL", "F1")
	for _, s := range r.Labels {
		t.Row(s.Label, strconv.Itoa(s.Support), pct(s.Precision), pct(s.Recall), pct(s.F1))
	}
	return fmt.Sprintf("%s\naccuracy %s (%d/%d), macro F1 %s\n",
		t.String(), pct(r.Accuracy), r.Correct, r.Samples, pct(r.MacroF1()))
}

// TrainFunc builds a classifier from training samples. A non-nil classifier
// returned with an error matching maxent.ErrConvergence is still evaluated.
type TrainFunc func(ctx context.Context, train []model.Sample) (Classifier, error)

// CVReport summarises k-fold cross-validation.
type CVReport struct {
	Folds        []Report
	MeanAccuracy float64
	StdDev       float64
}

// CrossValidate shuffles samples with a seeded source, splits them into
// folds, and trains and evaluates once per fold. The same seed always yields
// the same split.
func CrossValidate(ctx context.Context, samples []model.Sample, folds int, seed uint64, train TrainFunc) (CVReport, error) {
	if folds < 2 || folds > len(samples) {
		return CVReport{}, fmt.Errorf("eval: need 2 <= folds <= %d samples, got %d folds", len(samples), folds)
	}
	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	var cv CVReport
	acc := make([]float64, 0, folds)
	for k := 0; k < folds; k++ {
		if err := ctx.Err(); err != nil {
			return cv, err
		}
		var trainSet, testSet []model.Sample
		for pos, idx := range order {
			if pos%folds == k {
				testSet = append(testSet, samples[idx])
			} else {
				trainSet = append(trainSet, samples[idx])
			}
		}
		c, err := train(ctx, trainSet)
		if err == nil {
			err = ctx.Err()
		}
		// A cancelled fold carries a half-trained model; it is not scored.
		stopped := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		if err != nil && (c == nil || stopped || !errors.Is(err, maxent.ErrConvergence)) {
			return cv, fmt.Errorf("eval: fold %d: %w", k+1, err)
		}
		rep := Evaluate(c, testSet)
		cv.Folds = append(cv.Folds, rep)
		acc = append(acc, rep.Accuracy)
	}
	cv.MeanAccuracy, cv.StdDev = stat.MeanStdDev(acc, nil)
	return cv, nil
}
