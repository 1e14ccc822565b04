package feature

import (
	"fmt"
	"strings"
)

// Vectorizer produces a dense sentence vector for a text.
type Vectorizer interface {
	Embed(text string) ([]float32, error)
}

// Embedding turns a dense sentence vector into rectified sparse features:
// dimension i yields "emb+i" for positive values and "emb-i" for negative
// ones, so every feature value stays non-negative.
type Embedding struct {
	vec   Vectorizer
	scale float64
}

// NewEmbedding wraps a Vectorizer. scale multiplies every component; values
// <= 0 mean 1.
func NewEmbedding(vec Vectorizer, scale float64) *Embedding {
	if scale <= 0 {
		scale = 1
	}
	return &Embedding{vec: vec, scale: scale}
}

func (e *Embedding) Name() string { return "embedding" }

func (e *Embedding) Extract(tokens []string) (Counts, error) {
	if len(tokens) == 0 {
		return Counts{}, nil
	}
	v, err := e.vec.Embed(strings.Join(tokens, " "))
	if err != nil {
		return nil, fmt.Errorf("feature: embed: %w", err)
	}
	c := make(Counts, len(v))
	for i, x := range v {
		switch {
		case x > 0:
			c[fmt.Sprintf("emb+%d", i)] = float64(x) * e.scale
		case x < 0:
			c[fmt.Sprintf("emb-%d", i)] = -float64(x) * e.scale
		}
	}
	return c, nil
}
