// Package embedder computes dense sentence vectors with a local BERT-style
// ONNX encoder. It backs the "embedding" feature extractor.
package embedder

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/crimson-sun/doccat/internal/engine/feature"
)

// Config locates the encoder files.
type Config struct {
	ModelPath string `yaml:"model_path"`
	VocabPath string `yaml:"vocab_path"`
	// LibraryPath is the onnxruntime shared library. Empty means
	// libonnxruntime.so next to the model.
	LibraryPath string `yaml:"library_path"`
	Threads     int    `yaml:"threads"`
}

// Embedder maps text to an L2-normalized mean-pooled sentence vector.
// Inference calls are serialized; the runtime parallelizes internally.
type Embedder struct {
	mu   sync.Mutex
	sess *session
	wp   *wordPiece
}

var _ feature.Vectorizer = (*Embedder)(nil)

// New loads the vocabulary and the ONNX model.
func New(cfg Config) (*Embedder, error) {
	v, err := loadWordVocab(cfg.VocabPath)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	lib := cfg.LibraryPath
	if lib == "" {
		lib = filepath.Join(filepath.Dir(cfg.ModelPath), "libonnxruntime.so")
	}
	sess, err := openSession(cfg.ModelPath, lib, cfg.Threads)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	return &Embedder{sess: sess, wp: newWordPiece(v)}, nil
}

// Dim returns the vector length.
func (e *Embedder) Dim() int { return int(e.sess.dim) }

// Embed returns the vector for one text.
func (e *Embedder) Embed(text string) ([]float32, error) {
	vecs, err := e.EmbedBatch([]string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in a single inference call.
func (e *Embedder) EmbedBatch(texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	in := e.wp.encode(texts)

	e.mu.Lock()
	hidden, err := e.sess.run(in)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}

	dim := e.sess.dim
	pooled := meanPool(hidden, in.attentionMask, in.batch, in.seqLen, dim)
	out := make([][]float32, len(texts))
	for i := range out {
		v := pooled[int64(i)*dim : int64(i+1)*dim : int64(i+1)*dim]
		normalize(v)
		out[i] = v
	}
	return out, nil
}

// Close releases the ONNX session.
func (e *Embedder) Close() error {
	if e.sess == nil {
		return nil
	}
	return e.sess.close()
}
