package vectorstore

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"testing"
)

// TestVectorSize is the dimension produced by HashEmbedder.
const TestVectorSize = 32

// ErrHashEmbedderFailed is returned by a HashEmbedder with Fail set.
var ErrHashEmbedderFailed = errors.New("embedder down")

// HashEmbedder is a deterministic bag-of-words embedder for tests: each word
// bumps one hashed dimension, so texts sharing words are similar.
type HashEmbedder struct {
	Fail  bool
	calls atomic.Int32
}

// Calls returns the number of embedding calls made.
func (e *HashEmbedder) Calls() int {
	return int(e.calls.Load())
}

func (e *HashEmbedder) embed(text string) []float32 {
	v := make([]float32, TestVectorSize)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,!?\"'")))
		v[h.Sum32()%TestVectorSize]++
	}
	v[TestVectorSize-1] += 0.01 // never all-zero
	return v
}

func (e *HashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.Fail {
		return nil, ErrHashEmbedderFailed
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *HashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.Fail {
		return nil, ErrHashEmbedderFailed
	}
	return e.embed(text), nil
}

// NewTestStore returns an in-memory ChromemStore backed by a HashEmbedder.
func NewTestStore(tb testing.TB) *ChromemStore {
	tb.Helper()
	return NewTestStoreWithEmbedder(tb, &HashEmbedder{})
}

// NewTestStoreWithEmbedder returns an in-memory ChromemStore backed by e, so
// tests can toggle e.Fail.
func NewTestStoreWithEmbedder(tb testing.TB, e *HashEmbedder) *ChromemStore {
	tb.Helper()
	s, err := NewChromemStore(ChromemConfig{VectorSize: TestVectorSize}, e, nil)
	if err != nil {
		tb.Fatalf("NewChromemStore: %v", err)
	}
	return s
}
