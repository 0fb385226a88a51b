package raptor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// tableEmbedder returns a fixed vector per known text and a zero vector
// otherwise.
type tableEmbedder struct {
	vectors map[string][]float32
	dim     int
	err     error
	calls   int
}

func (e *tableEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := e.vectors[text]; ok {
			out[i] = v
			continue
		}
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

// countingSummarizer answers "summary N" and fails on prompts containing
// failOn.
type countingSummarizer struct {
	mu      sync.Mutex
	failOn  string
	prompts []string
	temps   []float64
}

var errSummarizer = errors.New("summarizer unavailable")

func (s *countingSummarizer) Complete(_ context.Context, prompt string, temperature float64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	s.temps = append(s.temps, temperature)
	if s.failOn != "" && strings.Contains(prompt, s.failOn) {
		return "", errSummarizer
	}
	return fmt.Sprintf("summary %d", len(s.prompts)), nil
}

// stubClusterer returns assignments from a function of the input count.
type stubClusterer func(n int) [][]int

func (f stubClusterer) Cluster(_ context.Context, vectors [][]float32) ([][]int, error) {
	return f(len(vectors)), nil
}

// blob returns count points jittered around center.
func blob(center []float32, count, salt int) [][]float32 {
	points := make([][]float32, count)
	for p := range points {
		v := make([]float32, len(center))
		for j, c := range center {
			step := ((p+salt)*7 + j*3) % 5
			v[j] = c + 0.05*float32(step-2)
		}
		points[p] = v
	}
	return points
}

// topicLeaves returns eight leaves about each of two topics, the first eight
// near one center and the rest near another.
func topicLeaves() ([]string, *tableEmbedder) {
	emb := &tableEmbedder{vectors: map[string][]float32{}, dim: 4}
	var leaves []string
	for i, v := range blob([]float32{10, 10, 0, 0}, 8, 0) {
		text := fmt.Sprintf("the ocean passage %d", i)
		leaves = append(leaves, text)
		emb.vectors[text] = v
	}
	for i, v := range blob([]float32{0, 0, 10, 10}, 8, 1) {
		text := fmt.Sprintf("the mountain passage %d", i)
		leaves = append(leaves, text)
		emb.vectors[text] = v
	}
	return leaves, emb
}
