package embeddings

import (
	"context"
	"errors"
	"sync"
)

// countingProvider returns len(text) as a one-dimensional vector and records
// every text it is asked to embed.
type countingProvider struct {
	mu      sync.Mutex
	batches [][]string
	queries []string
	fail    bool
}

func (p *countingProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return nil, errors.New("provider down")
	}
	p.batches = append(p.batches, append([]string(nil), texts...))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (p *countingProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return nil, errors.New("provider down")
	}
	p.queries = append(p.queries, text)
	return []float32{float32(len(text))}, nil
}

func (p *countingProvider) Dimension() int { return 1 }
func (p *countingProvider) Close() error   { return nil }
