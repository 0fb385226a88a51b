package query

import (
	"context"
	"sync"
)

// fakeCompleter returns a fixed reply and records every call.
type fakeCompleter struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	temps   []float64
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string, temperature float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.temps = append(f.temps, temperature)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}
