package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, SplitConfig{Size: 500, Overlap: 100}, cfg.Chunking.General)
	assert.Equal(t, SplitConfig{Size: 300, Overlap: 50}, cfg.Chunking.Summary)
	assert.Equal(t, SplitConfig{Size: 1000, Overlap: 200}, cfg.Chunking.Hierarchy)
	assert.Equal(t, 100, cfg.Indexing.SummaryWordThreshold)
	assert.Equal(t, DepthConfig{General: 5, Summary: 1}, cfg.Retrieval.Section)
	assert.Equal(t, DepthConfig{General: 10, Summary: 3}, cfg.Retrieval.Document)
	assert.Equal(t, DepthConfig{General: 10, Summary: 3, Hierarchy: 5}, cfg.Retrieval.Global)
	assert.Equal(t, float64(60), cfg.Retrieval.RRFK)
	assert.Equal(t, 4, cfg.Retrieval.RewriteCount)
	assert.Equal(t, 3, cfg.Memory.RecallK)
	assert.Equal(t, "scribe.sections.saved", cfg.Events.SavedSubject)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"unknown embeddings provider", func(c *Config) { c.Embeddings.Provider = "word2vec" }, true},
		{"unknown llm provider", func(c *Config) { c.LLM.Provider = "bard" }, true},
		{"zero rrf k", func(c *Config) { c.Retrieval.RRFK = 0 }, true},
		{"port out of range", func(c *Config) { c.VectorStore.Qdrant.Port = 70000 }, true},
		{"threshold out of range", func(c *Config) { c.Hierarchy.Threshold = 1.5 }, true},
		{"document deeper than global", func(c *Config) { c.Retrieval.Document.General = 40 }, true},
		{"sample rate above one", func(c *Config) { c.Telemetry.SampleRate = 2 }, true},
		{"zero hierarchy levels", func(c *Config) { c.Indexing.HierarchyLevels = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestSecret_NeverPrints(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-live")
	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())
	assert.False(t, Secret("").IsSet())

	out, err := json.Marshal(struct {
		Key Secret `json:"key"`
	}{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"[REDACTED]"}`, string(out))
}
