package embeddings

import (
	"testing"

	"github.com/fyrsmithlabs/scribe/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	t.Run("tei", func(t *testing.T) {
		p, err := NewProvider(ProviderConfig{Provider: "tei", BaseURL: "http://localhost:8080", Model: "BAAI/bge-base-en-v1.5"}, nil)
		require.NoError(t, err)
		assert.IsType(t, &TEIProvider{}, p)
		assert.Equal(t, 768, p.Dimension())
	})

	t.Run("openai", func(t *testing.T) {
		p, err := NewProvider(ProviderConfig{Provider: "openai", Model: "text-embedding-3-small", APIKey: "sk-test"}, nil)
		require.NoError(t, err)
		assert.IsType(t, &OpenAIProvider{}, p)
		assert.Equal(t, 1536, p.Dimension())
	})

	t.Run("cached", func(t *testing.T) {
		p, err := NewProvider(ProviderConfig{Provider: "tei", BaseURL: "http://localhost:8080", CacheSize: 8}, nil)
		require.NoError(t, err)
		cached, ok := p.(*CachedProvider)
		require.True(t, ok)
		assert.Equal(t, 384, cached.Dimension())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Provider: "word2vec"}, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("tei without url", func(t *testing.T) {
		_, err := NewProvider(ProviderConfig{Provider: "tei"}, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestDetectDimensionFromModel(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"BAAI/bge-small-en-v1.5", 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"BAAI/bge-small-zh-v1.5", 512},
		{"sentence-transformers/all-MiniLM-L6-v2", 384},
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"Alibaba-NLP/gte-base-en-v1.5", 768},
		{"intfloat/e5-large-v2", 1024},
		{"something-else", 384},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, detectDimensionFromModel(tt.model))
		})
	}
}

func TestProviderConfigFromSettings(t *testing.T) {
	var key config.Secret
	require.NoError(t, key.UnmarshalText([]byte("sk-secret")))

	cfg := ProviderConfigFromSettings(config.EmbeddingsConfig{
		Provider:  "openai",
		Model:     "text-embedding-3-small",
		BaseURL:   "http://localhost:1234/v1",
		APIKey:    key,
		CacheSize: 32,
	})
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "sk-secret", cfg.APIKey)
	assert.Equal(t, 32, cfg.CacheSize)
	assert.Equal(t, "http://localhost:1234/v1", cfg.BaseURL)
}
