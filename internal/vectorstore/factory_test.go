package vectorstore

import (
	"testing"

	"github.com/fyrsmithlabs/scribe/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStore(t *testing.T) {
	t.Run("chromem in memory", func(t *testing.T) {
		cfg := config.Default()
		cfg.VectorStore.Provider = "chromem"
		cfg.VectorStore.Chromem.Path = ""

		store, err := NewStore(cfg, &HashEmbedder{}, nil)
		require.NoError(t, err)
		assert.IsType(t, &ChromemStore{}, store)
		assert.NoError(t, store.Close())
	})

	t.Run("chromem persisted", func(t *testing.T) {
		cfg := config.Default()
		cfg.VectorStore.Chromem.Path = t.TempDir()

		store, err := NewStore(cfg, &HashEmbedder{}, nil)
		require.NoError(t, err)
		assert.IsType(t, &ChromemStore{}, store)
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := config.Default()
		cfg.VectorStore.Provider = "pinecone"

		_, err := NewStore(cfg, &HashEmbedder{}, nil)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}
