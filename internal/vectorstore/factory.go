package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/scribe/internal/config"
	"go.uber.org/zap"
)

// NewStore creates the Store selected by cfg.VectorStore.Provider:
// "chromem" (default, embedded) or "qdrant" (remote gRPC).
func NewStore(cfg *config.Config, embedder Embedder, logger *zap.Logger) (Store, error) {
	vs := cfg.VectorStore
	switch vs.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:       vs.Chromem.Path,
			Compress:   vs.Chromem.Compress,
			VectorSize: vs.VectorSize,
		}, embedder, logger)
	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:           vs.Qdrant.Host,
			Port:           vs.Qdrant.Port,
			APIKey:         vs.Qdrant.APIKey.Value(),
			UseTLS:         vs.Qdrant.UseTLS,
			VectorSize:     vs.VectorSize,
			MaxRetries:     vs.Qdrant.MaxRetries,
			RetryBackoff:   vs.Qdrant.RetryBackoff.Duration(),
			MaxMessageSize: vs.Qdrant.MaxMessageSize,
		}, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider %q (supported: chromem, qdrant)", ErrInvalidConfig, vs.Provider)
	}
}
