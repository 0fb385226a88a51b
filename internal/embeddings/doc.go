// Package embeddings turns text into dense vectors for the vector store.
//
// Three providers implement Provider:
//
//   - fastembed: local ONNX models through fastembed-go (requires cgo)
//   - tei: a HuggingFace Text Embeddings Inference server over HTTP
//   - openai: any OpenAI-compatible embeddings API through langchaingo
//
// NewProvider selects one from configuration and, when a cache size is set,
// wraps it in an LRU cache keyed by the SHA-256 of the input text.
package embeddings
