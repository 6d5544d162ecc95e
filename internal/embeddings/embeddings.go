// Package embeddings generates text embeddings with local ONNX models.
package embeddings

import "errors"

var (
	// ErrInvalidConfig indicates an unsupported model or bad configuration.
	ErrInvalidConfig = errors.New("embeddings: invalid config")

	// ErrEmptyInput indicates empty text input.
	ErrEmptyInput = errors.New("embeddings: empty input")

	// ErrEmbeddingFailed indicates the model failed to produce embeddings.
	ErrEmbeddingFailed = errors.New("embeddings: embedding failed")
)

// Config holds configuration for the FastEmbed embedder.
type Config struct {
	// Model is the embedding model to use.
	// Supported: BAAI/bge-small-en-v1.5 (default), BAAI/bge-base-en-v1.5,
	// sentence-transformers/all-MiniLM-L6-v2, etc.
	Model string

	// CacheDir is the directory to cache model files.
	CacheDir string

	// MaxLength is the maximum input sequence length. Defaults to 512.
	MaxLength int
}
