// Package vectorstore defines the vector storage contract and its qdrant
// implementation. The vector store is the system of record for chunks.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyChunks indicates an upsert with no chunks.
	ErrEmptyChunks = errors.New("no chunks to upsert")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to qdrant")
)

// Chunk is one unit of text bound for a single vector-store record. Identity
// is derived from (DocID, Page, ChunkIdx, SHA256), not stored as a field; see
// PointID.
type Chunk struct {
	Tenant     string
	DocID      string
	Title      string
	SourcePath string
	MimeType   string
	Page       int
	ChunkIdx   int
	SHA256     string
	Text       string
	Embedding  []float32
}

// SearchHit is one ranked result from a similarity search.
type SearchHit struct {
	Text       string  `json:"text"`
	DocID      string  `json:"doc_id"`
	Title      string  `json:"title"`
	Page       int     `json:"page"`
	Score      float32 `json:"score"`
	SourcePath string  `json:"source_path"`
	ChunkIdx   int     `json:"chunk_idx"`
}

// Embedder generates vector embeddings from text.
//
// Document and query embeddings may be produced differently; BGE-style models
// prefix passages and queries before encoding.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the vector storage contract consumed by the ingestion pipeline
// and the search path. Implementations are transport-agnostic; the shipped
// implementation speaks qdrant gRPC.
//
// Upserts are at-least-once: chunk identity is deterministic, so re-ingesting
// unchanged content overwrites the same records rather than duplicating them.
type Store interface {
	// EnsureCollection creates the tenant's collection if absent. Idempotent.
	EnsureCollection(ctx context.Context, tenantName string) error

	// UpsertChunks writes all chunks for one file as a single batch. Each
	// chunk must carry its embedding.
	UpsertChunks(ctx context.Context, tenantName string, chunks []Chunk) error

	// Search returns up to topK hits above scoreThreshold, ranked by score.
	Search(ctx context.Context, tenantName string, vector []float32, topK int, scoreThreshold float32) ([]SearchHit, error)

	// DeleteDocument removes every record belonging to a document.
	DeleteDocument(ctx context.Context, tenantName, docID string) error

	// Close releases the underlying connection.
	Close() error
}
