//go:build !cgo

package embeddings

import (
	"context"
	"errors"
)

// ErrNotAvailable is returned when the binary was built without CGO, which
// the ONNX runtime requires.
var ErrNotAvailable = errors.New("embeddings: fastembed not available (built without CGO)")

// FastEmbedder is a stub for non-CGO builds.
type FastEmbedder struct{}

// NewFastEmbedder returns ErrNotAvailable when CGO is disabled.
func NewFastEmbedder(_ Config) (*FastEmbedder, error) {
	return nil, ErrNotAvailable
}

func (e *FastEmbedder) EmbedDocuments(_ context.Context, _ []string) ([][]float32, error) {
	return nil, ErrNotAvailable
}

func (e *FastEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrNotAvailable
}

func (e *FastEmbedder) Dimension() int { return 0 }

func (e *FastEmbedder) Close() error { return nil }
