package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		chunkSize int
		overlap   int
		want      int
	}{
		{name: "empty", text: "", chunkSize: 10, overlap: 2, want: 0},
		{name: "whitespace only", text: "   \n\t  ", chunkSize: 10, overlap: 2, want: 0},
		{name: "fits one chunk", text: "hello world", chunkSize: 100, overlap: 20, want: 1},
		{name: "exact boundary", text: strings.Repeat("a", 10), chunkSize: 10, overlap: 0, want: 1},
		{name: "two chunks no overlap", text: strings.Repeat("a", 15), chunkSize: 10, overlap: 0, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChunkText(tt.text, tt.chunkSize, tt.overlap)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestChunkTextOverlap(t *testing.T) {
	// 26 letters, size 10, overlap 4: windows start at 0, 6, 12, 18.
	text := "abcdefghijklmnopqrstuvwxyz"
	chunks := ChunkText(text, 10, 4)
	require.Len(t, chunks, 4)
	assert.Equal(t, "abcdefghij", chunks[0])
	assert.Equal(t, "ghijklmnop", chunks[1])
	assert.Equal(t, "stuvwxyz", chunks[3])

	// Each chunk shares its leading runes with the tail of its predecessor.
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		assert.Equal(t, prev[len(prev)-4:], chunks[i][:4])
	}
}

func TestChunkTextRuneSafe(t *testing.T) {
	text := strings.Repeat("é", 30)
	chunks := ChunkText(text, 10, 0)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.Equal(t, 10, len([]rune(c)))
	}
}

func TestChunkTextDegenerateOverlap(t *testing.T) {
	// Overlap >= chunk size falls back to no overlap instead of looping.
	chunks := ChunkText(strings.Repeat("a", 30), 10, 10)
	assert.Len(t, chunks, 3)
}

func TestChunkDocument(t *testing.T) {
	doc := &ParsedDocument{
		DocID: "doc-1",
		Pages: []Page{
			{Number: 1, Text: strings.Repeat("a", 25), HasText: true},
			{Number: 2, Text: "", HasText: false},
			{Number: 3, Text: "short", HasText: true},
		},
	}

	chunks := ChunkDocument(doc, 10, 0)
	require.Len(t, chunks, 4)

	// Page 1 yields three chunks indexed from zero.
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, 0, chunks[0].ChunkIdx)
	assert.Equal(t, 2, chunks[2].ChunkIdx)

	// Page 2 is skipped entirely; page 3 restarts the index.
	assert.Equal(t, 3, chunks[3].Page)
	assert.Equal(t, 0, chunks[3].ChunkIdx)
}

func TestChunkDocumentEmpty(t *testing.T) {
	doc := &ParsedDocument{Pages: []Page{{Number: 1, HasText: false}}}
	assert.Empty(t, ChunkDocument(doc, 1000, 200))
}
