package parser

import "strings"

// PageChunk is one chunk of a page's text, indexed within its page.
type PageChunk struct {
	Page     int
	ChunkIdx int
	Text     string
}

// ChunkText splits text into overlapping chunks of at most chunkSize runes.
// Consecutive chunks share overlap runes of context. Whitespace-only chunks
// are dropped.
func ChunkText(text string, chunkSize, overlap int) []string {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}
	runes := []rune(text)
	step := chunkSize - overlap
	out := make([]string, 0)
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		part := strings.TrimSpace(string(runes[i:end]))
		if part != "" {
			out = append(out, part)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// ChunkDocument chunks every page of doc that has text. Chunk indices are
// per page, starting at zero.
func ChunkDocument(doc *ParsedDocument, chunkSize, overlap int) []PageChunk {
	var chunks []PageChunk
	for _, page := range doc.Pages {
		if !page.HasText {
			continue
		}
		for idx, text := range ChunkText(page.Text, chunkSize, overlap) {
			chunks = append(chunks, PageChunk{
				Page:     page.Number,
				ChunkIdx: idx,
				Text:     text,
			})
		}
	}
	return chunks
}
