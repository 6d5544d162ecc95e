package ingest

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/docingest/internal/parser"
)

// FileRef is one listed file, prior to download.
type FileRef struct {
	ID           string
	Name         string
	MimeType     string
	Size         int64
	ModifiedTime time.Time
}

// FileContent is a downloaded file. MimeType is the effective type after any
// provider-side export conversion, which may differ from the listed type.
type FileContent struct {
	Data     []byte
	Filename string
	MimeType string
}

// FileSource lists and downloads files from an external store using a
// connection's delegated credentials.
type FileSource interface {
	// List returns the ingestable files directly inside folderID.
	List(ctx context.Context, connectionID, folderID string) ([]FileRef, error)

	// Download fetches one file's bytes.
	Download(ctx context.Context, connectionID, fileID string) (FileContent, error)
}

// DocumentParser turns raw file bytes into page-structured text.
type DocumentParser interface {
	Parse(ctx context.Context, content []byte, mimeType, filename string) (*parser.ParsedDocument, error)
}
