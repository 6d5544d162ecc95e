// Package parser extracts page-structured text from downloaded documents
// and splits it into overlapping chunks for embedding.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

var (
	// ErrUnsupportedMime indicates a MIME type no parser handles.
	ErrUnsupportedMime = errors.New("parser: unsupported mime type")

	// ErrParseFailed indicates the document bytes could not be parsed.
	ErrParseFailed = errors.New("parser: parse failed")
)

// MIME types accepted by Parse.
const (
	MimePDF  = "application/pdf"
	MimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeText = "text/plain"
	MimeCSV  = "text/csv"
)

// pageCharLimit is the approximate page size used when splitting formats
// that have no native page structure.
const pageCharLimit = 2000

// Page is one page of extracted text.
type Page struct {
	// Number is 1-based.
	Number int

	Text string

	// HasText reports whether any text survived extraction. Pages without
	// text are skipped during chunking.
	HasText bool

	// NeedsOCR marks pages whose text came from the OCR fallback.
	NeedsOCR bool
}

// ParsedDocument is the page-structured result of parsing one file.
type ParsedDocument struct {
	DocID      string
	Title      string
	MimeType   string
	Pages      []Page
	TotalPages int
}

// OCRFunc recovers text from a document page that had none extractable,
// typically a scanned image. It receives the original document bytes and the
// 1-based page number. Implementations render and OCR the page out of
// process.
type OCRFunc func(ctx context.Context, content []byte, page int) (string, error)

// Parser parses documents into page-structured text.
type Parser struct {
	ocr    OCRFunc
	logger *zap.Logger
}

// New creates a Parser. ocr may be nil, in which case pages without
// extractable text are kept empty.
func New(ocr OCRFunc, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{ocr: ocr, logger: logger}
}

// Parse extracts text from content according to its MIME type. filename is
// used only for logging and the document title.
func (p *Parser) Parse(ctx context.Context, content []byte, mimeType, filename string) (*ParsedDocument, error) {
	switch mimeType {
	case MimePDF:
		return p.parsePDF(ctx, content, filename)
	case MimeDocx:
		return p.parseDocx(content, filename)
	case MimeText, MimeCSV:
		return p.parseText(content, filename, mimeType), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMime, mimeType)
	}
}

func (p *Parser) parsePDF(ctx context.Context, content []byte, filename string) (*ParsedDocument, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%w: opening pdf %s: %v", ErrParseFailed, filename, err)
	}

	numPages := reader.NumPage()
	pages := make([]Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var text string
		pg := reader.Page(i)
		if !pg.V.IsNull() {
			// Extraction failures on a single page degrade to the OCR
			// fallback rather than failing the document.
			if extracted, err := pg.GetPlainText(nil); err == nil {
				text = strings.TrimSpace(extracted)
			} else {
				p.logger.Warn("pdf text extraction failed",
					zap.String("filename", filename),
					zap.Int("page", i),
					zap.Error(err))
			}
		}

		page := Page{Number: i, Text: text, HasText: text != ""}
		if !page.HasText && p.ocr != nil {
			ocrText, err := p.ocr(ctx, content, i)
			if err != nil {
				p.logger.Warn("ocr fallback failed",
					zap.String("filename", filename),
					zap.Int("page", i),
					zap.Error(err))
			} else {
				page.Text = strings.TrimSpace(ocrText)
				page.HasText = page.Text != ""
				page.NeedsOCR = true
			}
		}
		pages = append(pages, page)
	}

	return &ParsedDocument{
		DocID:      filename,
		Title:      filename,
		MimeType:   MimePDF,
		Pages:      pages,
		TotalPages: len(pages),
	}, nil
}

func (p *Parser) parseText(content []byte, filename, mimeType string) *ParsedDocument {
	text := string(bytes.ToValidUTF8(content, nil))
	pages := paginate(strings.Split(text, "\n"))
	return &ParsedDocument{
		DocID:      filename,
		Title:      filename,
		MimeType:   mimeType,
		Pages:      pages,
		TotalPages: len(pages),
	}
}

// paginate groups lines into synthetic pages of roughly pageCharLimit
// characters each.
func paginate(lines []string) []Page {
	var pages []Page
	var sb strings.Builder
	pageNum := 1
	flush := func() {
		text := strings.TrimSpace(sb.String())
		if text != "" {
			pages = append(pages, Page{Number: pageNum, Text: text, HasText: true})
			pageNum++
		}
		sb.Reset()
	}
	for _, line := range lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
		if sb.Len() > pageCharLimit {
			flush()
		}
	}
	flush()
	return pages
}
