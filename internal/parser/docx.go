package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// parseDocx extracts paragraph text from word/document.xml inside the docx
// archive. A docx file carries no reliable page boundaries, so paragraphs
// are grouped into synthetic pages the same way plain text is.
func (p *Parser) parseDocx(content []byte, filename string) (*ParsedDocument, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%w: opening docx %s: %v", ErrParseFailed, filename, err)
	}

	var docXML io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docXML, err = f.Open()
			if err != nil {
				return nil, fmt.Errorf("%w: reading docx %s: %v", ErrParseFailed, filename, err)
			}
			break
		}
	}
	if docXML == nil {
		return nil, fmt.Errorf("%w: %s has no word/document.xml", ErrParseFailed, filename)
	}
	defer docXML.Close()

	paragraphs, err := docxParagraphs(docXML)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding docx %s: %v", ErrParseFailed, filename, err)
	}

	pages := paginate(paragraphs)
	return &ParsedDocument{
		DocID:      filename,
		Title:      filename,
		MimeType:   MimeDocx,
		Pages:      pages,
		TotalPages: len(pages),
	}, nil
}

// docxParagraphs walks the WordprocessingML token stream collecting the text
// runs (w:t) of each paragraph (w:p).
func docxParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var paragraphs []string
	var current strings.Builder
	inParagraph := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inParagraph = true
				current.Reset()
			case "t":
				if inParagraph {
					var text string
					if err := dec.DecodeElement(&text, &t); err != nil {
						return nil, err
					}
					current.WriteString(text)
				}
			case "tab":
				if inParagraph {
					current.WriteByte('\t')
				}
			case "br":
				if inParagraph {
					current.WriteByte('\n')
				}
			}
		case xml.EndElement:
			if t.Name.Local == "p" && inParagraph {
				if text := strings.TrimSpace(current.String()); text != "" {
					paragraphs = append(paragraphs, text)
				}
				inParagraph = false
			}
		}
	}
	return paragraphs, nil
}
