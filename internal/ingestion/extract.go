// Package ingestion turns uploaded files, links, and pasted text into
// canonical plain text with a content fingerprint.
package ingestion

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var (
	// ErrUnsupportedType is returned when a payload is none of PDF, DOCX, or text.
	ErrUnsupportedType = fmt.Errorf("unsupported file type: only PDF, DOCX, and TXT are accepted")
	// ErrLegacyDoc is returned for OLE2 .doc payloads, which are not supported.
	ErrLegacyDoc = fmt.Errorf("legacy DOC files are not supported: convert to DOCX, PDF, or TXT")
	// ErrEmptyDocument is returned when a readable file yields no text.
	ErrEmptyDocument = fmt.Errorf("no text could be extracted from the document")
)

// ole2Magic marks legacy Microsoft compound files (.doc).
var ole2Magic = []byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}

// IsPDF reports whether the payload is a PDF, judged by content type,
// filename, or magic bytes.
func IsPDF(data []byte, contentType, filename string) bool {
	return strings.Contains(contentType, "application/pdf") ||
		strings.HasSuffix(strings.ToLower(filename), ".pdf") ||
		bytes.HasPrefix(data, []byte("%PDF"))
}

// IsDOCX reports whether the payload is a DOCX archive.
func IsDOCX(data []byte, contentType, filename string) bool {
	if strings.Contains(contentType, "officedocument.wordprocessingml.document") ||
		strings.HasSuffix(strings.ToLower(filename), ".docx") {
		return true
	}
	if !bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return false
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			return true
		}
	}
	return false
}

// IsLegacyDoc reports whether the payload is an OLE2 .doc file.
func IsLegacyDoc(data []byte, contentType, filename string) bool {
	return strings.Contains(contentType, "application/msword") ||
		strings.HasSuffix(strings.ToLower(filename), ".doc") && !strings.HasSuffix(strings.ToLower(filename), ".docx") ||
		bytes.HasPrefix(data, ole2Magic)
}

// ExtractText extracts plain text from a document payload, sniffing the
// format from content type, filename, and magic bytes. The returned text is
// raw; callers normalize it with CleanText.
func ExtractText(data []byte, contentType, filename string) (string, error) {
	switch {
	case IsPDF(data, contentType, filename):
		return extractPDF(data)
	case IsDOCX(data, contentType, filename):
		return extractDOCX(data)
	case IsLegacyDoc(data, contentType, filename):
		return "", ErrLegacyDoc
	default:
		return decodeText(data)
	}
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("reading PDF: %w", err)
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting PDF text: %w", err)
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, textReader); err != nil {
		return "", fmt.Errorf("extracting PDF text: %w", err)
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		// Image-only or encrypted PDFs produce no text layer.
		return "", ErrEmptyDocument
	}
	return text, nil
}

// extractDOCX pulls paragraph text out of word/document.xml. A DOCX is a zip
// archive; text lives in <w:t> runs, paragraphs end at </w:p>.
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("reading DOCX archive: %w", err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("reading DOCX archive: %w", ErrUnsupportedType)
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("reading DOCX document: %w", err)
	}
	defer func() { _ = rc.Close() }()

	var sb strings.Builder
	decoder := xml.NewDecoder(rc)
	inText := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing DOCX document: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			if el.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(el)
			}
		}
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

// decodeText decodes a payload as plain text, trying UTF-8 first, then
// latin-1.
func decodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}

	// latin-1 maps every byte to the code point of the same value.
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes), nil
}
