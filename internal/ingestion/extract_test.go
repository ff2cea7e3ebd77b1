package ingestion

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDOCX(t *testing.T, paragraphs []string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)

	var doc bytes.Buffer
	doc.WriteString(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		doc.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	doc.WriteString(`</w:body></w:document>`)

	_, err = w.Write(doc.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func TestExtractTextDOCX(t *testing.T) {
	data := buildDOCX(t, []string{"Jane Doe", "Go developer since 2015"})

	text, err := ExtractText(data, "", "resume.docx")
	require.NoError(t, err)
	assert.Contains(t, text, "Jane Doe")
	assert.Contains(t, text, "Go developer since 2015")
}

func TestExtractTextDOCXByMagicBytes(t *testing.T) {
	// No filename or content type: detection must fall back to the archive.
	data := buildDOCX(t, []string{"magic detection"})

	text, err := ExtractText(data, "", "")
	require.NoError(t, err)
	assert.Contains(t, text, "magic detection")
}

func TestExtractTextPlain(t *testing.T) {
	text, err := ExtractText([]byte("plain resume text"), "text/plain", "resume.txt")
	require.NoError(t, err)
	assert.Equal(t, "plain resume text", text)
}

func TestExtractTextLatin1Fallback(t *testing.T) {
	// 0xe9 is 'é' in latin-1 and invalid as standalone UTF-8.
	text, err := ExtractText([]byte{'r', 0xe9, 's', 'u', 'm', 0xe9}, "text/plain", "cv.txt")
	require.NoError(t, err)
	assert.Equal(t, "résumé", text)
}

func TestExtractTextLegacyDoc(t *testing.T) {
	data := append([]byte{0xd0, 0xcf, 0x11, 0xe0, 0xa1, 0xb1, 0x1a, 0xe1}, make([]byte, 64)...)
	_, err := ExtractText(data, "application/msword", "resume.doc")
	assert.ErrorIs(t, err, ErrLegacyDoc)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF([]byte("%PDF-1.7 rest"), "", ""))
	assert.True(t, IsPDF(nil, "application/pdf", ""))
	assert.True(t, IsPDF(nil, "", "resume.PDF"))
	assert.False(t, IsPDF([]byte("hello"), "text/plain", "resume.txt"))
}

func TestIsDOCXRejectsPlainZip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("other.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("not a docx"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	assert.False(t, IsDOCX(buf.Bytes(), "", ""))
}
