package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanTextNormalizesLineEndings(t *testing.T) {
	input := "line one\r\nline two\rline three"
	result := CleanText(input)
	assert.Equal(t, "line one\nline two\nline three", result)
}

func TestCleanTextCollapsesBlankLines(t *testing.T) {
	input := "a\n\n\n\n\nb"
	assert.Equal(t, "a\n\nb", CleanText(input))
}

func TestCleanTextCollapsesInteriorSpaces(t *testing.T) {
	input := "skills:   Go,\tPostgres"
	assert.Equal(t, "skills: Go, Postgres", CleanText(input))
}

func TestCleanTextTrims(t *testing.T) {
	assert.Equal(t, "content", CleanText("\n\n  content  \n\n"))
	assert.Equal(t, "", CleanText(""))
	assert.Equal(t, "", CleanText("   \n \t \n"))
}

func TestCleanTextFlattensIndentation(t *testing.T) {
	input := "Experience\n    - Go services\n\t* Postgres\n  skills list"
	assert.Equal(t, "Experience\n- Go services\n* Postgres\nskills list", CleanText(input))
}

func TestCleanTextDeterministicAcrossSources(t *testing.T) {
	// A pasted copy with different whitespace must normalize identically.
	fromFile := "Senior Engineer\n\nGo,  Kubernetes\n"
	fromPaste := "Senior Engineer\r\n\r\n\r\nGo, Kubernetes"
	assert.Equal(t, CleanText(fromFile), CleanText(fromPaste))
}
