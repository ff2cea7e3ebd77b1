package ingestion

import (
	"regexp"
	"strings"
)

// CleanText normalizes text content while preserving structure. Equivalent
// content arriving from different sources (file, link, paste) should
// normalize to the same canonical form so fingerprints can collide
// intentionally.
func CleanText(content string) string {
	if content == "" {
		return ""
	}

	// Normalize line endings (CRLF -> LF)
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	lines := strings.Split(content, "\n")
	cleanedLines := make([]string, 0, len(lines))
	for _, line := range lines {
		cleanedLines = append(cleanedLines, cleanLine(line))
	}

	result := strings.Join(cleanedLines, "\n")
	result = removeExcessiveBlankLines(result)

	return strings.TrimSpace(result)
}

// cleanLine trims a single line and collapses interior whitespace runs.
// Leading indentation is dropped deliberately: the same paragraph extracted
// from a PDF, scraped from a page, or pasted by hand must land on one
// canonical form.
func cleanLine(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return ""
	}
	return collapseSpaces(trimmed)
}

var interiorSpaces = regexp.MustCompile(`[ \t]{2,}`)

func collapseSpaces(line string) string {
	return interiorSpaces.ReplaceAllString(line, " ")
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// removeExcessiveBlankLines caps consecutive blank lines at one.
func removeExcessiveBlankLines(content string) string {
	return blankRuns.ReplaceAllString(content, "\n\n")
}
