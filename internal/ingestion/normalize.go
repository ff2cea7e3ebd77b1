package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/career-assistant/internal/fetch"
)

// Normalizer resolves one input source into canonical text. It is safe for
// concurrent use.
type Normalizer struct {
	FetchTimeout time.Duration
	UseBrowser   bool
	Logger       *zap.Logger
}

// NewNormalizer returns a Normalizer with the given fetch behavior.
func NewNormalizer(fetchTimeout time.Duration, useBrowser bool, logger *zap.Logger) *Normalizer {
	if fetchTimeout <= 0 {
		fetchTimeout = fetch.DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{FetchTimeout: fetchTimeout, UseBrowser: useBrowser, Logger: logger}
}

// FromFile extracts and normalizes text from an uploaded document.
func (n *Normalizer) FromFile(data []byte, contentType, filename string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty upload %q: %w", filename, ErrEmptyDocument)
	}
	text, err := ExtractText(data, contentType, filename)
	if err != nil {
		return "", err
	}
	return CleanText(text), nil
}

// FromLink fetches a remote document and normalizes its text. HTML pages go
// through main-content extraction with an optional headless-browser fallback
// for script-rendered pages; document payloads (PDF, DOCX, TXT) are handled
// like file uploads.
func (n *Normalizer) FromLink(ctx context.Context, link string) (string, error) {
	result, err := fetch.URL(ctx, link, &fetch.Options{
		Timeout:   n.FetchTimeout,
		UserAgent: fetch.DefaultUserAgent,
	})
	if err != nil {
		return "", err
	}

	filename := linkFilename(link)
	if isHTMLPayload(result, filename) {
		return n.fromHTML(ctx, link, string(result.Body))
	}

	text, err := ExtractText(result.Body, result.ContentType, filename)
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", link, err)
	}
	return CleanText(text), nil
}

// FromText normalizes pasted text.
func (n *Normalizer) FromText(text string) string {
	return CleanText(text)
}

func (n *Normalizer) fromHTML(ctx context.Context, link, html string) (string, error) {
	text, err := fetch.ExtractMainText(html, fetch.DefaultTextSelectors())
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", link, err)
	}

	if n.UseBrowser && fetch.ShouldUseBrowser(text) {
		n.Logger.Debug("content too short, rendering with headless browser",
			zap.String("url", link), zap.Int("chars", len(text)))
		rendered, browserErr := fetch.BrowserSimple(ctx, link)
		if browserErr != nil {
			n.Logger.Warn("browser rendering failed, using HTTP content",
				zap.String("url", link), zap.Error(browserErr))
		} else if renderedText, extractErr := fetch.ExtractMainText(rendered, fetch.DefaultTextSelectors()); extractErr == nil {
			text = renderedText
		}
	}

	return CleanText(text), nil
}

func isHTMLPayload(result *fetch.Result, filename string) bool {
	if strings.Contains(result.ContentType, "text/html") {
		return true
	}
	if IsPDF(result.Body, result.ContentType, filename) || IsDOCX(result.Body, result.ContentType, filename) {
		return false
	}
	trimmed := bytes.TrimSpace(result.Body)
	return bytes.HasPrefix(trimmed, []byte("<!DOCTYPE")) || bytes.HasPrefix(trimmed, []byte("<html"))
}

func linkFilename(link string) string {
	parsed, err := url.Parse(link)
	if err != nil || parsed.Path == "" {
		return ""
	}
	parts := strings.Split(parsed.Path, "/")
	return parts[len(parts)-1]
}
