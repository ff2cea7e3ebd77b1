// Package report renders the comparison outcome into a downloadable PDF.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/jonathan/career-assistant/internal/llm"
)

// Input carries everything the report needs.
type Input struct {
	Comparison     *llm.ComparisonResult
	CVAnalysis     string
	OfferAnalysis  string
	Considerations string
	GeneratedAt    time.Time
}

const (
	pageMargin = 15.0
	lineHeight = 5.5
)

// Render produces the PDF artifact bytes for a completed analysis.
func Render(in Input) ([]byte, error) {
	if in.Comparison == nil {
		return nil, fmt.Errorf("comparison result is required")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	// Title block.
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, tr("Career Fit Analysis"), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(110, 110, 110)
	when := in.GeneratedAt
	if when.IsZero() {
		when = time.Now()
	}
	pdf.CellFormat(0, 6, tr("Generated "+when.UTC().Format("2006-01-02 15:04 UTC")), "", 1, "C", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(4)

	// Match percentage stands on its own line, large.
	pdf.SetFont("Helvetica", "B", 24)
	pdf.CellFormat(0, 12, tr(fmt.Sprintf("%d%% match", in.Comparison.MatchPercentage)), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	writeSection(pdf, tr, "Recommendation", in.Comparison.Recommendation)
	writeBulletSection(pdf, tr, "Strengths", in.Comparison.Strengths)
	writeBulletSection(pdf, tr, "Areas to improve", in.Comparison.Weaknesses)
	writeSection(pdf, tr, "Four week preparation plan", in.Comparison.FourWeekPlan)
	if strings.TrimSpace(in.Considerations) != "" {
		writeSection(pdf, tr, "Additional considerations", in.Considerations)
	}

	if strings.TrimSpace(in.CVAnalysis) != "" {
		pdf.AddPage()
		writeSection(pdf, tr, "Resume analysis", in.CVAnalysis)
	}
	if strings.TrimSpace(in.OfferAnalysis) != "" {
		writeSection(pdf, tr, "Job offer analysis", in.OfferAnalysis)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHeading(pdf *fpdf.Fpdf, tr func(string) string, title string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.SetFillColor(235, 238, 245)
	pdf.CellFormat(0, 8, tr(title), "", 1, "L", true, 0, "")
	pdf.Ln(2)
	pdf.SetFont("Helvetica", "", 10)
}

func writeSection(pdf *fpdf.Fpdf, tr func(string) string, title, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	writeHeading(pdf, tr, title)
	pdf.MultiCell(0, lineHeight, tr(body), "", "L", false)
	pdf.Ln(4)
}

func writeBulletSection(pdf *fpdf.Fpdf, tr func(string) string, title string, items []string) {
	if len(items) == 0 {
		return
	}
	writeHeading(pdf, tr, title)
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		pdf.CellFormat(6, lineHeight, tr("-"), "", 0, "R", false, 0, "")
		pdf.MultiCell(0, lineHeight, tr(item), "", "L", false)
	}
	pdf.Ln(4)
}
