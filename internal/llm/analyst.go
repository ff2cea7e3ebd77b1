package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

// ComparisonResult is the structured outcome of comparing a candidate
// profile against a job offer. Field names match the wire format consumed
// by clients.
type ComparisonResult struct {
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Recommendation  string   `json:"recommendation"`
	MatchPercentage int      `json:"matchPercentage"`
	FourWeekPlan    string   `json:"fourWeekPlan"`
}

// comparisonSchema validates the JSON shape returned by the comparison
// prompt before it is trusted.
const comparisonSchema = `{
	"type": "object",
	"required": ["strengths", "weaknesses", "recommendation", "matchPercentage", "fourWeekPlan"],
	"properties": {
		"strengths": {"type": "array", "items": {"type": "string"}},
		"weaknesses": {"type": "array", "items": {"type": "string"}},
		"recommendation": {"type": "string"},
		"matchPercentage": {"type": "integer", "minimum": 0, "maximum": 100},
		"fourWeekPlan": {"type": "string"}
	}
}`

// Analyst runs the document understanding and comparison prompts.
type Analyst struct {
	client Client
	logger *zap.Logger
}

// NewAnalyst creates an Analyst on top of an LLM client.
func NewAnalyst(client Client, logger *zap.Logger) *Analyst {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyst{client: client, logger: logger}
}

const resumePrompt = `You are an experienced technical recruiter. Analyze the following resume
and produce a structured summary covering:

1. Professional profile (seniority, specialization)
2. Key technical skills and tools
3. Relevant experience and notable achievements
4. Education and certifications
5. Soft skills evident from the text

Be concrete and quote facts from the resume. Do not invent information.

Resume:
%s`

const offerPrompt = `You are an experienced technical recruiter. Analyze the following job
offer and produce a structured summary covering:

1. Role and seniority expected
2. Required technical skills (must-have)
3. Desirable skills (nice-to-have)
4. Responsibilities
5. Company context, benefits and conditions if present

Be concrete and quote requirements from the offer. Do not invent information.

Job offer:
%s`

const comparePrompt = `You are an experienced technical recruiter. Compare the candidate analysis
against the job offer analysis below and respond with a single JSON object,
no surrounding text, with exactly these fields:

{
  "strengths": ["candidate strengths relevant to this offer"],
  "weaknesses": ["gaps between the candidate and the offer"],
  "recommendation": "overall hiring recommendation with justification",
  "matchPercentage": 0-100 integer estimating overall fit,
  "fourWeekPlan": "a concrete four week preparation plan, one paragraph per week, that closes the most important gaps"
}

%s

Candidate analysis:
%s

Job offer analysis:
%s`

// AnalyzeResume produces a structured summary of a resume.
func (a *Analyst) AnalyzeResume(ctx context.Context, cvText string) (string, error) {
	out, err := a.client.GenerateContent(ctx, fmt.Sprintf(resumePrompt, cvText), TierStandard)
	if err != nil {
		return "", fmt.Errorf("resume analysis: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// AnalyzeOffer produces a structured summary of a job offer.
func (a *Analyst) AnalyzeOffer(ctx context.Context, offerText string) (string, error) {
	out, err := a.client.GenerateContent(ctx, fmt.Sprintf(offerPrompt, offerText), TierStandard)
	if err != nil {
		return "", fmt.Errorf("offer analysis: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Compare evaluates the candidate against the offer. Additional
// considerations, when present, are injected into the prompt as extra
// instructions. The model's JSON is schema-validated; when it fails to
// parse, a plain-text fallback parser recovers a usable result.
func (a *Analyst) Compare(ctx context.Context, cvAnalysis, offerAnalysis, considerations string) (*ComparisonResult, error) {
	extra := ""
	if considerations != "" {
		extra = "Additional considerations from the candidate, weigh them in your evaluation:\n" + considerations + "\n"
	}

	prompt := fmt.Sprintf(comparePrompt, extra, cvAnalysis, offerAnalysis)
	raw, err := a.client.GenerateJSON(ctx, prompt, TierAdvanced)
	if err != nil {
		return nil, fmt.Errorf("comparison: %w", err)
	}

	result, err := parseComparison(raw)
	if err != nil {
		a.logger.Warn("comparison JSON rejected, using text fallback",
			zap.Error(err),
			zap.Int("raw_len", len(raw)))
		return parseComparisonText(raw), nil
	}
	return result, nil
}

// parseComparison decodes and validates the comparison JSON.
func parseComparison(raw string) (*ComparisonResult, error) {
	payload := CleanJSONBlock(raw)
	if !strings.HasPrefix(payload, "{") {
		if obj := ExtractJSONObject(payload); obj != "" {
			payload = obj
		}
	}

	validation, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(comparisonSchema),
		gojsonschema.NewStringLoader(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid comparison payload: %w", err)
	}
	if !validation.Valid() {
		var issues []string
		for _, e := range validation.Errors() {
			issues = append(issues, e.String())
		}
		return nil, fmt.Errorf("comparison payload failed validation: %s", strings.Join(issues, "; "))
	}

	var result ComparisonResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to decode comparison payload: %w", err)
	}
	return &result, nil
}

// parseComparisonText recovers a comparison result from non-JSON model
// output. It scans for known section headings and bullet lists so a
// degraded model response still yields something presentable.
func parseComparisonText(raw string) *ComparisonResult {
	result := &ComparisonResult{
		Recommendation: strings.TrimSpace(raw),
	}

	type section int
	const (
		secNone section = iota
		secStrengths
		secWeaknesses
		secRecommendation
		secPlan
	)

	var recommendation, plan []string
	current := secNone
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)

		switch {
		case strings.Contains(lower, "strength"):
			current = secStrengths
			continue
		case strings.Contains(lower, "weakness") || strings.Contains(lower, "gap"):
			current = secWeaknesses
			continue
		case strings.Contains(lower, "recommendation"):
			current = secRecommendation
			continue
		case strings.Contains(lower, "plan"):
			current = secPlan
			continue
		}

		if trimmed == "" {
			continue
		}
		if pct, ok := findPercentage(lower); ok && result.MatchPercentage == 0 {
			result.MatchPercentage = pct
		}

		item := strings.TrimLeft(trimmed, "-*• \t")
		switch current {
		case secStrengths:
			result.Strengths = append(result.Strengths, item)
		case secWeaknesses:
			result.Weaknesses = append(result.Weaknesses, item)
		case secRecommendation:
			recommendation = append(recommendation, trimmed)
		case secPlan:
			plan = append(plan, trimmed)
		}
	}

	if len(recommendation) > 0 {
		result.Recommendation = strings.Join(recommendation, "\n")
	}
	result.FourWeekPlan = strings.Join(plan, "\n")
	return result
}

// findPercentage extracts an N% figure from a line, if any.
func findPercentage(line string) (int, bool) {
	idx := strings.Index(line, "%")
	if idx <= 0 {
		return 0, false
	}
	start := idx
	for start > 0 && line[start-1] >= '0' && line[start-1] <= '9' {
		start--
	}
	if start == idx {
		return 0, false
	}
	pct, err := strconv.Atoi(line[start:idx])
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}
