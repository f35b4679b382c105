package classifier

import (
	"regexp"
	"strings"

	"github.com/afya-pulse/triage-api/internal/domain/report"
)

// The classifier replies with labeled plain-text segments, one per line:
//
//	QUESTION_ASKED: <question or 'None'>
//	RISK_LEVEL: <RED/YELLOW/GREEN>
//	POTENTIAL_CAUSES: <comma-separated causes>
//	RATIONALE: <explanation>
//	NEXT_ACTION: <instruction>
//
// Extraction is best-effort pattern matching, not a grammar: any label the
// model forgot yields a documented default instead of an error.
var (
	questionRe   = regexp.MustCompile(`(?i)QUESTION_ASKED:\s*(.*)`)
	causesRe     = regexp.MustCompile(`(?i)POTENTIAL_CAUSES:\s*(.*)`)
	rationaleRe  = regexp.MustCompile(`(?i)RATIONALE:\s*(.*)`)
	nextActionRe = regexp.MustCompile(`(?i)NEXT_ACTION:\s*(.*)`)
)

const (
	defaultReasoning = "AI Analysis Complete"
	defaultAdvice    = "Consult a doctor."

	// Questions shorter than this are model noise ("N/A", "-", ...).
	minQuestionLen = 5
)

// Parse extracts a triage category and structured analysis from raw
// classifier output. An absent or unrecognized RISK_LEVEL defaults to
// RED: ambiguity never downgrades urgency.
func Parse(raw string) (report.TriageCategory, *report.Analysis) {
	upper := strings.ToUpper(raw)

	category := report.CategoryRed
	switch {
	case strings.Contains(upper, "RISK_LEVEL: GREEN"):
		category = report.CategoryGreen
	case strings.Contains(upper, "RISK_LEVEL: YELLOW"):
		category = report.CategoryYellow
	}

	analysis := &report.Analysis{
		Reasoning:          extractLine(rationaleRe, raw, defaultReasoning),
		Advice:             extractLine(nextActionRe, raw, defaultAdvice),
		PossibleConditions: extractConditions(raw),
		FollowUpQuestions:  extractQuestions(raw),
		RawOutput:          raw,
	}

	return category, analysis
}

func extractLine(re *regexp.Regexp, raw, fallback string) string {
	if m := re.FindStringSubmatch(raw); m != nil {
		if v := strings.TrimSpace(m[1]); v != "" {
			return v
		}
	}
	return fallback
}

func extractConditions(raw string) []string {
	conditions := []string{}
	m := causesRe.FindStringSubmatch(raw)
	if m == nil {
		return conditions
	}
	for _, c := range strings.Split(m[1], ",") {
		c = strings.TrimSpace(c)
		if c == "" || strings.Contains(strings.ToLower(c), "none") {
			continue
		}
		conditions = append(conditions, c)
	}
	return conditions
}

// extractQuestions returns at most one follow-up question; the classifier
// is prompted to ask one at a time.
func extractQuestions(raw string) []string {
	questions := []string{}
	m := questionRe.FindStringSubmatch(raw)
	if m == nil {
		return questions
	}
	q := strings.TrimSpace(m[1])
	if len(q) < minQuestionLen || strings.Contains(strings.ToLower(q), "none") {
		return questions
	}
	return append(questions, q)
}
