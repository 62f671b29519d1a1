package llm

import (
	"context"
	"regexp"
	"strings"

	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/govcon/shredder/internal/domain/shredding"
)

// RulesClassifierName is the ClassifiedBy value of rule-based results
const RulesClassifierName = "rules"

// categoryRule maps a topic to the terms that signal it. Rules are tried in
// order and the first match wins.
type categoryRule struct {
	category string
	pattern  *regexp.Regexp
}

func wordsPattern(words ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)\b`)
}

var categoryRules = []categoryRule{
	{"proposal submission", wordsPattern("offerors?", "proposals?", "submit(?:ted|tal)?", "volumes?", "page limits?", "font")},
	{"security", wordsPattern("security", "clearances?", "classified", "cyber(?:security)?", "fisma", "nist", "cui")},
	{"personnel", wordsPattern("personnel", "staff(?:ing)?", "key personnel", "resumes?", "labor categor(?:y|ies)")},
	{"pricing", wordsPattern("price", "pricing", "cost", "invoices?", "payments?", "rates?")},
	{"deliverables", wordsPattern("deliver(?:able|ables|y)?", "reports?", "monthly", "weekly", "schedule")},
	{"management", wordsPattern("manage(?:ment)?", "quality", "plans?", "oversight", "coordinat(?:e|ion)")},
}

var riskPattern = wordsPattern(
	"disqualif(?:y|ied|ication)", "ineligible", "rejected", "penalt(?:y|ies)",
	"liquidated damages", "terminat(?:e|ion)", "non-?responsive", "unacceptable",
)

// RulesClassifier classifies deterministically from obligation keywords and
// a topic lexicon. It never fails and needs no network, which makes it the
// offline backend and a stable baseline for tests.
type RulesClassifier struct{}

// NewRulesClassifier creates a rule-based classifier
func NewRulesClassifier() *RulesClassifier {
	return &RulesClassifier{}
}

// Name returns the backend name
func (RulesClassifier) Name() string {
	return RulesClassifierName
}

// Classify classifies one text
func (c RulesClassifier) Classify(ctx context.Context, text string) (compliance.ClassificationResult, error) {
	if err := ctx.Err(); err != nil {
		return compliance.ClassificationResult{}, err
	}

	result := compliance.ClassificationResult{
		Category: "technical",
		Keywords: shredding.MatchedTerms(text),
		Source:   RulesClassifierName,
	}

	switch shredding.ObligationOf(text) {
	case shredding.ObligationProhibitive:
		result.ComplianceType = compliance.ComplianceTypeMandatory
		result.Priority = compliance.PriorityHigh
		result.Risk = true
		result.Confidence = 0.7
	case shredding.ObligationMandatory:
		result.ComplianceType = compliance.ComplianceTypeMandatory
		result.Priority = compliance.PriorityHigh
		result.Confidence = 0.7
	case shredding.ObligationAdvisory:
		result.ComplianceType = compliance.ComplianceTypeRecommended
		result.Priority = compliance.PriorityMedium
		result.Confidence = 0.5
		if optionalPattern.MatchString(text) {
			result.ComplianceType = compliance.ComplianceTypeOptional
			result.Priority = compliance.PriorityLow
		}
	default:
		result.ComplianceType = compliance.ComplianceTypeUnclassified
		result.Priority = compliance.PriorityLow
		result.Confidence = 0.2
	}

	for _, rule := range categoryRules {
		if m := rule.pattern.FindString(text); m != "" {
			result.Category = rule.category
			result.Keywords = append(result.Keywords, strings.ToLower(m))
			break
		}
	}
	if riskPattern.MatchString(text) {
		result.Risk = true
		result.Priority = compliance.PriorityHigh
	}
	return result, nil
}

var optionalPattern = wordsPattern("may", "optional(?:ly)?", "at (?:its|their) discretion")

// ClassifyBatch classifies each text in order
func (c RulesClassifier) ClassifyBatch(ctx context.Context, texts []string) ([]compliance.ClassificationResult, error) {
	out := make([]compliance.ClassificationResult, len(texts))
	for i, t := range texts {
		r, err := c.Classify(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

var _ compliance.BatchClassifier = RulesClassifier{}
