package compliance

import (
	"math"
	"strings"
)

// ComplianceType is the obligation strength of a requirement
type ComplianceType string

const (
	ComplianceTypeMandatory    ComplianceType = "mandatory"
	ComplianceTypeRecommended  ComplianceType = "recommended"
	ComplianceTypeOptional     ComplianceType = "optional"
	ComplianceTypeUnclassified ComplianceType = "unclassified"
)

// IsValid checks if the compliance type is valid
func (c ComplianceType) IsValid() bool {
	switch c {
	case ComplianceTypeMandatory, ComplianceTypeRecommended, ComplianceTypeOptional, ComplianceTypeUnclassified:
		return true
	}
	return false
}

// Priority is the proposal-effort priority of a requirement
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValid checks if the priority is valid
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

const (
	// FallbackSource marks results produced without a successful classifier call
	FallbackSource = "fallback"
	// FallbackCategory is the category given to fallback results
	FallbackCategory = "uncategorized"
	// DefaultCategory replaces an empty category in classifier output
	DefaultCategory = "general"
	// LowConfidenceCeiling caps the confidence of results whose compliance
	// type could not be understood
	LowConfidenceCeiling = 0.3
)

// ClassificationResult is the output of one classification call
type ClassificationResult struct {
	ComplianceType ComplianceType `json:"compliance_type"`
	Category       string         `json:"category"`
	Priority       Priority       `json:"priority"`
	Risk           bool           `json:"risk"`
	Keywords       []string       `json:"keywords"`
	Confidence     float64        `json:"confidence"`
	Source         string         `json:"source"`
	Fallback       bool           `json:"fallback"`
}

// FallbackResult is the deterministic result used when classification is
// unavailable for a candidate.
func FallbackResult() ClassificationResult {
	return ClassificationResult{
		ComplianceType: ComplianceTypeUnclassified,
		Category:       FallbackCategory,
		Priority:       PriorityMedium,
		Risk:           false,
		Keywords:       []string{},
		Confidence:     0,
		Source:         FallbackSource,
		Fallback:       true,
	}
}

// ValidateClassification downgrades classifier output that violates the
// result schema instead of rejecting it. ceiling <= 0 uses LowConfidenceCeiling.
func ValidateClassification(r ClassificationResult, ceiling float64) ClassificationResult {
	if ceiling <= 0 || ceiling > 1 {
		ceiling = LowConfidenceCeiling
	}

	out := r
	out.ComplianceType = ComplianceType(strings.ToLower(strings.TrimSpace(string(r.ComplianceType))))
	out.Priority = Priority(strings.ToLower(strings.TrimSpace(string(r.Priority))))
	out.Confidence = clampConfidence(r.Confidence)

	if !out.ComplianceType.IsValid() {
		out.ComplianceType = ComplianceTypeUnclassified
		out.Confidence = math.Min(out.Confidence, ceiling)
	}
	if !out.Priority.IsValid() {
		out.Priority = PriorityMedium
	}

	out.Category = strings.ToLower(strings.Join(strings.Fields(r.Category), " "))
	if out.Category == "" {
		out.Category = DefaultCategory
	}

	out.Keywords = NormalizeKeywords(r.Keywords)
	return out
}

// NormalizeKeywords trims, lower-cases and de-duplicates keywords, keeping
// first-seen order. Never returns nil.
func NormalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.Join(strings.Fields(k), " "))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func clampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c):
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
