package shredding

import (
	"regexp"
	"sort"
	"strings"
)

// Obligation is the strength of the strongest obligation term in a text
type Obligation string

const (
	ObligationNone        Obligation = ""
	ObligationMandatory   Obligation = "mandatory"
	ObligationAdvisory    Obligation = "advisory"
	ObligationProhibitive Obligation = "prohibitive"
)

var (
	mandatoryTerms   = []string{"shall", "must", "required", "is required to", "will"}
	advisoryTerms    = []string{"should", "may", "recommended", "encouraged", "optional"}
	prohibitiveTerms = []string{"shall not", "must not", "may not", "prohibited"}
)

// ObligationKeywords returns the fixed obligation vocabulary
func ObligationKeywords() []string {
	out := make([]string, 0, len(mandatoryTerms)+len(advisoryTerms)+len(prohibitiveTerms))
	out = append(out, mandatoryTerms...)
	out = append(out, advisoryTerms...)
	return append(out, prohibitiveTerms...)
}

var (
	obligationPattern  = termPattern(ObligationKeywords())
	mandatoryPattern   = termPattern(mandatoryTerms)
	prohibitivePattern = termPattern(prohibitiveTerms)
)

// termPattern builds an alternation with longer terms first so "shall not"
// wins over "shall".
func termPattern(terms []string) *regexp.Regexp {
	sorted := append([]string{}, terms...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	quoted := make([]string, len(sorted))
	for i, t := range sorted {
		quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(t), " ", `\s+`)
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// HasObligation reports whether text contains an obligation keyword
func HasObligation(text string) bool {
	return obligationPattern.MatchString(text)
}

// ObligationOf classifies the strongest obligation expressed by text.
// Prohibitions win over mandates, mandates over advice.
func ObligationOf(text string) Obligation {
	switch {
	case prohibitivePattern.MatchString(text):
		return ObligationProhibitive
	case mandatoryPattern.MatchString(text):
		return ObligationMandatory
	case obligationPattern.MatchString(text):
		return ObligationAdvisory
	}
	return ObligationNone
}

// MatchedTerms returns the distinct obligation terms found in text, lower-cased
func MatchedTerms(text string) []string {
	matches := obligationPattern.FindAllString(text, -1)
	out := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		m = strings.ToLower(strings.Join(strings.Fields(m), " "))
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
