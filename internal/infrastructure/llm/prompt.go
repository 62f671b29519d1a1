package llm

import (
	"fmt"
	"strings"
)

const systemPrompt = `You classify requirements extracted from government solicitations (RFPs) for a proposal compliance matrix.
For each requirement return a JSON object with these fields:
  "compliance_type": one of "mandatory", "recommended", "optional"
  "category": a short lower-case topic such as "technical", "management", "personnel", "security", "deliverables", "pricing", "proposal submission"
  "priority": one of "low", "medium", "high"
  "risk": true when non-compliance could disqualify the offeror or trigger penalties, otherwise false
  "keywords": up to five short lower-case keywords
  "confidence": a number between 0 and 1
Reply with JSON only.`

func singlePrompt(text string) string {
	return "Classify this requirement and reply with one JSON object.\n\nRequirement:\n" + text
}

func batchPrompt(texts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Classify each of the %d numbered requirements. Reply with a JSON object "+
		`{"results": [...]} holding exactly %d objects in the same order, one per requirement.`+"\n\n", len(texts), len(texts))
	for i, t := range texts {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.Join(strings.Fields(t), " "))
	}
	return b.String()
}
