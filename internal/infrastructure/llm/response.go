package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/govcon/shredder/internal/domain/compliance"
)

// classification is the model's reply for one requirement. Models drift on
// types, so numbers and booleans are accepted as strings too.
type classification struct {
	ComplianceType string    `json:"compliance_type"`
	Category       string    `json:"category"`
	Priority       string    `json:"priority"`
	Risk           flexBool  `json:"risk"`
	Keywords       []string  `json:"keywords"`
	Confidence     flexFloat `json:"confidence"`
}

func (c classification) toResult(source string) compliance.ClassificationResult {
	return compliance.ClassificationResult{
		ComplianceType: compliance.ComplianceType(c.ComplianceType),
		Category:       c.Category,
		Priority:       compliance.Priority(c.Priority),
		Risk:           bool(c.Risk),
		Keywords:       c.Keywords,
		Confidence:     float64(c.Confidence),
		Source:         source,
	}
}

type batchReply struct {
	Results []classification `json:"results"`
}

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return fmt.Errorf("confidence %q is not a number", s)
	}
	if strings.HasSuffix(s, "%") {
		v /= 100
	}
	*f = flexFloat(v)
	return nil
}

type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.ToLower(strings.Trim(string(bytes.TrimSpace(b)), `"`)) {
	case "true", "yes", "y", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

// extractJSON returns the outermost JSON object in a model reply, which some
// models wrap in prose or code fences.
func extractJSON(content string) (string, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object in model reply")
	}
	return content[start : end+1], nil
}

func decodeSingle(content string) (classification, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return classification{}, err
	}
	var c classification
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return classification{}, fmt.Errorf("failed to decode classification: %w", err)
	}
	return c, nil
}

func decodeBatch(content string, n int) ([]classification, error) {
	raw, err := extractJSON(content)
	if err != nil {
		return nil, err
	}
	var reply batchReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("failed to decode batch classification: %w", err)
	}
	if len(reply.Results) != n {
		return nil, fmt.Errorf("model returned %d classifications for %d requirements", len(reply.Results), n)
	}
	return reply.Results, nil
}
