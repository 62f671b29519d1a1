package shredding

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SectionKind is the heading marker that opened a section
type SectionKind string

const (
	SectionKindSection    SectionKind = "SECTION"
	SectionKindPart       SectionKind = "PART"
	SectionKindAttachment SectionKind = "ATTACHMENT"
)

const (
	// MaxHeadingLength is the longest line still accepted as a heading
	MaxHeadingLength = 120
	// maxTitleWords is the longest heading title that may end like a sentence
	maxTitleWords = 12
)

// Section is a labeled region of the source text. Start is just after the
// heading line and End is the offset of the next heading or len(text).
type Section struct {
	Label   string      `json:"label"`
	Kind    SectionKind `json:"kind"`
	Title   string      `json:"title"`
	Heading int         `json:"heading"`
	Start   int         `json:"start"`
	End     int         `json:"end"`
}

// Anomaly describes a line that looked like a heading but was rejected
type Anomaly struct {
	Line   int    `json:"line"`
	Offset int    `json:"offset"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// AnomalyFunc receives malformed headings during detection
type AnomalyFunc func(Anomaly)

// headingPattern matches a heading marker followed by a designator and an
// optional separator and title.
var headingPattern = regexp.MustCompile(
	`(?i)^[\s\f]*(section|part|attachment)\s+([a-z]-\d+|[ivxlcdm]{1,8}|\d+|[a-z])\b\s*(?:[-–—:.]\s*)?(.*?)\s*$`,
)

// sentenceEnd matches a title that ends like prose
var sentenceEnd = regexp.MustCompile(`[.!?]["'”’)\]]*$`)

// SectionDetector splits a solicitation into labeled sections
type SectionDetector struct {
	maxHeadingLength int
	maxTitleWords    int
	onAnomaly        AnomalyFunc
}

// DetectorOption configures a SectionDetector
type DetectorOption func(*SectionDetector)

// WithMaxHeadingLength overrides MaxHeadingLength
func WithMaxHeadingLength(n int) DetectorOption {
	return func(d *SectionDetector) {
		if n > 0 {
			d.maxHeadingLength = n
		}
	}
}

// WithAnomalyFunc registers a callback for malformed headings
func WithAnomalyFunc(fn AnomalyFunc) DetectorOption {
	return func(d *SectionDetector) {
		d.onAnomaly = fn
	}
}

// NewSectionDetector creates a detector with the default heading rules
func NewSectionDetector(opts ...DetectorOption) *SectionDetector {
	d := &SectionDetector{
		maxHeadingLength: MaxHeadingLength,
		maxTitleWords:    maxTitleWords,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns the sections of text ordered by offset. Text before the
// first heading belongs to no section. Empty input yields an empty slice.
func (d *SectionDetector) Detect(text string) []Section {
	sections := make([]Section, 0)
	if strings.TrimSpace(text) == "" {
		return sections
	}

	lineNo := 0
	for offset := 0; offset < len(text); {
		lineNo++
		end := strings.IndexByte(text[offset:], '\n')
		next := len(text)
		if end >= 0 {
			next = offset + end + 1
			end = offset + end
		} else {
			end = len(text)
		}
		line := strings.TrimRight(text[offset:end], "\r")

		if s, ok := d.parseHeading(line, lineNo, offset); ok {
			if n := len(sections); n > 0 {
				sections[n-1].End = offset
			}
			s.Heading = offset
			s.Start = next
			s.End = len(text)
			sections = append(sections, s)
		}
		offset = next
	}
	return sections
}

func (d *SectionDetector) parseHeading(line string, lineNo, offset int) (Section, bool) {
	m := headingPattern.FindStringSubmatch(line)
	if m == nil {
		return Section{}, false
	}

	trimmed := strings.TrimSpace(line)
	if utf8.RuneCountInString(trimmed) > d.maxHeadingLength {
		d.report(Anomaly{Line: lineNo, Offset: offset, Text: truncate(trimmed, d.maxHeadingLength),
			Reason: fmt.Sprintf("heading exceeds %d characters", d.maxHeadingLength)})
		return Section{}, false
	}

	title := strings.TrimSpace(m[3])
	if reason := wrappedProse(title); reason != "" {
		d.report(Anomaly{Line: lineNo, Offset: offset, Text: trimmed, Reason: reason})
		return Section{}, false
	}
	if sentenceEnd.MatchString(title) && (len(strings.Fields(title)) > d.maxTitleWords || obligationPattern.MatchString(title)) {
		d.report(Anomaly{Line: lineNo, Offset: offset, Text: trimmed, Reason: "heading title reads as a sentence"})
		return Section{}, false
	}

	kind := SectionKind(strings.ToUpper(m[1]))
	label := strings.ToUpper(m[2])
	if kind == SectionKindAttachment {
		label = "ATT-" + label
	}

	return Section{
		Label: label,
		Kind:  kind,
		Title: strings.TrimRight(title, " -–—:."),
	}, true
}

// wrappedProse rejects titles of lines that are a sentence wrapped so that
// it starts with a reference like "Section M, the Government will ...".
func wrappedProse(title string) string {
	if title == "" {
		return ""
	}
	r, _ := utf8.DecodeRuneInString(title)
	switch {
	case !unicode.IsLetter(r) && !unicode.IsDigit(r) && !strings.ContainsRune(`("'“‘[`, r):
		return fmt.Sprintf("heading title starts with %q", r)
	case unicode.IsLower(r) && obligationPattern.MatchString(title):
		return "heading title continues a sentence"
	}
	return ""
}

func (d *SectionDetector) report(a Anomaly) {
	if d.onAnomaly != nil {
		d.onAnomaly(a)
	}
}

// WholeDocument is the single unlabeled section used when no headings exist
func WholeDocument(text string) Section {
	return Section{Start: 0, End: len(text)}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
