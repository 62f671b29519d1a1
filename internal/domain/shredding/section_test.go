package shredding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSectionDetector_Detect(t *testing.T) {
	text := "Preamble text.\n" +
		"SECTION C - DESCRIPTION/SPECIFICATIONS\n" +
		"The contractor shall provide support.\n" +
		"  Section l: Instructions to Offerors\n" +
		"Offerors must submit a proposal.\n" +
		"PART IV\n" +
		"Representations.\n" +
		"ATTACHMENT J-1. Labor Categories\n" +
		"Rates will be fixed."

	sections := NewSectionDetector().Detect(text)
	require.Len(t, sections, 4)

	assert.Equal(t, "C", sections[0].Label)
	assert.Equal(t, SectionKindSection, sections[0].Kind)
	assert.Equal(t, "DESCRIPTION/SPECIFICATIONS", sections[0].Title)
	assert.Equal(t, "The contractor shall provide support.\n", text[sections[0].Start:sections[0].End])

	assert.Equal(t, "L", sections[1].Label)
	assert.Equal(t, "Instructions to Offerors", sections[1].Title)

	assert.Equal(t, "IV", sections[2].Label)
	assert.Equal(t, SectionKindPart, sections[2].Kind)

	assert.Equal(t, "ATT-J-1", sections[3].Label)
	assert.Equal(t, SectionKindAttachment, sections[3].Kind)
	assert.Equal(t, "Labor Categories", sections[3].Title)
	assert.Equal(t, len(text), sections[3].End)

	for i := 1; i < len(sections); i++ {
		assert.LessOrEqual(t, sections[i-1].End, sections[i].Heading, "sections must not overlap")
		assert.Less(t, sections[i-1].Start, sections[i].Start)
	}
}

func TestSectionDetector_EmptyInput(t *testing.T) {
	d := NewSectionDetector()
	for _, in := range []string{"", "   ", "\n\t\n"} {
		got := d.Detect(in)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	}
}

func TestSectionDetector_NoHeadings(t *testing.T) {
	assert.Empty(t, NewSectionDetector().Detect("The contractor shall deliver reports monthly."))
}

func TestSectionDetector_MalformedHeadings(t *testing.T) {
	var anomalies []Anomaly
	d := NewSectionDetector(WithAnomalyFunc(func(a Anomaly) { anomalies = append(anomalies, a) }))

	long := "SECTION H " + strings.Repeat("x", 150)
	text := "SECTION C\nbody\n" +
		long + "\n" +
		"Section 508 standards shall apply to all deliverables.\n" +
		"SECTION L\nmore"

	sections := d.Detect(text)
	require.Len(t, sections, 2)
	assert.Equal(t, "C", sections[0].Label)
	assert.Equal(t, "L", sections[1].Label)

	require.Len(t, anomalies, 2)
	assert.Equal(t, 3, anomalies[0].Line)
	assert.Contains(t, anomalies[0].Reason, "exceeds")
	assert.Equal(t, 4, anomalies[1].Line)
}

func TestSectionDetector_WrappedReferencesAreNotHeadings(t *testing.T) {
	var anomalies []Anomaly
	d := NewSectionDetector(WithAnomalyFunc(func(a Anomaly) { anomalies = append(anomalies, a) }))

	text := "SECTION L\n" +
		"Offerors must submit a technical proposal. As described in\n" +
		"Section M, the Government will evaluate each\n" +
		"proposal for best value. Offerors should also read\n" +
		"Section C of the solicitation which shall govern\n" +
		"performance.\n"

	sections := d.Detect(text)
	require.Len(t, sections, 1)
	assert.Equal(t, "L", sections[0].Label)
	assert.Equal(t, len(text), sections[0].End)

	require.Len(t, anomalies, 2)
	assert.Equal(t, 3, anomalies[0].Line)
	assert.Contains(t, anomalies[0].Reason, "','")
	assert.Equal(t, 5, anomalies[1].Line)
	assert.Contains(t, anomalies[1].Reason, "continues a sentence")

	// the obligation in the wrapped line stays with its paragraph
	candidates := NewExtractor(DefaultExtractorConfig()).ExtractAll(sections, text)
	var texts []string
	for _, c := range candidates {
		texts = append(texts, c.Text)
	}
	assert.Contains(t, texts, "As described in Section M, the Government will evaluate each proposal for best value.")
}

func TestSectionDetector_HeadingTitleShapes(t *testing.T) {
	for _, line := range []string{
		"SECTION C (Continued)",
		"SECTION J \"List of Attachments\"",
		"PART 2 - 2024 Amendments",
		"SECTION B - supplies or services and prices/costs",
	} {
		assert.Len(t, NewSectionDetector().Detect(line+"\nbody"), 1, line)
	}
}

func TestSectionDetector_CRLFAndFormFeed(t *testing.T) {
	text := "\fSECTION B\r\nSupplies shall be delivered.\r\n"
	sections := NewSectionDetector().Detect(text)
	require.Len(t, sections, 1)
	assert.Equal(t, "B", sections[0].Label)
	assert.Empty(t, sections[0].Title)
}

func TestSectionDetector_NotHeadings(t *testing.T) {
	for _, line := range []string{
		"PART of the work shall be subcontracted.",
		"Sectional views are required.",
		"SECTION CLIN structure",
	} {
		assert.Empty(t, NewSectionDetector().Detect(line), line)
	}
}

func TestSectionDetector_Deterministic(t *testing.T) {
	text := "SECTION C\na\nSECTION L\nb\n"
	d := NewSectionDetector()
	assert.Equal(t, d.Detect(text), d.Detect(text))
}
