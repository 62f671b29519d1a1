package shredding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleRFP = "SECTION C\nThe contractor shall provide support.\nNo obligation here.\nSECTION L\nOfferors must submit a technical proposal."

func TestExtractAll_ExampleScenario(t *testing.T) {
	sections := NewSectionDetector().Detect(exampleRFP)
	require.Len(t, sections, 2)

	got := NewExtractor(DefaultExtractorConfig()).ExtractAll(sections, exampleRFP)
	require.Len(t, got, 2)

	assert.Equal(t, "The contractor shall provide support.", got[0].Text)
	assert.Equal(t, "C", got[0].SectionLabel)
	assert.Equal(t, 1, got[0].Sequence)
	assert.Equal(t, 0, got[0].Position)
	assert.Equal(t, 1, got[0].Paragraph)
	assert.Equal(t, 0, got[0].Page)
	assert.Equal(t, "The contractor shall provide support.", exampleRFP[got[0].Offset:got[0].Offset+len(got[0].Text)])

	assert.Equal(t, "Offerors must submit a technical proposal.", got[1].Text)
	assert.Equal(t, "L", got[1].SectionLabel)
	assert.Equal(t, 1, got[1].Sequence)
}

func TestExtract_StreamIsSinglePass(t *testing.T) {
	sections := NewSectionDetector().Detect(exampleRFP)
	e := NewExtractor(DefaultExtractorConfig())

	stream := e.Extract(sections[0], exampleRFP)
	require.True(t, stream.Next())
	assert.Equal(t, "C", stream.Candidate().SectionLabel)
	assert.False(t, stream.Next())
	assert.False(t, stream.Next())
	assert.NoError(t, stream.Err())

	again := e.Extract(sections[0], exampleRFP)
	assert.True(t, again.Next())
}

func TestExtract_Filters(t *testing.T) {
	text := "The offeror shall comply.\n" +
		"Shall do.\n" +
		"This sentence states a plain fact about history.\n" +
		"The offeror   SHALL\ncomply.\n" +
		"Proposals may not exceed fifty pages."

	got := NewExtractor(DefaultExtractorConfig()).ExtractAll(nil, text)

	texts := make([]string, 0, len(got))
	for _, c := range got {
		texts = append(texts, c.Text)
		assert.Empty(t, c.SectionLabel)
	}
	// "Shall do." is too short, the fact has no keyword, the upper-case repeat is a duplicate
	assert.Equal(t, []string{"The offeror shall comply.", "Proposals may not exceed fifty pages."}, texts)
	assert.Equal(t, 1, got[0].Sequence)
	assert.Equal(t, 2, got[1].Sequence)
	assert.Equal(t, 4, got[1].Position)
}

func TestExtract_SentenceBoundaries(t *testing.T) {
	text := "The vendor shall ship items (see Table 1.) Delivery must occur weekly. " +
		"Version 2.5 of the tool will be used? Yes, it must be used by all staff."

	got := NewExtractor(DefaultExtractorConfig()).ExtractAll(nil, text)
	require.Len(t, got, 4)
	assert.Equal(t, "The vendor shall ship items (see Table 1.)", got[0].Text)
	assert.Equal(t, "Delivery must occur weekly.", got[1].Text)
	assert.Equal(t, "Version 2.5 of the tool will be used?", got[2].Text)
	assert.Equal(t, "Yes, it must be used by all staff.", got[3].Text)
}

func TestExtract_ParagraphsAndPages(t *testing.T) {
	text := "SECTION C\n" +
		"The contractor shall staff the help desk.\n" +
		"\n" +
		"The contractor shall provide monthly reports.\n" +
		"\f\n" +
		"The contractor shall maintain a quality plan.\n"

	sections := NewSectionDetector().Detect(text)
	got := NewExtractor(DefaultExtractorConfig()).ExtractAll(sections, text)
	require.Len(t, got, 3)

	assert.Equal(t, []int{1, 2, 3}, []int{got[0].Paragraph, got[1].Paragraph, got[2].Paragraph})
	assert.Equal(t, []int{1, 1, 2}, []int{got[0].Page, got[1].Page, got[2].Page})
}

func TestExtractAll_RepeatedLabelContinuesSequence(t *testing.T) {
	text := "SECTION C\nThe contractor shall provide support.\n" +
		"SECTION L\nOfferors must submit a proposal.\n" +
		"SECTION C\nThe contractor shall provide support.\nThe contractor must train staff.\n"

	sections := NewSectionDetector().Detect(text)
	require.Len(t, sections, 3)

	got := NewExtractor(DefaultExtractorConfig()).ExtractAll(sections, text)
	require.Len(t, got, 3)
	assert.Equal(t, "C", got[2].SectionLabel)
	assert.Equal(t, 2, got[2].Sequence)
	assert.Equal(t, "The contractor must train staff.", got[2].Text)
}

func TestExtractAll_Deterministic(t *testing.T) {
	e := NewExtractor(DefaultExtractorConfig())
	sections := NewSectionDetector().Detect(exampleRFP)
	assert.Equal(t, e.ExtractAll(sections, exampleRFP), e.ExtractAll(sections, exampleRFP))
}

func TestExtractAll_EmptyInput(t *testing.T) {
	got := NewExtractor(DefaultExtractorConfig()).ExtractAll(nil, "")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestExtractor_MinLength(t *testing.T) {
	got := NewExtractor(ExtractorConfig{MinLength: 100}).ExtractAll(nil, exampleRFP)
	assert.Empty(t, got)
}
