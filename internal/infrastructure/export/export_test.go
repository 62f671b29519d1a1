package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequirements(t *testing.T) []compliance.Requirement {
	t.Helper()
	oppID := compliance.OpportunityID("W912DQ-24-R-0001")
	due := time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)

	mk := func(label string, seq int, text string, ct compliance.ComplianceType, p compliance.Priority, kw []string) compliance.Requirement {
		req, err := compliance.NewRequirement(oppID, compliance.RequirementSource{
			SectionLabel: label, Sequence: seq, Page: 2, Paragraph: seq, Text: text, TextHash: "h",
		}, compliance.ClassificationResult{
			ComplianceType: ct, Category: "technical", Priority: p, Keywords: kw, Confidence: 0.8, Source: "test",
		})
		require.NoError(t, err)
		return *req
	}

	reqs := []compliance.Requirement{
		mk("L", 1, "Offerors must submit a technical proposal.", compliance.ComplianceTypeMandatory, compliance.PriorityHigh, []string{"must", "proposal"}),
		mk("C", 2, `The contractor shall label items "fragile", with care.`, compliance.ComplianceTypeRecommended, compliance.PriorityLow, []string{"o'brien", `back\slash`}),
		mk("C", 1, "The contractor shall provide support.", compliance.ComplianceTypeOptional, compliance.PriorityMedium, nil),
	}
	reqs[0].Risk = true
	reqs[0].ComplianceStatus = compliance.ComplianceStatusInProgress
	reqs[0].AssigneeType = compliance.AssigneeTypeTeam
	reqs[0].AssigneeName = "Volume I"
	reqs[0].Notes = "line one\nline two"
	reqs[0].DueDate = &due
	return reqs
}

func TestMatrixWriter_Output(t *testing.T) {
	rows := compliance.ProjectMatrix(sampleRequirements(t))

	var buf bytes.Buffer
	w := NewMatrixWriter(&buf)
	require.NoError(t, w.WriteAll(rows))
	assert.Equal(t, 3, w.Rows())

	lines := strings.SplitN(buf.String(), "\n", 2)
	assert.Equal(t, strings.Join(MatrixColumns, ","), lines[0])
	assert.Contains(t, buf.String(), "['must', 'proposal']")
	assert.Contains(t, buf.String(), `['o\'brien', 'back\\slash']`)
	assert.Contains(t, buf.String(), ",Yes,")
	assert.Contains(t, buf.String(), "2026-11-03")
}

func TestMatrixWriter_EmptyMatrixHasHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewMatrixWriter(&buf).WriteAll(nil))
	assert.Equal(t, strings.Join(MatrixColumns, ",")+"\n", buf.String())
}

func TestRoundTrip(t *testing.T) {
	reqs := sampleRequirements(t)
	rows := compliance.ProjectMatrix(reqs)

	for _, bom := range []bool{false, true} {
		var buf bytes.Buffer
		var opts []WriterOption
		if bom {
			opts = append(opts, WithBOM())
		}
		require.NoError(t, NewMatrixWriter(&buf, opts...).WriteAll(rows))

		parsed, err := ParseMatrix(&buf)
		require.NoError(t, err)
		require.Empty(t, parsed.Errors)
		require.Len(t, parsed.Rows, len(rows))
		assert.Equal(t, MatrixColumns, parsed.Columns)

		type triple struct {
			id string
			ct compliance.ComplianceType
			p  compliance.Priority
		}
		want := map[triple]bool{}
		for _, r := range reqs {
			want[triple{r.ID.String(), r.ComplianceType, r.Priority}] = true
		}
		got := map[triple]bool{}
		for _, r := range parsed.Rows {
			got[triple{r.ReqID, r.ComplianceType, r.Priority}] = true
		}
		assert.Equal(t, want, got)

		// full fidelity on the tracked row
		for i, r := range parsed.Rows {
			assert.Equal(t, rows[i].ReqID, r.ReqID)
			assert.Equal(t, rows[i].Text, r.Text)
			assert.Equal(t, rows[i].Keywords, r.Keywords)
			assert.Equal(t, rows[i].Notes, r.Notes)
			assert.Equal(t, rows[i].Risk, r.Risk)
			assert.Equal(t, rows[i].Page, r.Page)
		}
	}
}

func TestParseMatrix_TrackingOnlyFile(t *testing.T) {
	id := uuid.New().String()
	in := "\uFEFFreq id , Compliance Status,Due Date\n" +
		id + ",Compliant,2026-12-01\n" +
		",,\n"

	parsed, err := ParseMatrix(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, parsed.Rows, 1)
	assert.True(t, parsed.HasColumn(ColComplianceStatus))
	assert.False(t, parsed.HasColumn(ColNotes))
	assert.Equal(t, compliance.ComplianceStatusCompliant, parsed.Rows[0].ComplianceStatus)
	require.NotNil(t, parsed.Rows[0].DueDate)
	assert.Equal(t, "2026-12-01", parsed.Rows[0].DueDate.Format(dueDateLayout))
}

func TestParseMatrix_RowErrors(t *testing.T) {
	id := uuid.New().String()
	in := strings.Join([]string{
		"Req ID,Priority,Risk,Due Date,Compliance Status",
		"not-a-uuid,high,No,,",
		id + ",urgent,No,,",
		uuid.New().String() + ",low,maybe,,",
		uuid.New().String() + ",low,No,03/11/2026,",
		uuid.New().String() + ",low,No,,done",
		",low,No,,",
		id + ",low,No,,",
		id + ",low,No,,",
	}, "\n")

	parsed, err := ParseMatrix(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, parsed.Rows, 1)
	assert.Equal(t, 7, parsed.TotalErrors)

	codes := make([]string, 0, len(parsed.Errors))
	cols := make([]string, 0, len(parsed.Errors))
	for _, e := range parsed.Errors {
		codes = append(codes, e.Code)
		cols = append(cols, e.Column)
	}
	assert.Equal(t, []string{ColReqID, ColPriority, ColRisk, ColDueDate, ColComplianceStatus, ColReqID, ColReqID}, cols)
	assert.Equal(t, ErrCodeDuplicateRow, codes[6])
	assert.Equal(t, ErrCodeMissingValue, codes[5])
	assert.Equal(t, 2, parsed.Errors[0].Row)
}

func TestParseMatrix_FileErrors(t *testing.T) {
	_, err := ParseMatrix(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = ParseMatrix(strings.NewReader("Section,Notes\nC,x\n"))
	var missing *MissingColumnsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{ColReqID}, missing.Columns)

	_, err = ParseMatrix(bytes.NewReader([]byte{'R', 0xff, 0xfe, '\n'}))
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestKeywords(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		out  string
	}{
		{"empty", []string{}, "[]"},
		{"plain", []string{"shall", "deliver"}, "['shall', 'deliver']"},
		{"escapes", []string{"it's", `a\b`}, `['it\'s', 'a\\b']`},
		{"unicode", []string{"café"}, "['café']"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.out, FormatKeywords(tt.in))
			back, err := ParseKeywords(tt.out)
			require.NoError(t, err)
			assert.Equal(t, tt.in, back)
		})
	}

	t.Run("hand edited", func(t *testing.T) {
		got, err := ParseKeywords(`[ "a" ,'b']`)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, got)

		got, err = ParseKeywords("x, y ,,z")
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "y", "z"}, got)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, in := range []string{"['a'", "['a' 'b']", "[a]", "['open]"} {
			_, err := ParseKeywords(in)
			assert.Error(t, err, in)
		}
	})
}
