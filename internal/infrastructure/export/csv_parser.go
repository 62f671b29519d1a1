package export

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/govcon/shredder/internal/domain/compliance"
)

// CSVParser reads a header-indexed CSV, tolerating a UTF-8 BOM
type CSVParser struct {
	reader     *csv.Reader
	headers    []string
	headerMap  map[string]int
	currentRow int
}

// NewCSVParser wraps r, strips a BOM and checks the encoding
func NewCSVParser(r io.Reader) (*CSVParser, error) {
	buf := bufio.NewReader(r)

	head, err := buf.Peek(3)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(head) == 3 && head[0] == utf8BOM[0] && head[1] == utf8BOM[1] && head[2] == utf8BOM[2] {
		_, _ = buf.Discard(3)
	}
	if err := validateUTF8(buf); err != nil {
		return nil, err
	}

	reader := csv.NewReader(buf)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	return &CSVParser{reader: reader, headerMap: make(map[string]int)}, nil
}

func validateUTF8(r *bufio.Reader) error {
	const checkSize = 4096
	content, err := r.Peek(checkSize)
	if err != nil && err != io.EOF && !errors.Is(err, bufio.ErrBufferFull) {
		return fmt.Errorf("failed to read file for encoding validation: %w", err)
	}
	if len(content) == 0 {
		return ErrEmptyFile
	}
	// a multi-byte rune may straddle the peek window
	if len(content) == checkSize {
		for i := 0; i < utf8.UTFMax-1 && !utf8.Valid(content); i++ {
			content = content[:len(content)-1]
		}
	}
	if !utf8.Valid(content) {
		return ErrInvalidEncoding
	}
	return nil
}

// ParseHeader reads the header row. Header names are trimmed and matched
// case-insensitively.
func (p *CSVParser) ParseHeader() error {
	record, err := p.reader.Read()
	if err == io.EOF {
		return ErrMissingHeader
	}
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	p.headers = make([]string, len(record))
	for i, h := range record {
		h = strings.TrimSpace(h)
		p.headers[i] = h
		p.headerMap[strings.ToLower(h)] = i
	}
	p.currentRow = 1
	return nil
}

// HasHeader checks if a header exists
func (p *CSVParser) HasHeader(name string) bool {
	_, ok := p.headerMap[strings.ToLower(name)]
	return ok
}

// MissingHeaders returns the required headers that are absent
func (p *CSVParser) MissingHeaders(required []string) []string {
	var missing []string
	for _, h := range required {
		if !p.HasHeader(h) {
			missing = append(missing, h)
		}
	}
	return missing
}

// Row is one parsed data row
type Row struct {
	LineNumber int
	fields     []string
	headerMap  map[string]int
}

// Get returns the trimmed value of a column, "" when absent
func (r *Row) Get(header string) string {
	i, ok := r.headerMap[strings.ToLower(header)]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

// IsEmpty reports whether every field is blank
func (r *Row) IsEmpty() bool {
	for _, f := range r.fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// ReadRow reads the next row, io.EOF at the end
func (p *CSVParser) ReadRow() (*Row, error) {
	record, err := p.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	p.currentRow++
	if err != nil {
		return nil, fmt.Errorf("error reading row %d: %w", p.currentRow, err)
	}
	return &Row{LineNumber: p.currentRow, fields: record, headerMap: p.headerMap}, nil
}

// MatrixImport is the result of parsing a matrix CSV
type MatrixImport struct {
	Rows []compliance.MatrixRow
	// Columns lists the matrix columns present in the file
	Columns []string
	Errors  []RowError
	// TotalErrors counts every rejected row, including ones beyond Errors
	TotalErrors int
}

// HasColumn reports whether the parsed file carried the column
func (m *MatrixImport) HasColumn(name string) bool {
	for _, c := range m.Columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// ParseMatrix parses an exported (and possibly hand-edited) matrix. File
// level problems are returned as errors; bad rows are skipped and reported
// in MatrixImport.Errors.
func ParseMatrix(r io.Reader) (*MatrixImport, error) {
	p, err := NewCSVParser(r)
	if err != nil {
		return nil, err
	}
	if err := p.ParseHeader(); err != nil {
		return nil, err
	}
	if missing := p.MissingHeaders(requiredColumns); len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}

	result := &MatrixImport{Rows: []compliance.MatrixRow{}}
	for _, c := range MatrixColumns {
		if p.HasHeader(c) {
			result.Columns = append(result.Columns, c)
		}
	}

	errs := NewErrorCollection(0)
	seen := make(map[string]int)
	for {
		row, err := p.ReadRow()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs.Add(RowError{Row: p.currentRow, Code: ErrCodeMalformedRow, Message: err.Error()})
			continue
		}
		if row.IsEmpty() {
			continue
		}

		mr, rowErr := parseMatrixRow(row)
		if rowErr != nil {
			errs.Add(*rowErr)
			continue
		}
		if first, dup := seen[mr.ReqID]; dup {
			errs.Add(RowError{
				Row: row.LineNumber, Column: ColReqID, Code: ErrCodeDuplicateRow,
				Message: fmt.Sprintf("duplicate of row %d", first), Value: mr.ReqID,
			})
			continue
		}
		seen[mr.ReqID] = row.LineNumber
		result.Rows = append(result.Rows, mr)
	}

	result.Errors = errs.Errors()
	result.TotalErrors = errs.Total()
	return result, nil
}

func parseMatrixRow(row *Row) (compliance.MatrixRow, *RowError) {
	invalid := func(col, msg, value string) *RowError {
		return &RowError{Row: row.LineNumber, Column: col, Code: ErrCodeInvalidValue, Message: msg, Value: value}
	}

	id := row.Get(ColReqID)
	if id == "" {
		return compliance.MatrixRow{}, &RowError{Row: row.LineNumber, Column: ColReqID, Code: ErrCodeMissingValue, Message: "requirement id is required"}
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return compliance.MatrixRow{}, invalid(ColReqID, "not a valid requirement id", id)
	}

	mr := compliance.MatrixRow{
		ReqID:            parsedID.String(),
		Section:          row.Get(ColSection),
		Text:             row.Get(ColText),
		ComplianceType:   compliance.ComplianceType(strings.ToLower(row.Get(ColComplianceType))),
		Category:         row.Get(ColCategory),
		Priority:         compliance.Priority(strings.ToLower(row.Get(ColPriority))),
		ComplianceStatus: compliance.ComplianceStatus(strings.ToLower(row.Get(ColComplianceStatus))),
		ProposalSection:  row.Get(ColProposalSection),
		ProposalPage:     row.Get(ColProposalPage),
		AssignedTo:       row.Get(ColAssignedTo),
		AssigneeType:     compliance.AssigneeType(strings.ToLower(row.Get(ColAssigneeType))),
		AssigneeName:     row.Get(ColAssigneeName),
		Notes:            row.Get(ColNotes),
	}

	for _, f := range []struct {
		col string
		dst *int
	}{{ColPage, &mr.Page}, {ColParagraph, &mr.Paragraph}} {
		v := row.Get(f.col)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return compliance.MatrixRow{}, invalid(f.col, "must be a non-negative integer", v)
		}
		*f.dst = n
	}

	if mr.ComplianceType != "" && !mr.ComplianceType.IsValid() {
		return compliance.MatrixRow{}, invalid(ColComplianceType, "unknown compliance type", string(mr.ComplianceType))
	}
	if mr.Priority != "" && !mr.Priority.IsValid() {
		return compliance.MatrixRow{}, invalid(ColPriority, "unknown priority", string(mr.Priority))
	}
	if mr.ComplianceStatus != "" && !mr.ComplianceStatus.IsValid() {
		return compliance.MatrixRow{}, invalid(ColComplianceStatus, "unknown compliance status", string(mr.ComplianceStatus))
	}
	if !mr.AssigneeType.IsValid() {
		return compliance.MatrixRow{}, invalid(ColAssigneeType, "unknown assignee type", string(mr.AssigneeType))
	}

	switch risk := strings.ToLower(row.Get(ColRisk)); risk {
	case "yes", "true", "y", "1":
		mr.Risk = true
	case "", "no", "false", "n", "0":
	default:
		return compliance.MatrixRow{}, invalid(ColRisk, "must be Yes or No", risk)
	}

	keywords, err := ParseKeywords(row.Get(ColKeywords))
	if err != nil {
		return compliance.MatrixRow{}, invalid(ColKeywords, err.Error(), row.Get(ColKeywords))
	}
	mr.Keywords = keywords

	if v := row.Get(ColDueDate); v != "" {
		d, err := time.Parse(dueDateLayout, v)
		if err != nil {
			return compliance.MatrixRow{}, invalid(ColDueDate, "must be YYYY-MM-DD", v)
		}
		mr.DueDate = &d
	}
	return mr, nil
}
