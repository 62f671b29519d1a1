package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/govcon/shredder/internal/domain/compliance"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// MatrixWriter writes compliance matrix rows as UTF-8 CSV
type MatrixWriter struct {
	out           io.Writer
	csv           *csv.Writer
	withBOM       bool
	headerWritten bool
	rows          int
}

// WriterOption is a functional option for MatrixWriter configuration
type WriterOption func(*MatrixWriter)

// WithBOM prefixes the output with a UTF-8 byte order mark so spreadsheet
// applications detect the encoding.
func WithBOM() WriterOption {
	return func(w *MatrixWriter) {
		w.withBOM = true
	}
}

// NewMatrixWriter creates a writer over w
func NewMatrixWriter(w io.Writer, opts ...WriterOption) *MatrixWriter {
	mw := &MatrixWriter{out: w, csv: csv.NewWriter(w)}
	for _, opt := range opts {
		opt(mw)
	}
	return mw
}

// WriteHeader writes the fixed header. WriteRow calls it when needed.
func (w *MatrixWriter) WriteHeader() error {
	if w.headerWritten {
		return nil
	}
	if w.withBOM {
		if _, err := w.out.Write(utf8BOM); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}
	if err := w.csv.Write(MatrixColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	w.headerWritten = true
	return nil
}

// WriteRow writes one matrix row
func (w *MatrixWriter) WriteRow(row compliance.MatrixRow) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if err := w.csv.Write(recordOf(row)); err != nil {
		return fmt.Errorf("failed to write row %s: %w", row.ReqID, err)
	}
	w.rows++
	return nil
}

// WriteAll writes the header, every row and flushes
func (w *MatrixWriter) WriteAll(rows []compliance.MatrixRow) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.WriteRow(row); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Flush flushes buffered output and reports any write error
func (w *MatrixWriter) Flush() error {
	w.csv.Flush()
	return w.csv.Error()
}

// Rows returns the number of data rows written
func (w *MatrixWriter) Rows() int {
	return w.rows
}

func recordOf(row compliance.MatrixRow) []string {
	risk := "No"
	if row.Risk {
		risk = "Yes"
	}
	due := ""
	if row.DueDate != nil {
		due = row.DueDate.Format(dueDateLayout)
	}
	return []string{
		row.ReqID,
		row.Section,
		strconv.Itoa(row.Page),
		strconv.Itoa(row.Paragraph),
		row.Text,
		string(row.ComplianceType),
		row.Category,
		string(row.Priority),
		risk,
		string(row.ComplianceStatus),
		row.ProposalSection,
		row.ProposalPage,
		row.AssignedTo,
		string(row.AssigneeType),
		row.AssigneeName,
		FormatKeywords(row.Keywords),
		row.Notes,
		due,
	}
}
