package export

import (
	"errors"
	"fmt"
	"strings"
)

// Row error codes
const (
	ErrCodeMissingValue = "ERR_MATRIX_MISSING_VALUE"
	ErrCodeInvalidValue = "ERR_MATRIX_INVALID_VALUE"
	ErrCodeMalformedRow = "ERR_MATRIX_MALFORMED_ROW"
	ErrCodeDuplicateRow = "ERR_MATRIX_DUPLICATE_ROW"
)

var (
	// ErrEmptyFile is returned when the CSV file is empty
	ErrEmptyFile = errors.New("CSV file is empty")

	// ErrInvalidEncoding is returned when the file is not valid UTF-8
	ErrInvalidEncoding = errors.New("CSV file is not valid UTF-8")

	// ErrMissingHeader is returned when the CSV file has no header row
	ErrMissingHeader = errors.New("CSV file missing header row")
)

// MissingColumnsError is returned when required matrix columns are absent
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Columns, ", "))
}

// RowError describes a rejected row
type RowError struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (e RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d, column '%s': %s", e.Row, e.Column, e.Message)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// ErrorCollection keeps the first maxErrors row errors and counts the rest
type ErrorCollection struct {
	errors     []RowError
	maxErrors  int
	totalCount int
}

// NewErrorCollection creates a collection, maxErrors <= 0 means 100
func NewErrorCollection(maxErrors int) *ErrorCollection {
	if maxErrors <= 0 {
		maxErrors = 100
	}
	return &ErrorCollection{maxErrors: maxErrors}
}

// Add records an error
func (ec *ErrorCollection) Add(err RowError) {
	ec.totalCount++
	if len(ec.errors) < ec.maxErrors {
		ec.errors = append(ec.errors, err)
	}
}

// Errors returns the kept errors
func (ec *ErrorCollection) Errors() []RowError {
	return ec.errors
}

// Total returns how many errors were added, kept or not
func (ec *ErrorCollection) Total() int {
	return ec.totalCount
}

// Truncated reports whether errors were dropped
func (ec *ErrorCollection) Truncated() bool {
	return ec.totalCount > len(ec.errors)
}
