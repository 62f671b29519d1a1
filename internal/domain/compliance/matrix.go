package compliance

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// MatrixRow is one row of the compliance matrix
type MatrixRow struct {
	ReqID            string           `json:"req_id"`
	Section          string           `json:"section"`
	Page             int              `json:"page"`
	Paragraph        int              `json:"paragraph"`
	Text             string           `json:"requirement_text"`
	ComplianceType   ComplianceType   `json:"compliance_type"`
	Category         string           `json:"category"`
	Priority         Priority         `json:"priority"`
	Risk             bool             `json:"risk"`
	ComplianceStatus ComplianceStatus `json:"compliance_status"`
	ProposalSection  string           `json:"proposal_section"`
	ProposalPage     string           `json:"proposal_page"`
	AssignedTo       string           `json:"assigned_to"`
	AssigneeType     AssigneeType     `json:"assignee_type"`
	AssigneeName     string           `json:"assignee_name"`
	Keywords         []string         `json:"keywords"`
	Notes            string           `json:"notes"`
	DueDate          *time.Time       `json:"due_date,omitempty"`
	sequence         int
}

// ProjectMatrix projects requirements into matrix rows ordered by section
// label (unlabeled first, natural order, roman part numbers by value when the
// matrix uses them) then by sequence. The input is not modified.
func ProjectMatrix(reqs []Requirement) []MatrixRow {
	rows := make([]MatrixRow, 0, len(reqs))
	for i := range reqs {
		r := &reqs[i]
		keywords := r.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		rows = append(rows, MatrixRow{
			ReqID:            r.ID.String(),
			Section:          r.SectionLabel,
			Page:             r.Page,
			Paragraph:        r.Paragraph,
			Text:             r.Text,
			ComplianceType:   r.ComplianceType,
			Category:         r.Category,
			Priority:         r.Priority,
			Risk:             r.Risk,
			ComplianceStatus: r.ComplianceStatus,
			ProposalSection:  r.ProposalSection,
			ProposalPage:     r.ProposalPage,
			AssignedTo:       r.AssignedTo,
			AssigneeType:     r.AssigneeType,
			AssigneeName:     r.AssigneeName,
			Keywords:         append([]string{}, keywords...),
			Notes:            r.Notes,
			DueDate:          r.DueDate,
			sequence:         r.Sequence,
		})
	}

	labels := make([]string, len(rows))
	for i := range rows {
		labels[i] = rows[i].Section
	}
	compare := labelComparer(labels)
	sort.SliceStable(rows, func(i, j int) bool {
		if c := compare(rows[i].Section, rows[j].Section); c != 0 {
			return c < 0
		}
		return rows[i].sequence < rows[j].sequence
	})
	return rows
}

// CompareSectionLabels orders section labels naturally: the empty label
// first, digit runs compared by value so "J-2" sorts before "J-10".
func CompareSectionLabels(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}

	ra, rb := []rune(a), []rune(b)
	i, j := 0, 0
	for i < len(ra) && j < len(rb) {
		if unicode.IsDigit(ra[i]) && unicode.IsDigit(rb[j]) {
			si := i
			for i < len(ra) && unicode.IsDigit(ra[i]) {
				i++
			}
			sj := j
			for j < len(rb) && unicode.IsDigit(rb[j]) {
				j++
			}
			na, errA := strconv.Atoi(string(ra[si:i]))
			nb, errB := strconv.Atoi(string(rb[sj:j]))
			if errA == nil && errB == nil && na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			continue
		}
		ca, cb := unicode.ToUpper(ra[i]), unicode.ToUpper(rb[j])
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
		i++
		j++
	}

	switch {
	case len(ra)-i < len(rb)-j:
		return -1
	case len(ra)-i > len(rb)-j:
		return 1
	}
	// equal under natural order; fall back to a byte comparison for a total order
	if a < b {
		return -1
	}
	return 1
}

// romanPattern accepts canonical roman numerals only, so "IIII" or "VX" stay
// letters.
var romanPattern = regexp.MustCompile(`^M{0,3}(CM|CD|D?C{0,3})(XC|XL|L?X{0,3})(IX|IV|V?I{0,3})$`)

var romanDigits = map[rune]int{'I': 1, 'V': 5, 'X': 10, 'L': 50, 'C': 100, 'D': 500, 'M': 1000}

// RomanValue returns the value of a canonical roman numeral label
func RomanValue(label string) (int, bool) {
	label = strings.ToUpper(label)
	if label == "" || !romanPattern.MatchString(label) {
		return 0, false
	}
	total, prev := 0, 0
	for i := len(label) - 1; i >= 0; i-- {
		v := romanDigits[rune(label[i])]
		if v < prev {
			total -= v
		} else {
			total += v
			prev = v
		}
	}
	return total, true
}

// labelComparer picks the label order for one matrix. Single letters are
// ambiguous: SECTION C and SECTION L are letters, PART V is a number. Roman
// labels compare by value only when some label is a multi-letter numeral and
// no single letter other than I, V or X is in use; otherwise every label is
// compared naturally. The choice is made once per matrix so the order stays
// transitive.
func labelComparer(labels []string) func(a, b string) int {
	multi := false
	for _, l := range labels {
		if _, ok := RomanValue(l); ok && len(l) > 1 {
			multi = true
		}
		if r := []rune(l); len(r) == 1 && unicode.IsLetter(r[0]) && !strings.ContainsRune("IVXivx", r[0]) {
			return CompareSectionLabels
		}
	}
	if !multi {
		return CompareSectionLabels
	}

	key := func(l string) string {
		if v, ok := RomanValue(l); ok {
			return strconv.Itoa(v)
		}
		return l
	}
	return func(a, b string) int {
		if c := CompareSectionLabels(key(a), key(b)); c != 0 {
			return c
		}
		return CompareSectionLabels(a, b)
	}
}
