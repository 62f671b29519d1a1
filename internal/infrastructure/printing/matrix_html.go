// Package printing renders compliance matrices as printable HTML and turns
// that HTML into PDF with headless Chrome.
package printing

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/govcon/shredder/internal/domain/compliance"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MatrixDocument is everything printed on a matrix
type MatrixDocument struct {
	SolicitationNumber string
	Title              string
	GeneratedAt        time.Time
	Rows               []compliance.MatrixRow
}

type matrixSummary struct {
	Total       int
	Mandatory   int
	Recommended int
	Optional    int
	Risks       int
}

func (d MatrixDocument) summary() matrixSummary {
	s := matrixSummary{Total: len(d.Rows)}
	for _, r := range d.Rows {
		switch r.ComplianceType {
		case compliance.ComplianceTypeMandatory:
			s.Mandatory++
		case compliance.ComplianceTypeRecommended:
			s.Recommended++
		case compliance.ComplianceTypeOptional:
			s.Optional++
		}
		if r.Risk {
			s.Risks++
		}
	}
	return s
}

var titleCaser = cases.Title(language.English)

var funcs = template.FuncMap{
	// label turns a snake_case enum value into "Title Case"
	"label": func(v any) string {
		s := strings.ReplaceAll(fmt.Sprint(v), "_", " ")
		if s == "" {
			return ""
		}
		return titleCaser.String(s)
	},
	"yesno": func(b bool) string {
		if b {
			return "Yes"
		}
		return "No"
	},
	"date": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format(time.DateOnly)
	},
	"section": func(label string) string {
		if label == "" {
			return "-"
		}
		return label
	},
	"location": func(page, paragraph int) string {
		if page <= 0 {
			return ""
		}
		return fmt.Sprintf("p.%d ¶%d", page, paragraph)
	},
	"join": func(s []string) string { return strings.Join(s, ", ") },
}

var matrixTemplate = template.Must(template.New("matrix").Funcs(funcs).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>Compliance Matrix {{.Doc.SolicitationNumber}}</title>
<style>
body { font-family: Helvetica, Arial, sans-serif; font-size: 9px; color: #1a1a1a; }
h1 { font-size: 15px; margin: 0 0 2px 0; }
.meta { color: #555; margin-bottom: 8px; }
.summary span { margin-right: 14px; }
table { width: 100%; border-collapse: collapse; margin-top: 8px; }
thead { display: table-header-group; }
tr { page-break-inside: avoid; }
th { background: #e8ecf2; text-align: left; font-weight: bold; }
th, td { border: 1px solid #b9c0cb; padding: 3px 4px; vertical-align: top; }
td.text { width: 34%; }
tr.mandatory td.type { font-weight: bold; }
tr.risk td.risk { color: #b00020; font-weight: bold; }
</style>
</head>
<body>
<h1>{{.Doc.SolicitationNumber}}{{if .Doc.Title}} - {{.Doc.Title}}{{end}}</h1>
<div class="meta">Compliance matrix generated {{.Doc.GeneratedAt.Format "2006-01-02 15:04 MST"}}</div>
<div class="summary">
<span>Requirements: {{.Summary.Total}}</span>
<span>Mandatory: {{.Summary.Mandatory}}</span>
<span>Recommended: {{.Summary.Recommended}}</span>
<span>Optional: {{.Summary.Optional}}</span>
<span>Risks: {{.Summary.Risks}}</span>
</div>
<table>
<thead>
<tr>
<th>Section</th><th>Location</th><th>Requirement</th><th>Type</th><th>Category</th><th>Priority</th><th>Risk</th>
<th>Status</th><th>Proposal</th><th>Assignee</th><th>Due</th><th>Keywords</th>
</tr>
</thead>
<tbody>
{{- range .Doc.Rows}}
<tr class="{{.ComplianceType}}{{if .Risk}} risk{{end}}">
<td>{{section .Section}}</td>
<td>{{location .Page .Paragraph}}</td>
<td class="text">{{.Text}}{{if .Notes}}<br><em>{{.Notes}}</em>{{end}}</td>
<td class="type">{{label .ComplianceType}}</td>
<td>{{label .Category}}</td>
<td>{{label .Priority}}</td>
<td class="risk">{{yesno .Risk}}</td>
<td>{{label .ComplianceStatus}}</td>
<td>{{.ProposalSection}}{{if .ProposalPage}} p.{{.ProposalPage}}{{end}}</td>
<td>{{if .AssigneeName}}{{.AssigneeName}}{{else}}{{.AssignedTo}}{{end}}{{if .AssigneeType}} ({{label .AssigneeType}}){{end}}</td>
<td>{{date .DueDate}}</td>
<td>{{join .Keywords}}</td>
</tr>
{{- else}}
<tr><td colspan="12">No requirements were extracted.</td></tr>
{{- end}}
</tbody>
</table>
</body>
</html>
`))

// RenderMatrixHTML writes doc as a standalone landscape HTML page. All
// requirement text is escaped.
func RenderMatrixHTML(w io.Writer, doc MatrixDocument) error {
	if doc.GeneratedAt.IsZero() {
		doc.GeneratedAt = time.Now().UTC()
	}
	return matrixTemplate.Execute(w, struct {
		Doc     MatrixDocument
		Summary matrixSummary
	}{doc, doc.summary()})
}
