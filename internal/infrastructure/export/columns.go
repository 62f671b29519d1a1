// Package export renders compliance matrices to CSV and parses edited
// matrices back for tracking import.
package export

// Matrix CSV column headers, in output order
const (
	ColReqID            = "Req ID"
	ColSection          = "Section"
	ColPage             = "Page"
	ColParagraph        = "Paragraph"
	ColText             = "Requirement Text"
	ColComplianceType   = "Compliance Type"
	ColCategory         = "Category"
	ColPriority         = "Priority"
	ColRisk             = "Risk"
	ColComplianceStatus = "Compliance Status"
	ColProposalSection  = "Proposal Section"
	ColProposalPage     = "Proposal Page"
	ColAssignedTo       = "Assigned To"
	ColAssigneeType     = "Assignee Type"
	ColAssigneeName     = "Assignee Name"
	ColKeywords         = "Keywords"
	ColNotes            = "Notes"
	ColDueDate          = "Due Date"
)

// MatrixColumns is the fixed header of an exported matrix
var MatrixColumns = []string{
	ColReqID, ColSection, ColPage, ColParagraph, ColText,
	ColComplianceType, ColCategory, ColPriority, ColRisk,
	ColComplianceStatus, ColProposalSection, ColProposalPage,
	ColAssignedTo, ColAssigneeType, ColAssigneeName,
	ColKeywords, ColNotes, ColDueDate,
}

// requiredColumns must be present for a matrix to be parsed back
var requiredColumns = []string{ColReqID}

const dueDateLayout = "2006-01-02"
