package compliance

import (
	"errors"
	"fmt"

	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/govcon/shredder/internal/domain/shared"
)

// ErrPDFExportDisabled is returned by ExportPDF without a configured renderer
var ErrPDFExportDisabled = errors.New("pdf export is not enabled")

func invalidComplianceType(v string) error {
	return shared.NewDomainError(compliance.CodeInvalidComplianceType, fmt.Sprintf("Invalid compliance type: %s", v))
}

func invalidTrackingField(field, v string) error {
	return shared.NewDomainError(compliance.CodeInvalidTrackingField, fmt.Sprintf("Invalid %s: %s", field, v))
}
