package compliance

import "errors"

// Error codes for the compliance domain
const (
	CodeInvalidOpportunity    = "INVALID_OPPORTUNITY"
	CodeInvalidRequirement    = "INVALID_REQUIREMENT"
	CodeInvalidComplianceType = "INVALID_COMPLIANCE_TYPE"
	CodeInvalidTrackingField  = "INVALID_TRACKING_FIELD"
	CodeRequirementMismatch   = "REQUIREMENT_MISMATCH"
)

// ErrClassifierUnavailable marks a classification failure as transient.
// Classifier implementations wrap it so the orchestrator retries.
var ErrClassifierUnavailable = errors.New("classifier unavailable")

// ErrMalformedClassification marks a classifier reply that arrived but could
// not be used. A batch failing this way is retried one candidate at a time.
var ErrMalformedClassification = errors.New("malformed classification reply")

// ErrRunLockLost is returned by RunLock.Refresh once the lock has expired or
// been taken over by another run.
var ErrRunLockLost = errors.New("run lock lost")

