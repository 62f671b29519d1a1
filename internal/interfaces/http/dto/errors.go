package dto

import "net/http"

// API error codes are ERR_<CATEGORY>[_<DETAIL>]. Domain errors carry the
// short form (NOT_FOUND) and are normalized on the way out.
const (
	ErrCodeUnknown     = "ERR_UNKNOWN"
	ErrCodeInternal    = "ERR_INTERNAL"
	ErrCodeUnavailable = "ERR_UNAVAILABLE"

	ErrCodeValidation         = "ERR_VALIDATION"
	ErrCodeValidationRequired = "ERR_VALIDATION_REQUIRED"
	ErrCodeValidationFormat   = "ERR_VALIDATION_FORMAT"
	ErrCodeValidationRange    = "ERR_VALIDATION_RANGE"
	ErrCodeValidationLength   = "ERR_VALIDATION_LENGTH"

	ErrCodeNotFound      = "ERR_NOT_FOUND"
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"
	// ErrCodeConflict covers a delete or re-run racing an active run
	ErrCodeConflict = "ERR_CONFLICT"

	ErrCodeInvalidState          = "ERR_INVALID_STATE"
	ErrCodeInvalidOpportunity    = "ERR_INVALID_OPPORTUNITY"
	ErrCodeInvalidRequirement    = "ERR_INVALID_REQUIREMENT"
	ErrCodeInvalidComplianceType = "ERR_INVALID_COMPLIANCE_TYPE"
	ErrCodeInvalidTrackingField  = "ERR_INVALID_TRACKING_FIELD"
	// ErrCodeRequirementMismatch is a requirement id that belongs to another opportunity
	ErrCodeRequirementMismatch = "ERR_REQUIREMENT_MISMATCH"

	ErrCodeBadRequest      = "ERR_BAD_REQUEST"
	ErrCodeInvalidInput    = "ERR_INVALID_INPUT"
	ErrCodeInvalidJSON     = "ERR_INVALID_JSON"
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
	ErrCodeRateLimited     = "ERR_RATE_LIMITED"
)

// ErrorCodeHTTPStatus is the response status of every API error code
var ErrorCodeHTTPStatus = map[string]int{}

func init() {
	for status, codes := range map[int][]string{
		http.StatusBadRequest: {
			ErrCodeValidation, ErrCodeValidationRequired, ErrCodeValidationFormat,
			ErrCodeValidationRange, ErrCodeValidationLength,
			ErrCodeBadRequest, ErrCodeInvalidInput, ErrCodeInvalidJSON,
		},
		http.StatusNotFound: {ErrCodeNotFound},
		http.StatusConflict: {ErrCodeAlreadyExists, ErrCodeConflict, ErrCodeRequirementMismatch},
		http.StatusUnprocessableEntity: {
			ErrCodeInvalidState, ErrCodeInvalidOpportunity, ErrCodeInvalidRequirement,
			ErrCodeInvalidComplianceType, ErrCodeInvalidTrackingField,
		},
		http.StatusRequestEntityTooLarge: {ErrCodeRequestTooLarge},
		http.StatusTooManyRequests:       {ErrCodeRateLimited},
		http.StatusInternalServerError:   {ErrCodeUnknown, ErrCodeInternal},
		http.StatusServiceUnavailable:    {ErrCodeUnavailable},
	} {
		for _, code := range codes {
			ErrorCodeHTTPStatus[code] = status
		}
	}
}

// GetHTTPStatus falls back to 500 for codes it does not know
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping translates domain error codes into API codes
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":               ErrCodeNotFound,
	"ALREADY_EXISTS":          ErrCodeAlreadyExists,
	"INVALID_INPUT":           ErrCodeInvalidInput,
	"INVALID_STATE":           ErrCodeInvalidState,
	"CONFLICT":                ErrCodeConflict,
	"VALIDATION_ERROR":        ErrCodeValidation,
	"BAD_REQUEST":             ErrCodeBadRequest,
	"INTERNAL_ERROR":          ErrCodeInternal,
	"INVALID_OPPORTUNITY":     ErrCodeInvalidOpportunity,
	"INVALID_REQUIREMENT":     ErrCodeInvalidRequirement,
	"INVALID_COMPLIANCE_TYPE": ErrCodeInvalidComplianceType,
	"INVALID_TRACKING_FIELD":  ErrCodeInvalidTrackingField,
	"REQUIREMENT_MISMATCH":    ErrCodeRequirementMismatch,
}

// NormalizeErrorCode maps a domain code to its API code. API codes and
// unknown codes pass through.
func NormalizeErrorCode(code string) string {
	if apiCode, ok := DomainErrorCodeMapping[code]; ok {
		return apiCode
	}
	return code
}
