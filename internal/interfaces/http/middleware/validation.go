package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/govcon/shredder/internal/interfaces/http/dto"
)

// RequestIDKey is the gin context key RequestID stores the request id under
const RequestIDKey = "request_id"

// vocabularies maps custom validation tags to the closed value set they accept.
var vocabularies = map[string]struct {
	valid  func(string) bool
	values string
}{
	"compliance_status": {
		valid:  func(s string) bool { return compliance.ComplianceStatus(s).IsValid() },
		values: "not_started in_progress compliant partially_compliant non_compliant not_applicable",
	},
	"assignee_type": {
		valid:  func(s string) bool { return compliance.AssigneeType(s).IsValid() },
		values: "individual team partner subcontractor",
	},
}

// SetupValidator registers the tracking vocabularies with gin's validator and
// reports field names by their json or form tag.
func SetupValidator() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(fieldName)
	for tag, vocab := range vocabularies {
		valid := vocab.valid
		_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return valid(fl.Field().String())
		})
	}
}

func fieldName(fld reflect.StructField) string {
	for _, key := range []string{"json", "form"} {
		name, _, _ := strings.Cut(fld.Tag.Get(key), ",")
		switch name {
		case "-":
			return ""
		case "":
			continue
		}
		return name
	}
	return ""
}

// HandleValidationError writes a 400 envelope listing each failed field.
// Errors that are not field validations (malformed JSON) get no details.
func HandleValidationError(c *gin.Context, err error) {
	var details []dto.ValidationDetail
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		details = make([]dto.ValidationDetail, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			details = append(details, dto.ValidationDetail{Field: fe.Field(), Message: describe(fe)})
		}
	}
	c.JSON(http.StatusBadRequest, dto.NewValidationErrorResponse("Request validation failed", RequestIDFrom(c), details))
}

// RequestIDFrom prefers the id RequestID stored and falls back to the
// truncated header for routes mounted without it.
func RequestIDFrom(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	id := c.GetHeader("X-Request-ID")
	if len(id) > MaxRequestIDLength {
		return id[:MaxRequestIDLength]
	}
	return id
}

func describe(fe validator.FieldError) string {
	param := fe.Param()
	unit := ""
	if fe.Kind() == reflect.String {
		unit = " characters"
	}
	switch tag := fe.Tag(); tag {
	case "required":
		return "This field is required"
	case "min":
		return "Must be at least " + param + unit
	case "max":
		return "Must be at most " + param + unit
	case "uuid":
		return "Invalid UUID format"
	case "oneof":
		return "Must be one of: " + param
	case "datetime":
		return "Must be a date formatted as " + param
	default:
		if vocab, ok := vocabularies[tag]; ok {
			return "Must be one of: " + vocab.values
		}
		return "Invalid value"
	}
}
