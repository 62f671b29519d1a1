package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/govcon/shredder/internal/application/compliance"
	"github.com/govcon/shredder/internal/interfaces/http/dto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validationRouter() *gin.Engine {
	SetupValidator()
	r := gin.New()
	r.Use(RequestID())
	r.PATCH("/tracking", func(c *gin.Context) {
		var req compliance.UpdateTrackingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	r.GET("/requirements", func(c *gin.Context) {
		var q compliance.RequirementQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})
	return r
}

func patchTracking(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPatch, "/tracking", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "val-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSetupValidator_TrackingTags(t *testing.T) {
	r := validationRouter()

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"valid", `{"compliance_status":"partially_compliant","assignee_type":"subcontractor","due_date":"2026-04-01"}`, ""},
		{"empty assignee type clears", `{"assignee_type":""}`, ""},
		{"unknown status", `{"compliance_status":"done"}`, "compliance_status"},
		{"unknown assignee type", `{"assignee_type":"robot"}`, "assignee_type"},
		{"bad date", `{"due_date":"04/01/2026"}`, "due_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := patchTracking(r, tt.body)
			if tt.field == "" {
				assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
				return
			}
			require.Equal(t, http.StatusBadRequest, w.Code)

			var resp dto.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
			assert.Equal(t, "val-1", resp.Error.RequestID)
			require.Len(t, resp.Error.Details, 1)
			assert.Equal(t, tt.field, resp.Error.Details[0].Field)
		})
	}
}

func TestSetupValidator_QueryUsesFormNames(t *testing.T) {
	r := validationRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requirements?compliance_status=nope", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"compliance_status"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/requirements?compliance_status=compliant&section=C", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleValidationError_NonValidatorError(t *testing.T) {
	w := patchTracking(validationRouter(), `{"notes":`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Empty(t, resp.Error.Details)
}

func TestRequestIDFrom(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, RequestIDFrom(c))

	c.Request.Header.Set("X-Request-ID", "header-id")
	assert.Equal(t, "header-id", RequestIDFrom(c))

	c.Set(RequestIDKey, "ctx-id")
	assert.Equal(t, "ctx-id", RequestIDFrom(c))
}
