package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	complianceapp "github.com/govcon/shredder/internal/application/compliance"
	shredapp "github.com/govcon/shredder/internal/application/shredding"
	"github.com/govcon/shredder/internal/interfaces/http/dto"
	"github.com/govcon/shredder/internal/interfaces/http/middleware"
)

// maxImportFileSize caps uploaded compliance matrices
const maxImportFileSize = 10 << 20

// OpportunityHandler serves shredding runs and compliance matrices
type OpportunityHandler struct {
	BaseHandler
	pipeline *shredapp.Pipeline
	matrix   *complianceapp.MatrixService
}

// NewOpportunityHandler creates a new OpportunityHandler
func NewOpportunityHandler(pipeline *shredapp.Pipeline, matrix *complianceapp.MatrixService) *OpportunityHandler {
	return &OpportunityHandler{
		pipeline: pipeline,
		matrix:   matrix,
	}
}

// Shred godoc
// @ID           shredOpportunity
// @Summary      Shred a solicitation
// @Description  Starts a shredding run. With wait=true the run completes before the response and its report is returned.
// @Tags         opportunities
// @Accept       json
// @Produce      json
// @Param        wait query bool false "Run synchronously"
// @Param        request body ShredRequest true "Solicitation"
// @Success      202 {object} dto.Response{data=shredapp.Run}
// @Success      200 {object} dto.Response{data=shredapp.RunReport}
// @Failure      400 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Failure      413 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Failure      429 {object} dto.Response
// @Failure      503 {object} dto.Response
// @Router       /opportunities/shred [post]
func (h *OpportunityHandler) Shred(c *gin.Context) {
	var req ShredRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	wait, _ := strconv.ParseBool(c.Query("wait"))
	if wait {
		report, err := h.pipeline.Run(c.Request.Context(), req.toApp())
		if err != nil {
			h.HandleError(c, err)
			return
		}
		h.Success(c, report)
		return
	}

	run, err := h.pipeline.Start(c.Request.Context(), req.toApp())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.Header("Location", "/api/v1/opportunities/"+run.OpportunityID.String()+"/run")
	h.Accepted(c, run)
}

// List godoc
// @ID           listOpportunities
// @Summary      List opportunities
// @Tags         opportunities
// @Produce      json
// @Param        search query string false "Solicitation number or title"
// @Param        status query string false "Analysis status" Enums(pending, analyzing, completed)
// @Param        degraded query bool false "Only runs with fallback classifications"
// @Param        page query int false "Page number" default(1)
// @Param        page_size query int false "Page size" default(20) maximum(100)
// @Param        order_by query string false "Order by field" default(updated_at)
// @Param        order_dir query string false "Order direction" Enums(asc, desc) default(desc)
// @Success      200 {object} dto.Response{data=[]complianceapp.OpportunityResponse}
// @Failure      400 {object} dto.Response
// @Failure      500 {object} dto.Response
// @Router       /opportunities [get]
func (h *OpportunityHandler) List(c *gin.Context) {
	var filter complianceapp.OpportunityListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	page, err := h.matrix.List(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, page.Items, page.Total, page.Page, page.PageSize)
}

// Get godoc
// @ID           getOpportunity
// @Summary      Get an opportunity
// @Tags         opportunities
// @Produce      json
// @Param        id path string true "Opportunity ID" format(uuid)
// @Success      200 {object} dto.Response{data=complianceapp.OpportunityResponse}
// @Failure      400 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Router       /opportunities/{id} [get]
func (h *OpportunityHandler) Get(c *gin.Context) {
	id, ok := h.pathUUID(c, "id", "opportunity")
	if !ok {
		return
	}

	opp, err := h.matrix.Get(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, opp)
}

// LatestRun godoc
// @ID           getOpportunityRun
// @Summary      Get the latest run of an opportunity
// @Description  Runs are tracked in memory; after a restart only the stored analysis status remains.
// @Tags         opportunities
// @Produce      json
// @Param        id path string true "Opportunity ID" format(uuid)
// @Success      200 {object} dto.Response{data=shredapp.Run}
// @Failure      404 {object} dto.Response
// @Router       /opportunities/{id}/run [get]
func (h *OpportunityHandler) LatestRun(c *gin.Context) {
	id, ok := h.pathUUID(c, "id", "opportunity")
	if !ok {
		return
	}

	run, err := h.matrix.LatestRun(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, run)
}

// Requirements godoc
// @ID           listOpportunityRequirements
// @Summary      List the compliance matrix rows of an opportunity
// @Tags         requirements
// @Produce      json
// @Param        id path string true "Opportunity ID" format(uuid)
// @Param        section query string false "Section label"
// @Param        compliance_type query string false "Compliance type" Enums(mandatory, recommended, informational, unclassified)
// @Param        compliance_status query string false "Compliance status"
// @Param        risk query bool false "Only rows with risk flags"
// @Success      200 {object} dto.Response{data=[]compliance.MatrixRow}
// @Failure      400 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Router       /opportunities/{id}/requirements [get]
func (h *OpportunityHandler) Requirements(c *gin.Context) {
	id, ok := h.pathUUID(c, "id", "opportunity")
	if !ok {
		return
	}

	var query complianceapp.RequirementQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	rows, err := h.matrix.Requirements(c.Request.Context(), id, query)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, rows)
}

// UpdateTracking godoc
// @ID           updateRequirementTracking
// @Summary      Update the tracking fields of a requirement
// @Description  Only fields present in the body change. Classification is never editable.
// @Tags         requirements
// @Accept       json
// @Produce      json
// @Param        id path string true "Opportunity ID" format(uuid)
// @Param        rid path string true "Requirement ID" format(uuid)
// @Param        request body complianceapp.UpdateTrackingRequest true "Tracking changes"
// @Success      200 {object} dto.Response{data=compliance.MatrixRow}
// @Failure      400 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      422 {object} dto.Response
// @Router       /opportunities/{id}/requirements/{rid}/tracking [patch]
func (h *OpportunityHandler) UpdateTracking(c *gin.Context) {
	id, ok := h.pathUUID(c, "id", "opportunity")
	if !ok {
		return
	}
	rid, ok := h.pathUUID(c, "rid", "requirement")
	if !ok {
		return
	}

	var req complianceapp.UpdateTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	row, err := h.matrix.UpdateTracking(c.Request.Context(), id, rid, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, row)
}

// ExportMatrix godoc
// @ID           exportComplianceMatrix
// @Summary      Download the compliance matrix as CSV
// @Description  With archive=true the response is JSON describing the archived copy and a presigned download URL instead of the file.
// @Tags         requirements
// @Produce      text/csv
// @Produce      json
// @Param        id path string true "Opportunity ID" format(uuid)
// @Param        bom query bool false "Prefix a UTF-8 byte order mark for spreadsheet tools"
// @Param        archive query bool false "Return the archive location instead of the file"
// @Success      200 {file} file
// @Failure      404 {object} dto.Response
// @Router       /opportunities/{id}/matrix.csv [get]
func (h *OpportunityHandler) ExportMatrix(c *gin.Context) {
	id, ok := h.pathUUID(c, "id", "opportunity")
	if !ok {
		return
	}
	withBOM, _ := strconv.ParseBool(c.Query("bom"))
	asLink, _ := strconv.ParseBool(c.Query("archive"))

	result, err := h.matrix.ExportCSV(c.Request.Context(), id, withBOM)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if asLink {
		h.Success(c, result)
		return
	}
	if result.ArchiveKey != "" {
		c.Header("X-Archive-Key", result.ArchiveKey)
	}
	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", result.Data)
}

// ExportMatrixPDF godoc
// @ID           exportComplianceMatrixPDF
// @Summary      Download the compliance matrix as a printable PDF
// @Description  Landscape pages with the classification and tracking columns. Returns 503 when PDF printing is not configured.
// @Tags         requirements
// @Produce      application/pdf
// @Param        id path string true "Opportunity ID" format(uuid)
// @Success      200 {file} file
// @Failure      404 {object} dto.Response
// @Failure      503 {object} dto.Response
// @Router       /opportunities/{id}/matrix.pdf [get]
func (h *OpportunityHandler) ExportMatrixPDF(c *gin.Context) {
	id, ok := h.pathUUID(c, "id", "opportunity")
	if !ok {
		return
	}

	result, err := h.matrix.ExportPDF(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Data(http.StatusOK, "application/pdf", result.Data)
}

// ImportTracking godoc
// @ID           importComplianceMatrix
// @Summary      Import tracking columns from an edited matrix
// @Description  Rows are matched by Req ID. Classification columns are ignored; rows for unknown requirements are reported.
// @Tags         requirements
// @Accept       multipart/form-data
// @Produce      json
// @Param        id path string true "Opportunity ID" format(uuid)
// @Param        file formData file true "Compliance matrix CSV"
// @Success      200 {object} dto.Response{data=complianceapp.ImportResult}
// @Failure      400 {object} dto.Response
// @Failure      404 {object} dto.Response
// @Failure      413 {object} dto.Response
// @Router       /opportunities/{id}/matrix/import [post]
func (h *OpportunityHandler) ImportTracking(c *gin.Context) {
	id, ok := h.pathUUID(c, "id", "opportunity")
	if !ok {
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		h.BadRequest(c, "file is required")
		return
	}
	defer file.Close()

	if header.Size > maxImportFileSize {
		h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge, "file exceeds maximum size of 10MB")
		return
	}

	result, err := h.matrix.ImportTracking(c.Request.Context(), id, file)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Delete godoc
// @ID           deleteOpportunity
// @Summary      Delete an opportunity with its sections, requirements and archived matrices
// @Tags         opportunities
// @Param        id path string true "Opportunity ID" format(uuid)
// @Success      204
// @Failure      404 {object} dto.Response
// @Failure      409 {object} dto.Response
// @Router       /opportunities/{id} [delete]
func (h *OpportunityHandler) Delete(c *gin.Context) {
	id, ok := h.pathUUID(c, "id", "opportunity")
	if !ok {
		return
	}

	if err := h.matrix.Delete(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}
