package router

import (
	"github.com/gin-gonic/gin"
	"github.com/govcon/shredder/internal/interfaces/http/handler"
)

// OpportunityRoutes groups the shredding and compliance matrix endpoints.
// shred middleware runs only in front of POST /opportunities/shred, which is
// the one endpoint that starts classifier work.
func OpportunityRoutes(h *handler.OpportunityHandler, shred ...gin.HandlerFunc) *DomainGroup {
	g := NewDomainGroup("opportunities", "/opportunities")
	g.POST("/shred", append(shred[:len(shred):len(shred)], h.Shred)...).
		GET("", h.List).
		GET("/:id", h.Get).
		DELETE("/:id", h.Delete).
		GET("/:id/run", h.LatestRun).
		GET("/:id/matrix.csv", h.ExportMatrix).
		GET("/:id/matrix.pdf", h.ExportMatrixPDF).
		POST("/:id/matrix/import", h.ImportTracking)

	g.Group("requirements", "/:id/requirements").
		GET("", h.Requirements).
		PATCH("/:rid/tracking", h.UpdateTracking)
	return g
}

// SystemRoutes groups the informational system endpoints
func SystemRoutes(h *handler.SystemHandler) *DomainGroup {
	return NewDomainGroup("system", "/system").
		GET("/info", h.GetSystemInfo).
		GET("/ping", h.Ping)
}
