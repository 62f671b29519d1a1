package handler

import (
	"strings"

	"github.com/google/uuid"
	shredapp "github.com/govcon/shredder/internal/application/shredding"
)

// ShredRequest is the body of POST /opportunities/shred. Either
// opportunity_id or solicitation_number identifies the opportunity; the
// solicitation number also derives the id when opportunity_id is absent.
// @Description Solicitation text to shred into requirements
type ShredRequest struct {
	OpportunityID      string `json:"opportunity_id" binding:"omitempty,uuid" example:"0190b5a4-7c1e-7a8b-9c4d-2e1f3a5b6c7d"`
	SolicitationNumber string `json:"solicitation_number" binding:"omitempty,max=100" example:"W912DQ-24-R-0001"`
	Title              string `json:"title" binding:"max=500" example:"Help desk support"`
	Text               string `json:"text" example:"SECTION C\nThe contractor shall provide support."`
}

func (r ShredRequest) toApp() shredapp.ShredRequest {
	out := shredapp.ShredRequest{
		SolicitationNumber: strings.TrimSpace(r.SolicitationNumber),
		Title:              strings.TrimSpace(r.Title),
		Text:               r.Text,
	}
	if r.OpportunityID != "" {
		out.OpportunityID = uuid.MustParse(r.OpportunityID)
	}
	return out
}
