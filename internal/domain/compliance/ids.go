package compliance

import (
	"fmt"

	"github.com/google/uuid"
)

// Identifier namespaces. These are part of the persisted identity of every
// row and must never change once data exists.
var (
	OpportunityNamespace = uuid.MustParse("5f0c6f0e-3b7a-5d2c-9a41-6b1e2f4c8d01")
	RequirementNamespace = uuid.MustParse("a3d9c1b2-7e64-5f08-8c3d-2b9e4f6a1c55")
)

// OpportunityID derives the opportunity identity from a normalized
// solicitation number.
func OpportunityID(normalizedSolicitationNumber string) uuid.UUID {
	return uuid.NewSHA1(OpportunityNamespace, []byte("opportunity:"+normalizedSolicitationNumber))
}

// RequirementID derives a requirement identity from its opportunity, section
// label and 1-based sequence within that label. The same inputs always give
// the same UUIDv5.
func RequirementID(opportunityID uuid.UUID, sectionLabel string, sequence int) uuid.UUID {
	name := fmt.Sprintf("%s|%s|%d", opportunityID.String(), sectionLabel, sequence)
	return uuid.NewSHA1(RequirementNamespace, []byte(name))
}
