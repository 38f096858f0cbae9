package domain

import (
	"github.com/google/uuid"
)

// PrincipalKind distinguishes donor-type users from relief organizations.
type PrincipalKind string

const (
	PrincipalUser PrincipalKind = "user"
	PrincipalNGO  PrincipalKind = "ngo"
)

// VerificationStatus mirrors the onboarding status column on users and ngos.
type VerificationStatus string

const (
	VerificationApplied  VerificationStatus = "Applied"
	VerificationApproved VerificationStatus = "Approved"
	VerificationRejected VerificationStatus = "Rejected"
)

// Principal is the authenticated caller as resolved from the users or ngos table.
type Principal struct {
	ID           uuid.UUID          `json:"id"`
	Kind         PrincipalKind      `json:"kind"`
	Email        string             `json:"email"`
	DisplayName  string             `json:"display_name"`
	Role         string             `json:"role,omitempty"`
	IsAdmin      bool               `json:"is_admin"`
	Verification VerificationStatus `json:"verification_status"`
}

// Approved reports whether the principal has cleared onboarding review.
func (p *Principal) Approved() bool {
	return p != nil && p.Verification == VerificationApproved
}

// IsOrganization reports whether the principal claims on behalf of an NGO.
func (p *Principal) IsOrganization() bool {
	return p != nil && p.Kind == PrincipalNGO
}
