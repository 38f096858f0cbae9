/**
 * @description
 * This file defines the core domain models for the donation service.
 * These structs represent the listings that move through the donation lifecycle
 * and the request/response DTOs used by the API layer.
 *
 * @notes
 * - Claim fields (claimant, handover code hash, issuance time) are only populated
 *   while a listing is Claimed or Completed.
 * - Version is bumped on every status or content write and is used as the
 *   optimistic concurrency token for compare-and-swap updates.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// DonationStatus is the lifecycle state of a listing.
type DonationStatus string

const (
	StatusAvailable DonationStatus = "Available"
	StatusClaimed   DonationStatus = "Claimed"
	StatusCompleted DonationStatus = "Completed"
	StatusExpired   DonationStatus = "Expired"
)

// Terminal reports whether no further transitions are possible from s.
func (s DonationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

// Placeholder is written into any attribute the extractor could not determine.
const Placeholder = "unknown"

// Donation represents a single surplus-food listing.
// This struct maps directly to the `donations` table in the database.
type Donation struct {
	ID            uuid.UUID      `json:"id"`
	DonorID       uuid.UUID      `json:"user_id"`
	RawText       string         `json:"raw_text"`
	Food          string         `json:"food"`
	Quantity      string         `json:"quantity"`
	Location      string         `json:"location"`
	Price         float64        `json:"price"`
	IsNGOOnly     bool           `json:"is_ngo_only"`
	Lat           *string        `json:"lat,omitempty"`
	Lng           *string        `json:"lng,omitempty"`
	CookedAt      *time.Time     `json:"cooked_at,omitempty"`
	SafeUntil     *time.Time     `json:"safe_until,omitempty"`
	Status        DonationStatus `json:"status"`
	ClaimedByUser *uuid.UUID     `json:"claimed_by_user,omitempty"`
	ClaimedByNGO  *uuid.UUID     `json:"claimed_by_ngo,omitempty"`
	CodeHash      string         `json:"-"`
	CodeIssuedAt  *time.Time     `json:"code_issued_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	Version       int64          `json:"-"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// HasClaim reports whether any claim data is attached.
func (d *Donation) HasClaim() bool {
	return d.ClaimedByUser != nil || d.ClaimedByNGO != nil || d.CodeHash != "" || d.CodeIssuedAt != nil
}

// ClearClaim drops the claimant, code and issuance time.
func (d *Donation) ClearClaim() {
	d.ClaimedByUser = nil
	d.ClaimedByNGO = nil
	d.CodeHash = ""
	d.CodeIssuedAt = nil
}

// Claimant returns the id of whoever holds the listing and whether it is an organization.
func (d *Donation) Claimant() (uuid.UUID, bool, bool) {
	switch {
	case d.ClaimedByNGO != nil:
		return *d.ClaimedByNGO, true, true
	case d.ClaimedByUser != nil:
		return *d.ClaimedByUser, false, true
	default:
		return uuid.Nil, false, false
	}
}

// EffectivePrice is the display price for a given claimant. NGO-restricted
// listings are free for organizations.
func (d *Donation) EffectivePrice(claimantIsOrganization bool) float64 {
	if d.IsNGOOnly && claimantIsOrganization {
		return 0
	}
	return d.Price
}

// Expired reports whether an Available listing has passed its deadline.
func (d *Donation) Expired(now time.Time) bool {
	return d.Status == StatusAvailable && d.SafeUntil != nil && d.SafeUntil.Before(now)
}

// Attributes is the structured output of attribute extraction.
type Attributes struct {
	Food      string     `json:"food"`
	Quantity  string     `json:"quantity"`
	Location  string     `json:"location"`
	Price     float64    `json:"price"`
	IsNGOOnly bool       `json:"is_ngo_only"`
	SafeUntil *time.Time `json:"safe_until"`
	CookedAt  *time.Time `json:"cooked_at"`
}

// CreateDonationRequest is the DTO for new listings.
type CreateDonationRequest struct {
	Text      string     `json:"text"`
	CookedAt  *time.Time `json:"cooked_at,omitempty"`
	Price     *float64   `json:"price,omitempty"`
	IsNGOOnly *bool      `json:"is_ngo_only,omitempty"`
	Lat       *string    `json:"lat,omitempty"`
	Lng       *string    `json:"lng,omitempty"`
}

// UpdateDonationRequest is the DTO for owner edits. Nil fields are left untouched.
type UpdateDonationRequest struct {
	Text      *string    `json:"text,omitempty"`
	CookedAt  *time.Time `json:"cooked_at,omitempty"`
	Food      *string    `json:"food,omitempty"`
	Quantity  *string    `json:"quantity,omitempty"`
	Location  *string    `json:"location,omitempty"`
	Price     *float64   `json:"price,omitempty"`
	IsNGOOnly *bool      `json:"is_ngo_only,omitempty"`
	Lat       *string    `json:"lat,omitempty"`
	Lng       *string    `json:"lng,omitempty"`
}

// VerifyHandoverRequest carries the code presented at handover.
type VerifyHandoverRequest struct {
	Code string `json:"code"`
}

// ClaimResult is returned to the claimant after a successful claim.
// Code is the only time the plaintext handover code leaves the service.
type ClaimResult struct {
	Donation  *Donation `json:"donation"`
	Code      string    `json:"handover_code"`
	CodeQRPNG []byte    `json:"handover_qr_png,omitempty"`
	Price     float64   `json:"price"`
	ExpiresAt time.Time `json:"code_expires_at"`
}

// CreateDonationResponse mirrors what the web client reads after donating.
type CreateDonationResponse struct {
	DonationID uuid.UUID   `json:"donation_id"`
	Donation   *Donation   `json:"donation"`
	Cleaned    Attributes  `json:"cleaned"`
	Badges     []UserBadge `json:"new_badges,omitempty"`
}
