/**
 * @description
 * This file defines the `Repository` interface, the contract for every data access
 * operation the donation service needs. Business logic depends only on this interface,
 * so the PostgreSQL implementation and the in-memory implementation are interchangeable.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pankajsagvekar/meal-mitra/internal/domain"
)

var (
	ErrDonationNotFound  = errors.New("donation not found")
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrStatusConflict is returned when a compare-and-swap write finds the row
	// in a different status or version than the caller observed.
	ErrStatusConflict = errors.New("donation status changed concurrently")
)

// DonationFilter narrows donation listings. Zero values mean "no constraint".
type DonationFilter struct {
	Status         domain.DonationStatus
	DonorID        uuid.UUID
	ExcludeNGOOnly bool
	Limit          int
}

// TransitionFunc inspects a row locked for update and mutates it in place.
// Returning write=true persists the mutation even when err is non-nil, which lets
// a caller commit a state change and still report a distinct outcome.
type TransitionFunc func(d *domain.Donation) (write bool, err error)

// BadgeSelector receives the donor's granted achievement names and returns the
// names that should be granted now.
type BadgeSelector func(granted map[string]bool) []string

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Principal lookups (read-only; onboarding owns these tables)
	FindUserPrincipal(ctx context.Context, userID uuid.UUID) (*domain.Principal, error)
	FindNGOPrincipal(ctx context.Context, ngoID uuid.UUID) (*domain.Principal, error)

	// Donation methods
	CreateDonation(ctx context.Context, donation *domain.Donation) error
	FindDonationByID(ctx context.Context, donationID uuid.UUID) (*domain.Donation, error)
	ListDonations(ctx context.Context, filter DonationFilter) ([]domain.Donation, error)
	ClaimDonation(ctx context.Context, donationID uuid.UUID, expectedVersion int64, claimantID uuid.UUID, claimantIsOrganization bool, codeHash string, issuedAt time.Time) (*domain.Donation, error)
	UpdateDonationContent(ctx context.Context, donation *domain.Donation, expectedVersion int64) (*domain.Donation, error)
	TransitionDonation(ctx context.Context, donationID uuid.UUID, fn TransitionFunc) (*domain.Donation, error)
	ExpireStaleDonations(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	DeleteDonation(ctx context.Context, donationID uuid.UUID) error
	ListDonorsActiveSince(ctx context.Context, since time.Time) ([]uuid.UUID, error)

	// Badge methods
	ListUserBadges(ctx context.Context, donorID uuid.UUID) ([]domain.UserBadge, error)
	GrantBadges(ctx context.Context, donorID uuid.UUID, selectFn BadgeSelector, unlockedAt time.Time) ([]domain.UserBadge, error)
}
