/**
 * @description
 * This file contains the core business logic for the donation service. The `Service`
 * struct owns the donation lifecycle state machine and coordinates attribute
 * extraction, the impact and badge engines, lazy expiry and notifications.
 *
 * Key features:
 * - Create: always admits a listing as Available, falling back to a local parser
 *   when the extraction service is slow or down.
 * - Claim: compare-and-swap on (status, version) so exactly one claimant wins.
 * - Verify: row-locked handover check that completes the listing, or reverts it to
 *   Available when the code is too old.
 * - Badge evaluation and notifications are best-effort and never undo a transition.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pankajsagvekar/meal-mitra/internal/domain"
	"github.com/pankajsagvekar/meal-mitra/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	MaxDonationTextLength = 2000
	recentActivityLimit   = 5
	rateLimitWindow       = time.Minute
)

// Options are the tunables of the lifecycle engine.
type Options struct {
	Policy               domain.ImpactPolicy
	Catalog              []domain.Achievement
	CodeTTL              time.Duration
	CodeLength           int
	CodeHashCost         int
	ExtractTimeout       time.Duration
	ClaimLimitPerMinute  int
	VerifyLimitPerMinute int
}

// Service provides the core business logic for donations.
type Service struct {
	repo      store.Repository
	extractor Extractor
	notifier  Notifier
	limiter   RateLimiter
	badges    *BadgeEngine
	sweeper   *Sweeper

	policy               domain.ImpactPolicy
	catalog              []domain.Achievement
	codeTTL              time.Duration
	codeLength           int
	codeHashCost         int
	extractTimeout       time.Duration
	claimLimitPerMinute  int
	verifyLimitPerMinute int

	now func() time.Time
}

// NewService creates a new donation service instance.
func NewService(repo store.Repository, extractor Extractor, notifier Notifier, opts Options) *Service {
	s := &Service{
		repo:                 repo,
		extractor:            extractor,
		notifier:             notifier,
		limiter:              NewLocalRateLimiter(),
		policy:               opts.Policy,
		catalog:              opts.Catalog,
		codeTTL:              opts.CodeTTL,
		codeLength:           opts.CodeLength,
		codeHashCost:         opts.CodeHashCost,
		extractTimeout:       opts.ExtractTimeout,
		claimLimitPerMinute:  opts.ClaimLimitPerMinute,
		verifyLimitPerMinute: opts.VerifyLimitPerMinute,
		now:                  time.Now,
	}
	if s.policy == (domain.ImpactPolicy{}) {
		s.policy = domain.DefaultImpactPolicy
	}
	if len(s.catalog) == 0 {
		s.catalog = domain.DefaultCatalog
	}
	if s.codeTTL <= 0 {
		s.codeTTL = time.Hour
	}
	if s.codeLength <= 0 {
		s.codeLength = 6
	}
	if s.codeHashCost < bcrypt.MinCost || s.codeHashCost > bcrypt.MaxCost {
		s.codeHashCost = bcrypt.DefaultCost
	}
	if s.extractTimeout <= 0 {
		s.extractTimeout = 5 * time.Second
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}

	clock := func() time.Time { return s.now() }
	s.badges = NewBadgeEngine(repo, s.catalog, s.notifier)
	s.badges.now = clock
	s.sweeper = NewSweeper(repo, clock, func(ctx context.Context, donorIDs []uuid.UUID) {
		for _, donorID := range donorIDs {
			s.refreshAchievements(ctx, donorID)
		}
	})
	return s
}

// SetRateLimiter swaps the in-process limiter for a shared one.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	if limiter != nil {
		s.limiter = limiter
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(string, domain.NotificationKind, map[string]string) {}

// CurrentDonor resolves a donor-type principal by id.
func (s *Service) CurrentDonor(ctx context.Context, userID uuid.UUID) (*domain.Principal, error) {
	return s.repo.FindUserPrincipal(ctx, userID)
}

// CurrentOrganization resolves an NGO principal by id.
func (s *Service) CurrentOrganization(ctx context.Context, ngoID uuid.UUID) (*domain.Principal, error) {
	return s.repo.FindNGOPrincipal(ctx, ngoID)
}

// ResolvePrincipal dispatches to CurrentDonor or CurrentOrganization by kind.
func (s *Service) ResolvePrincipal(ctx context.Context, kind domain.PrincipalKind, id uuid.UUID) (*domain.Principal, error) {
	switch kind {
	case domain.PrincipalNGO:
		return s.CurrentOrganization(ctx, id)
	case domain.PrincipalUser, "":
		return s.CurrentDonor(ctx, id)
	default:
		return nil, store.ErrPrincipalNotFound
	}
}

func validateDonationText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", validationError("text is required")
	}
	if utf8.RuneCountInString(trimmed) > MaxDonationTextLength {
		return "", validationError("text must be at most %d characters", MaxDonationTextLength)
	}
	return trimmed, nil
}

// CreateDonation admits a new listing as Available.
func (s *Service) CreateDonation(ctx context.Context, donor *domain.Principal, req domain.CreateDonationRequest) (*domain.CreateDonationResponse, error) {
	if donor == nil || donor.Kind != domain.PrincipalUser {
		return nil, fmt.Errorf("%w: only donor accounts can list food", ErrForbidden)
	}
	text, err := validateDonationText(req.Text)
	if err != nil {
		return nil, err
	}
	if req.Price != nil && *req.Price < 0 {
		return nil, validationError("price must not be negative")
	}

	attrs := s.extractAttributes(ctx, text, req.CookedAt)
	if req.Price != nil {
		attrs.Price = *req.Price
	}
	if req.IsNGOOnly != nil {
		attrs.IsNGOOnly = *req.IsNGOOnly
	}
	if attrs.Price < 0 {
		attrs.Price = 0
	}

	now := s.now().UTC()
	donation := &domain.Donation{
		ID:        uuid.New(),
		DonorID:   donor.ID,
		RawText:   text,
		Food:      attrs.Food,
		Quantity:  attrs.Quantity,
		Location:  attrs.Location,
		Price:     attrs.Price,
		IsNGOOnly: attrs.IsNGOOnly,
		Lat:       req.Lat,
		Lng:       req.Lng,
		CookedAt:  attrs.CookedAt,
		SafeUntil: attrs.SafeUntil,
		Status:    domain.StatusAvailable,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateDonation(ctx, donation); err != nil {
		return nil, fmt.Errorf("failed to create donation: %w", err)
	}
	log.Printf("level=info component=lifecycle msg=\"donation created\" donation_id=%s donor_id=%s food=%q quantity=%q", donation.ID, donor.ID, donation.Food, donation.Quantity)

	return &domain.CreateDonationResponse{
		DonationID: donation.ID,
		Donation:   donation,
		Cleaned:    attrs,
		Badges:     s.refreshAchievements(ctx, donor.ID),
	}, nil
}

func canSeeRestricted(viewer *domain.Principal) bool {
	return viewer != nil && (viewer.IsOrganization() || viewer.IsAdmin)
}

// ListAvailable returns claimable listings. NGO-only listings are hidden from
// callers who are not organizations.
func (s *Service) ListAvailable(ctx context.Context, viewer *domain.Principal) ([]domain.Donation, error) {
	s.sweep(ctx)
	donations, err := s.repo.ListDonations(ctx, store.DonationFilter{
		Status:         domain.StatusAvailable,
		ExcludeNGOOnly: !canSeeRestricted(viewer),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list donations: %w", err)
	}
	return donations, nil
}

// GetDonation fetches one listing the viewer is allowed to see.
func (s *Service) GetDonation(ctx context.Context, viewer *domain.Principal, donationID uuid.UUID) (*domain.Donation, error) {
	s.sweep(ctx)
	d, err := s.findDonation(ctx, donationID)
	if err != nil {
		return nil, err
	}
	if d.IsNGOOnly && !canSeeRestricted(viewer) && !isOwner(viewer, d) && !isClaimant(viewer, d) {
		return nil, ErrNotFound
	}
	return d, nil
}

// ListMyDonations returns the donor's own listings, newest first.
func (s *Service) ListMyDonations(ctx context.Context, donor *domain.Principal) ([]domain.Donation, error) {
	if donor == nil {
		return nil, ErrForbidden
	}
	s.sweep(ctx)
	return s.donorDonations(ctx, donor.ID)
}

func (s *Service) donorDonations(ctx context.Context, donorID uuid.UUID) ([]domain.Donation, error) {
	donations, err := s.repo.ListDonations(ctx, store.DonationFilter{DonorID: donorID})
	if err != nil {
		return nil, fmt.Errorf("failed to list donor donations: %w", err)
	}
	return donations, nil
}

func (s *Service) findDonation(ctx context.Context, donationID uuid.UUID) (*domain.Donation, error) {
	d, err := s.repo.FindDonationByID(ctx, donationID)
	if err != nil {
		if errors.Is(err, store.ErrDonationNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load donation: %w", err)
	}
	return d, nil
}

func isOwner(p *domain.Principal, d *domain.Donation) bool {
	return p != nil && p.Kind == domain.PrincipalUser && p.ID == d.DonorID
}

func isClaimant(p *domain.Principal, d *domain.Donation) bool {
	if p == nil {
		return false
	}
	id, isOrg, ok := d.Claimant()
	return ok && id == p.ID && isOrg == p.IsOrganization()
}

func (s *Service) enforceRateLimit(ctx context.Context, scope, subject string, limit int) error {
	if s.limiter == nil || limit <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, scope, subject, limit, rateLimitWindow)
	if err != nil {
		log.Printf("level=warn component=ratelimit msg=\"limiter unavailable; allowing attempt\" scope=%s err=%v", scope, err)
		return nil
	}
	if count > limit {
		log.Printf("level=warn component=ratelimit msg=\"attempt rejected\" scope=%s subject=%s count=%d limit=%d", scope, subject, count, limit)
		return &RateLimitError{Scope: scope, RetryAfterSeconds: retryAfter}
	}
	return nil
}

// ClaimDonation takes an Available listing for the claimant and issues a
// handover code. Exactly one of any number of concurrent claims succeeds.
func (s *Service) ClaimDonation(ctx context.Context, claimant *domain.Principal, donationID uuid.UUID) (*domain.ClaimResult, error) {
	if claimant == nil {
		return nil, ErrForbidden
	}
	if err := s.enforceRateLimit(ctx, "claim", claimant.ID.String(), s.claimLimitPerMinute); err != nil {
		return nil, err
	}

	d, err := s.findDonation(ctx, donationID)
	if err != nil {
		return nil, err
	}
	if !claimant.Approved() {
		return nil, fmt.Errorf("%w: claimant is not approved", ErrForbidden)
	}
	if d.IsNGOOnly && !claimant.IsOrganization() {
		return nil, fmt.Errorf("%w: listing is reserved for approved organizations", ErrForbidden)
	}
	if isOwner(claimant, d) {
		return nil, fmt.Errorf("%w: donors cannot claim their own listing", ErrForbidden)
	}

	now := s.now().UTC()
	if d.Expired(now) {
		s.sweep(ctx)
		return nil, fmt.Errorf("%w: listing has expired", ErrInvalidState)
	}
	if d.Status != domain.StatusAvailable {
		return nil, fmt.Errorf("%w: listing is %s", ErrInvalidState, d.Status)
	}

	code, err := generateHandoverCode(s.codeLength)
	if err != nil {
		return nil, err
	}
	codeHash, err := hashHandoverCode(code, s.codeHashCost)
	if err != nil {
		return nil, err
	}

	claimed, err := s.repo.ClaimDonation(ctx, d.ID, d.Version, claimant.ID, claimant.IsOrganization(), codeHash, now)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrStatusConflict):
			return nil, fmt.Errorf("%w: listing was claimed by someone else", ErrInvalidState)
		case errors.Is(err, store.ErrDonationNotFound):
			return nil, ErrNotFound
		default:
			return nil, fmt.Errorf("failed to claim donation: %w", err)
		}
	}
	log.Printf("level=info component=lifecycle msg=\"donation claimed\" donation_id=%s claimant_id=%s claimant_kind=%s", claimed.ID, claimant.ID, claimant.Kind)

	expiresAt := now.Add(s.codeTTL)
	qrPNG, qrErr := handoverQR(claimed.ID.String(), code)
	if qrErr != nil {
		log.Printf("level=warn component=lifecycle msg=\"handover qr encode failed\" donation_id=%s err=%v", claimed.ID, qrErr)
	}

	s.notifier.Notify(claimant.Email, domain.NotifyHandoverCode, map[string]string{
		"donation_id": claimed.ID.String(),
		"food":        claimed.Food,
		"location":    claimed.Location,
		"code":        code,
		"expires_at":  expiresAt.Format(time.RFC3339),
	})
	if donor, err := s.repo.FindUserPrincipal(ctx, claimed.DonorID); err == nil {
		s.notifier.Notify(donor.Email, domain.NotifyDonationClaimed, map[string]string{
			"donation_id":  claimed.ID.String(),
			"food":         claimed.Food,
			"claimed_by":   claimant.DisplayName,
			"claimant_org": fmt.Sprintf("%t", claimant.IsOrganization()),
		})
	}
	s.refreshAchievements(ctx, claimed.DonorID)

	return &domain.ClaimResult{
		Donation:  claimed,
		Code:      code,
		CodeQRPNG: qrPNG,
		Price:     claimed.EffectivePrice(claimant.IsOrganization()),
		ExpiresAt: expiresAt,
	}, nil
}

// VerifyHandover is called by the donor with the code the claimant presents.
// A code older than the validity window reverts the listing to Available and
// returns ErrCodeExpired; a wrong code returns ErrCodeMismatch and changes nothing.
func (s *Service) VerifyHandover(ctx context.Context, donor *domain.Principal, donationID uuid.UUID, code string) (*domain.Donation, error) {
	if donor == nil {
		return nil, ErrForbidden
	}
	current, err := s.findDonation(ctx, donationID)
	if err != nil {
		return nil, err
	}
	// Only the owner spends the listing's verify budget.
	if !isOwner(donor, current) {
		return nil, fmt.Errorf("%w: only the donor can verify a handover", ErrForbidden)
	}
	if current.Status.Terminal() {
		return nil, fmt.Errorf("%w: listing is %s and can no longer change", ErrInvalidState, current.Status)
	}
	if current.Status != domain.StatusClaimed {
		return nil, fmt.Errorf("%w: listing is %s", ErrInvalidState, current.Status)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, validationError("code is required")
	}
	if err := s.enforceRateLimit(ctx, "verify", donationID.String(), s.verifyLimitPerMinute); err != nil {
		return nil, err
	}

	var (
		claimantID    uuid.UUID
		claimantIsOrg bool
	)
	updated, err := s.repo.TransitionDonation(ctx, donationID, func(d *domain.Donation) (bool, error) {
		if !isOwner(donor, d) {
			return false, fmt.Errorf("%w: only the donor can verify a handover", ErrForbidden)
		}
		if d.Status != domain.StatusClaimed {
			return false, fmt.Errorf("%w: listing is %s", ErrInvalidState, d.Status)
		}
		claimantID, claimantIsOrg, _ = d.Claimant()

		now := s.now().UTC()
		if d.CodeIssuedAt == nil || now.Sub(*d.CodeIssuedAt) > s.codeTTL {
			d.ClearClaim()
			d.Status = domain.StatusAvailable
			d.UpdatedAt = now
			return true, ErrCodeExpired
		}
		if !handoverCodeMatches(d.CodeHash, code) {
			return false, ErrCodeMismatch
		}
		d.Status = domain.StatusCompleted
		d.CompletedAt = &now
		d.UpdatedAt = now
		return true, nil
	})
	if errors.Is(err, store.ErrDonationNotFound) {
		return nil, ErrNotFound
	}

	switch {
	case err == nil:
		log.Printf("level=info component=lifecycle msg=\"handover verified\" donation_id=%s", donationID)
		s.notifyClaimant(ctx, claimantID, claimantIsOrg, domain.NotifyDonationCompleted, updated)
		s.notifier.Notify(donor.Email, domain.NotifyDonationCompleted, map[string]string{
			"donation_id": updated.ID.String(),
			"food":        updated.Food,
		})
		s.refreshAchievements(ctx, donor.ID)
		return updated, nil
	case errors.Is(err, ErrCodeExpired) && updated != nil:
		log.Printf("level=info component=lifecycle msg=\"handover code expired; listing reopened\" donation_id=%s", donationID)
		s.notifyClaimant(ctx, claimantID, claimantIsOrg, domain.NotifyHandoverExpired, updated)
		s.refreshAchievements(ctx, donor.ID)
		return updated, err
	default:
		return nil, err
	}
}

func (s *Service) notifyClaimant(ctx context.Context, claimantID uuid.UUID, isOrg bool, kind domain.NotificationKind, d *domain.Donation) {
	if claimantID == uuid.Nil || d == nil {
		return
	}
	var (
		claimant *domain.Principal
		err      error
	)
	if isOrg {
		claimant, err = s.repo.FindNGOPrincipal(ctx, claimantID)
	} else {
		claimant, err = s.repo.FindUserPrincipal(ctx, claimantID)
	}
	if err != nil {
		log.Printf("level=warn component=lifecycle msg=\"claimant lookup failed; notification skipped\" claimant_id=%s err=%v", claimantID, err)
		return
	}
	s.notifier.Notify(claimant.Email, kind, map[string]string{
		"donation_id": d.ID.String(),
		"food":        d.Food,
		"status":      string(d.Status),
	})
}

// UpdateDonation applies owner edits while the listing is still Available.
// Changing the text or cooked-at time re-runs extraction and recomputes safe-until.
func (s *Service) UpdateDonation(ctx context.Context, donor *domain.Principal, donationID uuid.UUID, req domain.UpdateDonationRequest) (*domain.Donation, error) {
	d, err := s.findDonation(ctx, donationID)
	if err != nil {
		return nil, err
	}
	if !isOwner(donor, d) {
		return nil, fmt.Errorf("%w: only the donor can edit a listing", ErrForbidden)
	}
	now := s.now().UTC()
	if d.Expired(now) {
		s.sweep(ctx)
		return nil, fmt.Errorf("%w: listing has expired", ErrInvalidState)
	}
	if d.Status != domain.StatusAvailable {
		return nil, fmt.Errorf("%w: listing is %s", ErrInvalidState, d.Status)
	}
	expectedVersion := d.Version

	reextract := false
	if req.Text != nil {
		text, err := validateDonationText(*req.Text)
		if err != nil {
			return nil, err
		}
		if text != d.RawText {
			d.RawText = text
			reextract = true
		}
	}
	if req.CookedAt != nil && (d.CookedAt == nil || !req.CookedAt.Equal(*d.CookedAt)) {
		cookedAt := req.CookedAt.UTC()
		d.CookedAt = &cookedAt
		reextract = true
	}
	if reextract {
		attrs := s.extractAttributes(ctx, d.RawText, d.CookedAt)
		d.Food = attrs.Food
		d.Quantity = attrs.Quantity
		d.Location = attrs.Location
		d.SafeUntil = attrs.SafeUntil
		if attrs.CookedAt != nil {
			d.CookedAt = attrs.CookedAt
		}
	}

	if req.Food != nil {
		d.Food = placeholderIfBlank(*req.Food)
	}
	if req.Quantity != nil {
		d.Quantity = placeholderIfBlank(*req.Quantity)
	}
	if req.Location != nil {
		d.Location = placeholderIfBlank(*req.Location)
	}
	if req.Price != nil {
		if *req.Price < 0 {
			return nil, validationError("price must not be negative")
		}
		d.Price = *req.Price
	}
	if req.IsNGOOnly != nil {
		d.IsNGOOnly = *req.IsNGOOnly
	}
	if req.Lat != nil {
		d.Lat = req.Lat
	}
	if req.Lng != nil {
		d.Lng = req.Lng
	}
	d.UpdatedAt = now

	updated, err := s.repo.UpdateDonationContent(ctx, d, expectedVersion)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrStatusConflict):
			return nil, fmt.Errorf("%w: listing changed while editing", ErrInvalidState)
		case errors.Is(err, store.ErrDonationNotFound):
			return nil, ErrNotFound
		default:
			return nil, fmt.Errorf("failed to update donation: %w", err)
		}
	}
	log.Printf("level=info component=lifecycle msg=\"donation updated\" donation_id=%s reextracted=%t", updated.ID, reextract)
	s.refreshAchievements(ctx, donor.ID)
	return updated, nil
}

// Dashboard summarises the donor's listings and impact.
func (s *Service) Dashboard(ctx context.Context, donor *domain.Principal) (*domain.Dashboard, error) {
	if donor == nil {
		return nil, ErrForbidden
	}
	s.sweep(ctx)

	donations, err := s.donorDonations(ctx, donor.ID)
	if err != nil {
		return nil, err
	}
	metrics := CalculateImpact(s.policy, donations)

	dashboard := &domain.Dashboard{
		DonorID: donor.ID,
		Stats: domain.DashboardStats{
			TotalDonations:       metrics.TotalDonations,
			TotalClaimedByOthers: metrics.ClaimedCount,
		},
		Impact:         metrics,
		RecentActivity: make([]domain.Donation, 0, recentActivityLimit),
	}
	for _, d := range donations {
		if d.Status == domain.StatusAvailable {
			dashboard.Stats.ActiveListings++
		}
	}
	for i := 0; i < len(donations) && i < recentActivityLimit; i++ {
		dashboard.RecentActivity = append(dashboard.RecentActivity, donations[i])
	}
	return dashboard, nil
}

// AdminListDonations returns every listing regardless of status.
func (s *Service) AdminListDonations(ctx context.Context, admin *domain.Principal) ([]domain.Donation, error) {
	if admin == nil || !admin.IsAdmin {
		return nil, fmt.Errorf("%w: admin only", ErrForbidden)
	}
	s.sweep(ctx)
	donations, err := s.repo.ListDonations(ctx, store.DonationFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list donations: %w", err)
	}
	return donations, nil
}

// AdminDeleteDonation removes a listing outright.
func (s *Service) AdminDeleteDonation(ctx context.Context, admin *domain.Principal, donationID uuid.UUID) error {
	if admin == nil || !admin.IsAdmin {
		return fmt.Errorf("%w: admin only", ErrForbidden)
	}
	if err := s.repo.DeleteDonation(ctx, donationID); err != nil {
		if errors.Is(err, store.ErrDonationNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete donation: %w", err)
	}
	log.Printf("level=info component=lifecycle msg=\"donation deleted by admin\" donation_id=%s admin_id=%s", donationID, admin.ID)
	return nil
}
