package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pankajsagvekar/meal-mitra/internal/domain"
)

// MemoryRepository is an in-process Repository used when no DATABASE_URL is
// configured and by tests. It keeps the same compare-and-swap semantics as the
// Postgres implementation.
type MemoryRepository struct {
	mu         sync.Mutex
	users      map[uuid.UUID]domain.Principal
	ngos       map[uuid.UUID]domain.Principal
	donations  map[uuid.UUID]domain.Donation
	badges     map[uuid.UUID][]domain.UserBadge
	badgeLocks sync.Map
}

// NewMemoryRepository creates an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:     make(map[uuid.UUID]domain.Principal),
		ngos:      make(map[uuid.UUID]domain.Principal),
		donations: make(map[uuid.UUID]domain.Donation),
		badges:    make(map[uuid.UUID][]domain.UserBadge),
	}
}

// PutPrincipal seeds or replaces a user or ngo record.
func (r *MemoryRepository) PutPrincipal(p domain.Principal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.Kind == domain.PrincipalNGO {
		r.ngos[p.ID] = p
		return
	}
	r.users[p.ID] = p
}

func (r *MemoryRepository) FindUserPrincipal(_ context.Context, userID uuid.UUID) (*domain.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.users[userID]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) FindNGOPrincipal(_ context.Context, ngoID uuid.UUID) (*domain.Principal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.ngos[ngoID]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) CreateDonation(_ context.Context, donation *domain.Donation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	donation.Version = 1
	if donation.UpdatedAt.IsZero() {
		donation.UpdatedAt = donation.CreatedAt
	}
	r.donations[donation.ID] = *donation
	return nil
}

func (r *MemoryRepository) FindDonationByID(_ context.Context, donationID uuid.UUID) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donations[donationID]
	if !ok {
		return nil, ErrDonationNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) ListDonations(_ context.Context, filter DonationFilter) ([]domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Donation, 0)
	for _, d := range r.donations {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.DonorID != uuid.Nil && d.DonorID != filter.DonorID {
			continue
		}
		if filter.ExcludeNGOOnly && d.IsNGOOnly {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) ClaimDonation(
	_ context.Context,
	donationID uuid.UUID,
	expectedVersion int64,
	claimantID uuid.UUID,
	claimantIsOrganization bool,
	codeHash string,
	issuedAt time.Time,
) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.donations[donationID]
	if !ok {
		return nil, ErrDonationNotFound
	}
	if d.Status != domain.StatusAvailable || d.Version != expectedVersion {
		return nil, ErrStatusConflict
	}

	id := claimantID
	if claimantIsOrganization {
		d.ClaimedByNGO = &id
	} else {
		d.ClaimedByUser = &id
	}
	issued := issuedAt
	d.Status = domain.StatusClaimed
	d.CodeHash = codeHash
	d.CodeIssuedAt = &issued
	d.Version++
	d.UpdatedAt = issuedAt
	r.donations[donationID] = d
	return &d, nil
}

func (r *MemoryRepository) UpdateDonationContent(_ context.Context, donation *domain.Donation, expectedVersion int64) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.donations[donation.ID]
	if !ok {
		return nil, ErrDonationNotFound
	}
	if current.Status != domain.StatusAvailable || current.Version != expectedVersion {
		return nil, ErrStatusConflict
	}

	current.RawText = donation.RawText
	current.Food = donation.Food
	current.Quantity = donation.Quantity
	current.Location = donation.Location
	current.Price = donation.Price
	current.IsNGOOnly = donation.IsNGOOnly
	current.Lat = donation.Lat
	current.Lng = donation.Lng
	current.CookedAt = donation.CookedAt
	current.SafeUntil = donation.SafeUntil
	current.UpdatedAt = donation.UpdatedAt
	current.Version++
	r.donations[donation.ID] = current
	return &current, nil
}

func (r *MemoryRepository) TransitionDonation(_ context.Context, donationID uuid.UUID, fn TransitionFunc) (*domain.Donation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.donations[donationID]
	if !ok {
		return nil, ErrDonationNotFound
	}
	working := current
	write, err := fn(&working)
	if !write {
		return &current, err
	}
	working.Version = current.Version + 1
	r.donations[donationID] = working
	return &working, err
}

func (r *MemoryRepository) ExpireStaleDonations(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[uuid.UUID]struct{})
	donors := make([]uuid.UUID, 0)
	for id, d := range r.donations {
		if !d.Expired(now) {
			continue
		}
		d.Status = domain.StatusExpired
		d.Version++
		d.UpdatedAt = now
		r.donations[id] = d
		if _, ok := seen[d.DonorID]; !ok {
			seen[d.DonorID] = struct{}{}
			donors = append(donors, d.DonorID)
		}
	}
	return donors, nil
}

func (r *MemoryRepository) DeleteDonation(_ context.Context, donationID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.donations[donationID]; !ok {
		return ErrDonationNotFound
	}
	delete(r.donations, donationID)
	return nil
}

func (r *MemoryRepository) ListDonorsActiveSince(_ context.Context, since time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[uuid.UUID]struct{})
	donors := make([]uuid.UUID, 0)
	for _, d := range r.donations {
		if d.UpdatedAt.Before(since) {
			continue
		}
		if _, ok := seen[d.DonorID]; ok {
			continue
		}
		seen[d.DonorID] = struct{}{}
		donors = append(donors, d.DonorID)
	}
	return donors, nil
}

func (r *MemoryRepository) ListUserBadges(_ context.Context, donorID uuid.UUID) ([]domain.UserBadge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.UserBadge, len(r.badges[donorID]))
	copy(out, r.badges[donorID])
	return out, nil
}

// GrantBadges holds a per-donor mutex across the read of the granted set and
// the inserts.
func (r *MemoryRepository) GrantBadges(_ context.Context, donorID uuid.UUID, selectFn BadgeSelector, unlockedAt time.Time) ([]domain.UserBadge, error) {
	lock, _ := r.badgeLocks.LoadOrStore(donorID, &sync.Mutex{})
	donorMu := lock.(*sync.Mutex)
	donorMu.Lock()
	defer donorMu.Unlock()

	r.mu.Lock()
	granted := make(map[string]bool, len(r.badges[donorID]))
	for _, b := range r.badges[donorID] {
		granted[b.AchievementName] = true
	}
	r.mu.Unlock()

	names := selectFn(granted)
	if len(names) == 0 {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	inserted := make([]domain.UserBadge, 0, len(names))
	for _, name := range names {
		if granted[name] {
			continue
		}
		granted[name] = true
		b := domain.UserBadge{
			ID:              uuid.New(),
			DonorID:         donorID,
			AchievementName: name,
			UnlockedAt:      unlockedAt,
		}
		r.badges[donorID] = append(r.badges[donorID], b)
		inserted = append(inserted, b)
	}
	return inserted, nil
}
