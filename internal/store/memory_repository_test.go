package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pankajsagvekar/meal-mitra/internal/domain"
)

func newAvailableDonation(t *testing.T, repo *MemoryRepository, safeUntil *time.Time) *domain.Donation {
	t.Helper()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	d := &domain.Donation{
		ID:        uuid.New(),
		DonorID:   uuid.New(),
		RawText:   "office mein 10 kg chawal bacha hai",
		Food:      "rice",
		Quantity:  "10 kg",
		Location:  "office",
		Status:    domain.StatusAvailable,
		SafeUntil: safeUntil,
		CreatedAt: now,
	}
	if err := repo.CreateDonation(context.Background(), d); err != nil {
		t.Fatalf("CreateDonation returned error: %v", err)
	}
	return d
}

func TestMemoryRepository_ClaimDonationRejectsStaleVersion(t *testing.T) {
	repo := NewMemoryRepository()
	d := newAvailableDonation(t, repo, nil)

	claimed, err := repo.ClaimDonation(context.Background(), d.ID, d.Version, uuid.New(), true, "hash", time.Now())
	if err != nil {
		t.Fatalf("first claim returned error: %v", err)
	}
	if claimed.Status != domain.StatusClaimed || claimed.ClaimedByNGO == nil || claimed.ClaimedByUser != nil {
		t.Fatalf("unexpected claimed row: %+v", claimed)
	}

	_, err = repo.ClaimDonation(context.Background(), d.ID, d.Version, uuid.New(), false, "hash", time.Now())
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}

	_, err = repo.ClaimDonation(context.Background(), uuid.New(), 1, uuid.New(), false, "hash", time.Now())
	if !errors.Is(err, ErrDonationNotFound) {
		t.Fatalf("expected ErrDonationNotFound, got %v", err)
	}
}

func TestMemoryRepository_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	repo := NewMemoryRepository()
	d := newAvailableDonation(t, repo, nil)

	const attempts = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ClaimDonation(context.Background(), d.ID, d.Version, uuid.New(), false, "hash", time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, ErrStatusConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d and %d", attempts-1, winners, conflicts)
	}
}

func TestMemoryRepository_ExpireStaleDonationsOnlyTouchesAvailableWithDeadline(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Date(2026, 1, 10, 18, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	stale := newAvailableDonation(t, repo, &past)
	noDeadline := newAvailableDonation(t, repo, nil)
	fresh := newAvailableDonation(t, repo, &future)
	claimed := newAvailableDonation(t, repo, &past)
	if _, err := repo.ClaimDonation(context.Background(), claimed.ID, claimed.Version, uuid.New(), false, "hash", past); err != nil {
		t.Fatalf("claim returned error: %v", err)
	}

	donors, err := repo.ExpireStaleDonations(context.Background(), now)
	if err != nil {
		t.Fatalf("ExpireStaleDonations returned error: %v", err)
	}
	if len(donors) != 1 || donors[0] != stale.DonorID {
		t.Fatalf("expected only the stale donor to be reported, got %v", donors)
	}

	expectStatus := func(id uuid.UUID, want domain.DonationStatus) {
		t.Helper()
		got, err := repo.FindDonationByID(context.Background(), id)
		if err != nil {
			t.Fatalf("FindDonationByID returned error: %v", err)
		}
		if got.Status != want {
			t.Fatalf("expected status %s, got %s", want, got.Status)
		}
	}
	expectStatus(stale.ID, domain.StatusExpired)
	expectStatus(noDeadline.ID, domain.StatusAvailable)
	expectStatus(fresh.ID, domain.StatusAvailable)
	expectStatus(claimed.ID, domain.StatusClaimed)

	donors, err = repo.ExpireStaleDonations(context.Background(), now)
	if err != nil {
		t.Fatalf("second sweep returned error: %v", err)
	}
	if len(donors) != 0 {
		t.Fatalf("expected second sweep to be a no-op, got %v", donors)
	}
}

func TestMemoryRepository_GrantBadgesSkipsExistingNames(t *testing.T) {
	repo := NewMemoryRepository()
	donorID := uuid.New()
	selectAll := func(granted map[string]bool) []string {
		out := make([]string, 0)
		for _, name := range []string{"first_donation", "kind_heart"} {
			if !granted[name] {
				out = append(out, name)
			}
		}
		return out
	}

	first, err := repo.GrantBadges(context.Background(), donorID, selectAll, time.Now())
	if err != nil {
		t.Fatalf("GrantBadges returned error: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 grants, got %d", len(first))
	}

	second, err := repo.GrantBadges(context.Background(), donorID, selectAll, time.Now())
	if err != nil {
		t.Fatalf("second GrantBadges returned error: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected no new grants, got %d", len(second))
	}

	badges, err := repo.ListUserBadges(context.Background(), donorID)
	if err != nil {
		t.Fatalf("ListUserBadges returned error: %v", err)
	}
	if len(badges) != 2 {
		t.Fatalf("expected 2 stored badges, got %d", len(badges))
	}
}
