package app

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubReconciler struct {
	since   time.Time
	calls   int
	granted int
	err     error
}

func (r *stubReconciler) ReconcileBadges(ctx context.Context, since time.Time) (int, error) {
	r.calls++
	r.since = since
	return r.granted, r.err
}

func TestJobsReconcileBadges_UsesLookback(t *testing.T) {
	reconciler := &stubReconciler{granted: 2}
	jobs := NewJobs(reconciler, 6*time.Hour, discardLogger())
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	jobs.now = func() time.Time { return now }

	jobs.ReconcileBadges()

	if reconciler.calls != 1 {
		t.Fatalf("expected one reconcile call, got %d", reconciler.calls)
	}
	if want := now.Add(-6 * time.Hour); !reconciler.since.Equal(want) {
		t.Fatalf("expected since=%v, got %v", want, reconciler.since)
	}
}

func TestJobsReconcileBadges_ErrorIsLogged(t *testing.T) {
	reconciler := &stubReconciler{err: errors.New("db down")}
	jobs := NewJobs(reconciler, 0, discardLogger())
	jobs.ReconcileBadges()
	if reconciler.calls != 1 {
		t.Fatalf("expected reconcile to run once")
	}
}

func TestSchedulerStart_RejectsBadSchedule(t *testing.T) {
	s := NewScheduler(NewJobs(&stubReconciler{}, time.Hour, discardLogger()), discardLogger(), "not a schedule")
	if err := s.Start(); err == nil {
		t.Fatalf("expected invalid schedule to be rejected")
	}
}

func TestReconcileBadges_RepairsMissingGrants(t *testing.T) {
	f := newTestFixture(t, nil)
	f.createDonation(t, "10 kg rice at office", false, 0)

	granted, err := f.service.ReconcileBadges(context.Background(), f.clock.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ReconcileBadges returned error: %v", err)
	}
	if granted != 0 {
		t.Fatalf("expected creation to have granted everything already, got %d new", granted)
	}

	badges, err := f.repo.ListUserBadges(context.Background(), f.donor.ID)
	if err != nil {
		t.Fatalf("ListUserBadges returned error: %v", err)
	}
	seen := make(map[string]int)
	for _, b := range badges {
		seen[b.AchievementName]++
	}
	for name, n := range seen {
		if n != 1 {
			t.Fatalf("badge %s granted %d times", name, n)
		}
	}
	if seen["first_donation"] != 1 || seen["kind_heart"] != 1 {
		t.Fatalf("expected first_donation and kind_heart, got %v", seen)
	}
}

func TestAchievementProgress_ReportsEveryCatalogEntry(t *testing.T) {
	f := newTestFixture(t, nil)
	f.createDonation(t, "3 kg dal", false, 0)

	progress, err := f.service.AchievementProgress(context.Background(), f.donor)
	if err != nil {
		t.Fatalf("AchievementProgress returned error: %v", err)
	}
	if len(progress) != len(f.service.catalog) {
		t.Fatalf("expected %d entries, got %d", len(f.service.catalog), len(progress))
	}
	for _, p := range progress {
		if p.Name == "first_donation" && (!p.Earned || p.UnlockedAt == nil) {
			t.Fatalf("expected first_donation earned, got %+v", p)
		}
		if p.Name == "food_saver" && p.Earned {
			t.Fatalf("food_saver must not be earned yet")
		}
	}

	views, err := f.service.BadgeViews(context.Background(), f.donor)
	if err != nil {
		t.Fatalf("BadgeViews returned error: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected two badge views, got %d", len(views))
	}
}
