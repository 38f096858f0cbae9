package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pankajsagvekar/meal-mitra/internal/domain"
	"github.com/pankajsagvekar/meal-mitra/internal/store"
)

// BadgeEngine grants catalog achievements exactly once per donor.
type BadgeEngine struct {
	repo     store.Repository
	catalog  []domain.Achievement
	notifier Notifier
	now      func() time.Time
}

func NewBadgeEngine(repo store.Repository, catalog []domain.Achievement, notifier Notifier) *BadgeEngine {
	if len(catalog) == 0 {
		catalog = domain.DefaultCatalog
	}
	return &BadgeEngine{repo: repo, catalog: catalog, notifier: notifier, now: time.Now}
}

// Evaluate grants every satisfied achievement the donor does not hold yet and
// returns the new grants in catalog order. The granted set is read and the
// grants written as one serialised unit per donor.
func (e *BadgeEngine) Evaluate(ctx context.Context, donorID uuid.UUID, recipient string, metrics domain.ImpactMetrics) ([]domain.UserBadge, error) {
	selectFn := func(granted map[string]bool) []string {
		names := make([]string, 0)
		for _, a := range e.catalog {
			if granted[a.Name] || !a.Satisfied(metrics) {
				continue
			}
			names = append(names, a.Name)
		}
		return names
	}

	unlocked, err := e.repo.GrantBadges(ctx, donorID, selectFn, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to grant badges: %w", err)
	}

	for _, badge := range unlocked {
		a, _ := domain.FindAchievement(e.catalog, badge.AchievementName)
		log.Printf("level=info component=badges msg=\"badge unlocked\" donor_id=%s achievement=%s", donorID, badge.AchievementName)
		if e.notifier != nil {
			e.notifier.Notify(recipient, domain.NotifyBadgeUnlocked, map[string]string{
				"achievement": a.Name,
				"badge_name":  a.DisplayName,
				"level":       fmt.Sprintf("%d", a.Level),
			})
		}
	}
	return unlocked, nil
}

// refreshAchievements recomputes a donor's metrics and runs the badge engine.
// Failures are logged and never propagate into the lifecycle operation.
func (s *Service) refreshAchievements(ctx context.Context, donorID uuid.UUID) []domain.UserBadge {
	donations, err := s.donorDonations(ctx, donorID)
	if err != nil {
		log.Printf("level=error component=badges msg=\"failed to load donor history\" donor_id=%s err=%v", donorID, err)
		return nil
	}
	metrics := CalculateImpact(s.policy, donations)

	recipient := ""
	if donor, err := s.repo.FindUserPrincipal(ctx, donorID); err == nil {
		recipient = donor.Email
	}

	unlocked, err := s.badges.Evaluate(ctx, donorID, recipient, metrics)
	if err != nil {
		log.Printf("level=error component=badges msg=\"badge evaluation failed\" donor_id=%s err=%v", donorID, err)
		return nil
	}
	return unlocked
}

// BadgeViews returns the donor's grants joined with catalog metadata.
func (s *Service) BadgeViews(ctx context.Context, donor *domain.Principal) ([]domain.BadgeView, error) {
	if donor == nil {
		return nil, ErrForbidden
	}
	grants, err := s.repo.ListUserBadges(ctx, donor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list badges: %w", err)
	}
	views := make([]domain.BadgeView, 0, len(grants))
	for _, g := range grants {
		a, ok := domain.FindAchievement(s.catalog, g.AchievementName)
		if !ok {
			continue
		}
		views = append(views, domain.BadgeView{
			ID:           g.ID,
			BadgeName:    a.DisplayName,
			SanskritName: a.SanskritName,
			Slug:         a.Slug,
			Description:  a.Description,
			IconURL:      a.IconURL,
			Level:        a.Level,
			UnlockedAt:   g.UnlockedAt,
		})
	}
	return views, nil
}

// AchievementProgress lists the full catalog with the donor's progress on each entry.
func (s *Service) AchievementProgress(ctx context.Context, donor *domain.Principal) ([]domain.AchievementProgress, error) {
	if donor == nil {
		return nil, ErrForbidden
	}
	s.sweep(ctx)

	donations, err := s.donorDonations(ctx, donor.ID)
	if err != nil {
		return nil, err
	}
	metrics := CalculateImpact(s.policy, donations)

	grants, err := s.repo.ListUserBadges(ctx, donor.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list badges: %w", err)
	}
	unlockedAt := make(map[string]time.Time, len(grants))
	for _, g := range grants {
		unlockedAt[g.AchievementName] = g.UnlockedAt
	}

	progress := make([]domain.AchievementProgress, 0, len(s.catalog))
	for _, a := range s.catalog {
		p := domain.AchievementProgress{Achievement: a, Current: a.Metric.Value(metrics)}
		if at, ok := unlockedAt[a.Name]; ok {
			at := at
			p.Earned = true
			p.UnlockedAt = &at
		}
		progress = append(progress, p)
	}
	return progress, nil
}

// ReconcileBadges re-runs the engine for donors active since the given time.
// Grants lost to a transient persistence failure are repaired here.
func (s *Service) ReconcileBadges(ctx context.Context, since time.Time) (int, error) {
	donors, err := s.repo.ListDonorsActiveSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list active donors: %w", err)
	}
	granted := 0
	for _, donorID := range donors {
		if ctx.Err() != nil {
			return granted, ctx.Err()
		}
		granted += len(s.refreshAchievements(ctx, donorID))
	}
	return granted, nil
}
