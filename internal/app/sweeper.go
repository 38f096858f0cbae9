package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/pankajsagvekar/meal-mitra/internal/store"
)

// Sweeper retires Available listings whose safe-until deadline has passed.
// It runs lazily on listing reads rather than on a timer.
type Sweeper struct {
	repo      store.Repository
	now       func() time.Time
	onExpired func(ctx context.Context, donorIDs []uuid.UUID)
}

func NewSweeper(repo store.Repository, now func() time.Time, onExpired func(ctx context.Context, donorIDs []uuid.UUID)) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{repo: repo, now: now, onExpired: onExpired}
}

// Sweep applies one conditional batch update. It is a no-op when nothing is stale.
func (s *Sweeper) Sweep(ctx context.Context) ([]uuid.UUID, error) {
	donors, err := s.repo.ExpireStaleDonations(ctx, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if len(donors) == 0 {
		return nil, nil
	}
	log.Printf("level=info component=sweeper msg=\"stale listings expired\" donors=%d", len(donors))
	if s.onExpired != nil {
		s.onExpired(ctx, donors)
	}
	return donors, nil
}

// sweep runs the sweeper ahead of a read. A failed sweep must not fail the read.
func (s *Service) sweep(ctx context.Context) {
	if _, err := s.sweeper.Sweep(ctx); err != nil {
		log.Printf("level=warn component=sweeper msg=\"lazy expiry sweep failed\" err=%v", err)
	}
}
