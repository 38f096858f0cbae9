package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements creates the tables this service owns. users and ngos are
// managed by the onboarding flow and are only read here.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS donations (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		raw_text TEXT NOT NULL,
		food TEXT NOT NULL DEFAULT 'unknown',
		quantity TEXT NOT NULL DEFAULT 'unknown',
		location TEXT NOT NULL DEFAULT 'unknown',
		price DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (price >= 0),
		is_ngo_only BOOLEAN NOT NULL DEFAULT FALSE,
		lat TEXT,
		lng TEXT,
		cooked_at TIMESTAMPTZ,
		safe_until TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'Available'
			CHECK (status IN ('Available', 'Claimed', 'Completed', 'Expired')),
		claimed_by_user UUID,
		claimed_by_ngo UUID,
		handover_code_hash TEXT,
		code_issued_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT donations_single_claimant CHECK (claimed_by_user IS NULL OR claimed_by_ngo IS NULL),
		CONSTRAINT donations_claim_iff_taken CHECK (
			(status IN ('Available', 'Expired') AND claimed_by_user IS NULL AND claimed_by_ngo IS NULL
				AND handover_code_hash IS NULL AND code_issued_at IS NULL)
			OR (status IN ('Claimed', 'Completed') AND (claimed_by_user IS NOT NULL OR claimed_by_ngo IS NOT NULL)
				AND code_issued_at IS NOT NULL)
		)
	)`,
	`CREATE INDEX IF NOT EXISTS donations_user_id_idx ON donations (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS donations_available_deadline_idx ON donations (safe_until) WHERE status = 'Available'`,
	`CREATE TABLE IF NOT EXISTS user_badges (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		achievement_name TEXT NOT NULL,
		unlocked_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, achievement_name)
	)`,
}

// EnsureSchema applies the idempotent DDL for donations and user_badges.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d failed: %w", i, err)
		}
	}
	return nil
}
