/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the SQL for the donation lifecycle, the lazy expiry sweep, badge
 * grants, and the read-only principal lookups.
 *
 * @notes
 * - Claim and content edits are compare-and-swap writes conditioned on
 *   (status, version). Zero affected rows is reported as ErrStatusConflict.
 * - Handover verification runs inside a transaction holding the row lock.
 * - Badge grants take a transaction-scoped advisory lock keyed by donor id.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pankajsagvekar/meal-mitra/internal/domain"
)

const donationColumns = `
	id, user_id, raw_text, food, quantity, location, price, is_ngo_only,
	lat, lng, cooked_at, safe_until, status, claimed_by_user, claimed_by_ngo,
	handover_code_hash, code_issued_at, completed_at, version, created_at, updated_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanDonation(row pgx.Row) (*domain.Donation, error) {
	var d domain.Donation
	var status string
	var codeHash *string
	err := row.Scan(
		&d.ID,
		&d.DonorID,
		&d.RawText,
		&d.Food,
		&d.Quantity,
		&d.Location,
		&d.Price,
		&d.IsNGOOnly,
		&d.Lat,
		&d.Lng,
		&d.CookedAt,
		&d.SafeUntil,
		&status,
		&d.ClaimedByUser,
		&d.ClaimedByNGO,
		&codeHash,
		&d.CodeIssuedAt,
		&d.CompletedAt,
		&d.Version,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = domain.DonationStatus(status)
	if codeHash != nil {
		d.CodeHash = *codeHash
	}
	return &d, nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// FindUserPrincipal resolves a donor-type principal from the users table.
func (r *PostgresRepository) FindUserPrincipal(ctx context.Context, userID uuid.UUID) (*domain.Principal, error) {
	p := domain.Principal{Kind: domain.PrincipalUser}
	var verification string
	query := `
		SELECT id, email, username, role, is_admin, verification_status
		FROM users
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, userID).Scan(&p.ID, &p.Email, &p.DisplayName, &p.Role, &p.IsAdmin, &verification)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrincipalNotFound
		}
		return nil, err
	}
	p.Verification = domain.VerificationStatus(verification)
	return &p, nil
}

// FindNGOPrincipal resolves an organization principal from the ngos table.
func (r *PostgresRepository) FindNGOPrincipal(ctx context.Context, ngoID uuid.UUID) (*domain.Principal, error) {
	p := domain.Principal{Kind: domain.PrincipalNGO, Role: "NGO"}
	var verification string
	query := `
		SELECT id, email, name, registration_status
		FROM ngos
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, ngoID).Scan(&p.ID, &p.Email, &p.DisplayName, &verification)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPrincipalNotFound
		}
		return nil, err
	}
	p.Verification = domain.VerificationStatus(verification)
	return &p, nil
}

// CreateDonation inserts a new Available listing.
func (r *PostgresRepository) CreateDonation(ctx context.Context, donation *domain.Donation) error {
	query := `
		INSERT INTO donations (
			id, user_id, raw_text, food, quantity, location, price, is_ngo_only,
			lat, lng, cooked_at, safe_until, status, version, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $14)
		RETURNING version
	`
	return r.db.QueryRow(ctx, query,
		donation.ID,
		donation.DonorID,
		donation.RawText,
		donation.Food,
		donation.Quantity,
		donation.Location,
		donation.Price,
		donation.IsNGOOnly,
		donation.Lat,
		donation.Lng,
		donation.CookedAt,
		donation.SafeUntil,
		string(donation.Status),
		donation.CreatedAt,
	).Scan(&donation.Version)
}

// FindDonationByID retrieves a single listing.
func (r *PostgresRepository) FindDonationByID(ctx context.Context, donationID uuid.UUID) (*domain.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE id = $1`
	d, err := scanDonation(r.db.QueryRow(ctx, query, donationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonationNotFound
		}
		return nil, err
	}
	return d, nil
}

// ListDonations returns listings newest first.
func (r *PostgresRepository) ListDonations(ctx context.Context, filter DonationFilter) ([]domain.Donation, error) {
	var (
		clauses []string
		args    []interface{}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.DonorID != uuid.Nil {
		args = append(args, filter.DonorID)
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.ExcludeNGOOnly {
		clauses = append(clauses, "is_ngo_only = FALSE")
	}

	query := `SELECT ` + donationColumns + ` FROM donations`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	donations := make([]domain.Donation, 0)
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, err
		}
		donations = append(donations, *d)
	}
	return donations, rows.Err()
}

// ClaimDonation moves an Available listing to Claimed if nobody got there first.
func (r *PostgresRepository) ClaimDonation(
	ctx context.Context,
	donationID uuid.UUID,
	expectedVersion int64,
	claimantID uuid.UUID,
	claimantIsOrganization bool,
	codeHash string,
	issuedAt time.Time,
) (*domain.Donation, error) {
	var claimedByUser, claimedByNGO *uuid.UUID
	if claimantIsOrganization {
		claimedByNGO = &claimantID
	} else {
		claimedByUser = &claimantID
	}

	query := `
		UPDATE donations
		SET status = 'Claimed',
			claimed_by_user = $3,
			claimed_by_ngo = $4,
			handover_code_hash = $5,
			code_issued_at = $6,
			version = version + 1,
			updated_at = $6
		WHERE id = $1
		  AND status = 'Available'
		  AND version = $2
		RETURNING ` + donationColumns
	d, err := scanDonation(r.db.QueryRow(ctx, query, donationID, expectedVersion, claimedByUser, claimedByNGO, codeHash, issuedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMissedWrite(ctx, donationID)
		}
		return nil, err
	}
	return d, nil
}

// UpdateDonationContent writes owner edits while the listing is still Available.
func (r *PostgresRepository) UpdateDonationContent(ctx context.Context, donation *domain.Donation, expectedVersion int64) (*domain.Donation, error) {
	query := `
		UPDATE donations
		SET raw_text = $3,
			food = $4,
			quantity = $5,
			location = $6,
			price = $7,
			is_ngo_only = $8,
			lat = $9,
			lng = $10,
			cooked_at = $11,
			safe_until = $12,
			version = version + 1,
			updated_at = $13
		WHERE id = $1
		  AND status = 'Available'
		  AND version = $2
		RETURNING ` + donationColumns
	d, err := scanDonation(r.db.QueryRow(ctx, query,
		donation.ID,
		expectedVersion,
		donation.RawText,
		donation.Food,
		donation.Quantity,
		donation.Location,
		donation.Price,
		donation.IsNGOOnly,
		donation.Lat,
		donation.Lng,
		donation.CookedAt,
		donation.SafeUntil,
		donation.UpdatedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMissedWrite(ctx, donation.ID)
		}
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepository) classifyMissedWrite(ctx context.Context, donationID uuid.UUID) error {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM donations WHERE id = $1)`, donationID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrDonationNotFound
	}
	return ErrStatusConflict
}

// TransitionDonation locks a row, lets fn decide the new state, and persists it.
func (r *PostgresRepository) TransitionDonation(ctx context.Context, donationID uuid.UUID, fn TransitionFunc) (*domain.Donation, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + donationColumns + ` FROM donations WHERE id = $1 FOR UPDATE`
	d, err := scanDonation(tx.QueryRow(ctx, query, donationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDonationNotFound
		}
		return nil, fmt.Errorf("failed to get and lock donation: %w", err)
	}

	write, fnErr := fn(d)
	if !write {
		return d, fnErr
	}

	updateQuery := `
		UPDATE donations
		SET status = $2,
			claimed_by_user = $3,
			claimed_by_ngo = $4,
			handover_code_hash = $5,
			code_issued_at = $6,
			completed_at = $7,
			version = version + 1,
			updated_at = $8
		WHERE id = $1
		RETURNING version
	`
	err = tx.QueryRow(ctx, updateQuery,
		d.ID,
		string(d.Status),
		d.ClaimedByUser,
		d.ClaimedByNGO,
		nullableString(d.CodeHash),
		d.CodeIssuedAt,
		d.CompletedAt,
		d.UpdatedAt,
	).Scan(&d.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to write donation transition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit donation transition: %w", err)
	}
	return d, fnErr
}

// ExpireStaleDonations retires every Available listing whose deadline has passed
// and returns the distinct donors affected.
func (r *PostgresRepository) ExpireStaleDonations(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	query := `
		UPDATE donations
		SET status = 'Expired',
			version = version + 1,
			updated_at = $1
		WHERE status = 'Available'
		  AND safe_until IS NOT NULL
		  AND safe_until < $1
		RETURNING user_id
	`
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[uuid.UUID]struct{})
	donors := make([]uuid.UUID, 0)
	for rows.Next() {
		var donorID uuid.UUID
		if err := rows.Scan(&donorID); err != nil {
			return nil, err
		}
		if _, ok := seen[donorID]; ok {
			continue
		}
		seen[donorID] = struct{}{}
		donors = append(donors, donorID)
	}
	return donors, rows.Err()
}

// DeleteDonation removes a listing outright. Used by the admin surface only.
func (r *PostgresRepository) DeleteDonation(ctx context.Context, donationID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM donations WHERE id = $1`, donationID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrDonationNotFound
	}
	return nil
}

// ListDonorsActiveSince returns donors whose listings changed after since.
func (r *PostgresRepository) ListDonorsActiveSince(ctx context.Context, since time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT user_id FROM donations WHERE updated_at >= $1`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	donors := make([]uuid.UUID, 0)
	for rows.Next() {
		var donorID uuid.UUID
		if err := rows.Scan(&donorID); err != nil {
			return nil, err
		}
		donors = append(donors, donorID)
	}
	return donors, rows.Err()
}

// ListUserBadges returns a donor's grants in unlock order.
func (r *PostgresRepository) ListUserBadges(ctx context.Context, donorID uuid.UUID) ([]domain.UserBadge, error) {
	query := `
		SELECT id, user_id, achievement_name, unlocked_at
		FROM user_badges
		WHERE user_id = $1
		ORDER BY unlocked_at, achievement_name
	`
	rows, err := r.db.Query(ctx, query, donorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	badges := make([]domain.UserBadge, 0)
	for rows.Next() {
		var b domain.UserBadge
		if err := rows.Scan(&b.ID, &b.DonorID, &b.AchievementName, &b.UnlockedAt); err != nil {
			return nil, err
		}
		badges = append(badges, b)
	}
	return badges, rows.Err()
}

// GrantBadges serialises grant evaluation per donor. The granted set is read and
// the new rows inserted under the same advisory lock, and the unique constraint
// backs it up so a name can never be inserted twice.
func (r *PostgresRepository) GrantBadges(ctx context.Context, donorID uuid.UUID, selectFn BadgeSelector, unlockedAt time.Time) ([]domain.UserBadge, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, donorID.String()); err != nil {
		return nil, fmt.Errorf("failed to acquire badge lock: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT achievement_name FROM user_badges WHERE user_id = $1`, donorID)
	if err != nil {
		return nil, fmt.Errorf("failed to read granted badges: %w", err)
	}
	granted := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		granted[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	names := selectFn(granted)
	if len(names) == 0 {
		return nil, nil
	}

	insertQuery := `
		INSERT INTO user_badges (id, user_id, achievement_name, unlocked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, achievement_name) DO NOTHING
		RETURNING id, user_id, achievement_name, unlocked_at
	`
	inserted := make([]domain.UserBadge, 0, len(names))
	for _, name := range names {
		var b domain.UserBadge
		err := tx.QueryRow(ctx, insertQuery, uuid.New(), donorID, name, unlockedAt).
			Scan(&b.ID, &b.DonorID, &b.AchievementName, &b.UnlockedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			return nil, fmt.Errorf("failed to insert badge %s: %w", name, err)
		}
		inserted = append(inserted, b)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit badge grants: %w", err)
	}
	return inserted, nil
}
