/**
 * @description
 * Achievement catalog and badge grant models.
 *
 * @notes
 * - The catalog is a static, ordered table. Evaluation order is the slice order,
 *   so newly unlocked badges are always reported in the same sequence.
 * - Grants are append-only: one row per (donor, achievement name), never updated.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// MetricType selects which impact figure an achievement is measured against.
type MetricType string

const (
	MetricDonationCount MetricType = "donation_count"
	MetricSafeCount     MetricType = "safe_count"
	MetricMassKg        MetricType = "mass_kg"
	MetricMeals         MetricType = "meals"
	MetricEmissionsKg   MetricType = "emissions_kg"
	MetricClaimCount    MetricType = "claim_count"
)

// Achievement is one read-only catalog entry.
type Achievement struct {
	Name         string     `json:"name"`
	DisplayName  string     `json:"badge_name"`
	SanskritName string     `json:"sanskrit_name"`
	Slug         string     `json:"slug"`
	Description  string     `json:"description"`
	IconURL      string     `json:"icon_url"`
	Level        int        `json:"level"`
	Metric       MetricType `json:"metric"`
	Threshold    float64    `json:"threshold"`
}

// Value returns the metric figure this achievement is compared against.
func (m MetricType) Value(metrics ImpactMetrics) float64 {
	switch m {
	case MetricDonationCount:
		return float64(metrics.TotalDonations)
	case MetricSafeCount:
		return float64(metrics.SafeCount)
	case MetricMassKg:
		return metrics.MassSavedKg
	case MetricMeals:
		return float64(metrics.MealsEquivalent)
	case MetricEmissionsKg:
		return metrics.EmissionsAvoidedKg
	case MetricClaimCount:
		return float64(metrics.ClaimedCount)
	default:
		return 0
	}
}

// Satisfied reports whether metrics meet this achievement's threshold.
func (a Achievement) Satisfied(metrics ImpactMetrics) bool {
	return a.Metric.Value(metrics) >= a.Threshold
}

// DefaultCatalog is the production achievement table.
// Community Hero counts claimed listings rather than distinct organizations.
var DefaultCatalog = []Achievement{
	{
		Name:         "first_donation",
		DisplayName:  "First Donation",
		SanskritName: "अन्नदाता (Annadātā)",
		Slug:         "annadata",
		Description:  "Unlocked on your very first food donation!",
		IconURL:      "https://cdn-icons-png.flaticon.com/512/2913/2913501.png",
		Level:        1,
		Metric:       MetricDonationCount,
		Threshold:    1,
	},
	{
		Name:         "kind_heart",
		DisplayName:  "Kind Heart",
		SanskritName: "करुणामयः (Karuṇāmayaḥ)",
		Slug:         "karunamaya",
		Description:  "Awarded for a donation verified as safe and high quality.",
		IconURL:      "https://cdn-icons-png.flaticon.com/512/2107/2107845.png",
		Level:        1,
		Metric:       MetricSafeCount,
		Threshold:    1,
	},
	{
		Name:         "food_saver",
		DisplayName:  "Food Saver",
		SanskritName: "अन्नरक्षकः (Annarakṣakaḥ)",
		Slug:         "annarakshaka",
		Description:  "Saved 10kg+ of food waste.",
		IconURL:      "https://cdn-icons-png.flaticon.com/512/3075/3075977.png",
		Level:        2,
		Metric:       MetricMassKg,
		Threshold:    10,
	},
	{
		Name:         "community_hero",
		DisplayName:  "Community Hero",
		SanskritName: "लोकसेवकः (Lokasevakaḥ)",
		Slug:         "lokasevaka",
		Description:  "Connected with 5+ NGOs.",
		IconURL:      "https://cdn-icons-png.flaticon.com/512/4341/4341139.png",
		Level:        2,
		Metric:       MetricClaimCount,
		Threshold:    5,
	},
	{
		Name:         "regular_giver",
		DisplayName:  "Regular Giver",
		SanskritName: "दानशीलः (Dānaśīlaḥ)",
		Slug:         "danashila",
		Description:  "Listed 10 donations.",
		IconURL:      "https://cdn-icons-png.flaticon.com/512/3349/3349234.png",
		Level:        2,
		Metric:       MetricDonationCount,
		Threshold:    10,
	},
	{
		Name:         "green_guardian",
		DisplayName:  "Green Guardian",
		SanskritName: "प्रकृतिरक्षकः (Prakṛtirakṣakaḥ)",
		Slug:         "prakritirakshaka",
		Description:  "Avoided 25kg of CO2 emissions.",
		IconURL:      "https://cdn-icons-png.flaticon.com/512/2913/2913465.png",
		Level:        3,
		Metric:       MetricEmissionsKg,
		Threshold:    25,
	},
	{
		Name:         "impact_champion",
		DisplayName:  "Impact Champion",
		SanskritName: "अन्नपूर्णा (Annapūrṇā)",
		Slug:         "annapurna",
		Description:  "Served 100+ meals.",
		IconURL:      "https://cdn-icons-png.flaticon.com/512/3135/3135783.png",
		Level:        3,
		Metric:       MetricMeals,
		Threshold:    100,
	},
}

// FindAchievement looks a catalog entry up by its stable name.
func FindAchievement(catalog []Achievement, name string) (Achievement, bool) {
	for _, a := range catalog {
		if a.Name == name {
			return a, true
		}
	}
	return Achievement{}, false
}

// UserBadge is a persisted grant row.
type UserBadge struct {
	ID              uuid.UUID `json:"id"`
	DonorID         uuid.UUID `json:"user_id"`
	AchievementName string    `json:"achievement_name"`
	UnlockedAt      time.Time `json:"unlocked_at"`
}

// BadgeView joins a grant with its catalog metadata for the profile screen.
type BadgeView struct {
	ID           uuid.UUID `json:"id"`
	BadgeName    string    `json:"badge_name"`
	SanskritName string    `json:"sanskrit_name"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description"`
	IconURL      string    `json:"icon_url"`
	Level        int       `json:"level"`
	UnlockedAt   time.Time `json:"unlocked_at"`
}

// AchievementProgress is one catalog row annotated for a specific donor.
type AchievementProgress struct {
	Achievement
	Current    float64    `json:"current"`
	Earned     bool       `json:"earned"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
}
