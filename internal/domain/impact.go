package domain

import (
	"github.com/google/uuid"
)

// ImpactPolicy holds the conversion constants used by the impact calculator.
type ImpactPolicy struct {
	MealsPerKg   float64
	CO2PerKg     float64
	ValuePerMeal float64
}

// DefaultImpactPolicy is 2 meals and 0.5 kg CO2e per kg, 40 per meal.
var DefaultImpactPolicy = ImpactPolicy{
	MealsPerKg:   2,
	CO2PerKg:     0.5,
	ValuePerMeal: 40,
}

// ImpactMetrics is the cumulative impact of one donor.
type ImpactMetrics struct {
	MassSavedKg        float64 `json:"kg_saved"`
	MealsEquivalent    int64   `json:"meals_served"`
	EmissionsAvoidedKg float64 `json:"co2_reduced"`
	MonetaryValue      float64 `json:"money_saved"`
	TotalDonations     int     `json:"total_donations"`
	ClaimedCount       int     `json:"claimed_count"`
	SafeCount          int     `json:"safe_count"`
}

// DashboardStats are the headline counters on the donor dashboard.
type DashboardStats struct {
	TotalDonations       int `json:"total_donations"`
	TotalClaimedByOthers int `json:"total_claimed_by_others"`
	ActiveListings       int `json:"active_listings"`
}

// Dashboard is the payload for GET /dashboard.
type Dashboard struct {
	DonorID        uuid.UUID      `json:"user_id"`
	Stats          DashboardStats `json:"stats"`
	Impact         ImpactMetrics  `json:"impact"`
	RecentActivity []Donation     `json:"recent_activity"`
}
