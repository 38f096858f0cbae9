package app

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pankajsagvekar/meal-mitra/internal/domain"
)

var massPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(kilograms|kilogram|kgs|kg|grams|gram|gms|gm|g)\b`)

// ParseMassKg reads a mass in kilograms out of a quantity string such as
// "10 kg" or "500g". Counts like "4 plates" and unparseable text yield 0.
func ParseMassKg(quantity string) float64 {
	m := massPattern.FindStringSubmatch(strings.ToLower(quantity))
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil || value < 0 {
		return 0
	}
	switch m[2] {
	case "grams", "gram", "gms", "gm", "g":
		return value / 1000
	default:
		return value
	}
}

// CalculateImpact derives a donor's cumulative metrics from their history.
// Mass is credited once a listing is Claimed, not only when Completed.
func CalculateImpact(policy domain.ImpactPolicy, donations []domain.Donation) domain.ImpactMetrics {
	var metrics domain.ImpactMetrics
	metrics.TotalDonations = len(donations)

	for _, d := range donations {
		if d.Food != "" && d.Food != domain.Placeholder {
			metrics.SafeCount++
		}
		if d.Status != domain.StatusClaimed && d.Status != domain.StatusCompleted {
			continue
		}
		metrics.ClaimedCount++
		metrics.MassSavedKg += ParseMassKg(d.Quantity)
	}

	metrics.MealsEquivalent = int64(math.Floor(metrics.MassSavedKg * policy.MealsPerKg))
	metrics.EmissionsAvoidedKg = metrics.MassSavedKg * policy.CO2PerKg
	metrics.MonetaryValue = float64(metrics.MealsEquivalent) * policy.ValuePerMeal
	return metrics
}
