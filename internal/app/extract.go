package app

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/pankajsagvekar/meal-mitra/internal/domain"
	"github.com/pankajsagvekar/meal-mitra/pkg/extractorclient"
)

// Extractor turns free text into structured attributes.
type Extractor interface {
	Extract(ctx context.Context, text string, cookedAt *time.Time) (*domain.Attributes, error)
}

// RemoteExtractor adapts the HTTP extraction client to Extractor.
type RemoteExtractor struct {
	client *extractorclient.Client
}

func NewRemoteExtractor(client *extractorclient.Client) *RemoteExtractor {
	return &RemoteExtractor{client: client}
}

func (e *RemoteExtractor) Extract(ctx context.Context, text string, cookedAt *time.Time) (*domain.Attributes, error) {
	resp, err := e.client.Extract(ctx, text, cookedAt)
	if err != nil {
		return nil, err
	}
	attrs := &domain.Attributes{
		Food:      placeholderIfBlank(resp.Food),
		Quantity:  placeholderIfBlank(resp.Quantity),
		Location:  placeholderIfBlank(resp.Location),
		SafeUntil: resp.SafeUntil,
		CookedAt:  resp.CookedAt,
	}
	if resp.Price != nil && *resp.Price >= 0 {
		attrs.Price = *resp.Price
	}
	if resp.IsNGOOnly != nil {
		attrs.IsNGOOnly = *resp.IsNGOOnly
	}
	if attrs.CookedAt == nil {
		attrs.CookedAt = cookedAt
	}
	return attrs, nil
}

var (
	fallbackQuantityPattern = regexp.MustCompile(`(\d+(?:\.\d+)?\s?(?:kgs|kg|kilograms|kilogram|grams|gram|g|plates|packets))\b`)
	fallbackLocationPattern = regexp.MustCompile(`\b(ghar|home|office|canteen)\b`)
	fallbackFoodKeywords    = []string{"chawal", "rice", "dal", "sabzi", "roti", "bread"}
)

// ParseAttributesFallback is the deterministic keyword parser used whenever the
// extraction service is unavailable. Anything it cannot find is left as the
// placeholder and no deadline is derived.
func ParseAttributesFallback(text string, cookedAt *time.Time) domain.Attributes {
	lower := strings.ToLower(text)
	attrs := domain.Attributes{
		Food:     domain.Placeholder,
		Quantity: domain.Placeholder,
		Location: domain.Placeholder,
		CookedAt: cookedAt,
	}

	if m := fallbackQuantityPattern.FindStringSubmatch(lower); m != nil {
		attrs.Quantity = m[1]
	}
	for _, keyword := range fallbackFoodKeywords {
		if strings.Contains(lower, keyword) {
			attrs.Food = keyword
			break
		}
	}
	if m := fallbackLocationPattern.FindStringSubmatch(lower); m != nil {
		attrs.Location = m[1]
	}
	return attrs
}

func placeholderIfBlank(value string) string {
	if strings.TrimSpace(value) == "" {
		return domain.Placeholder
	}
	return strings.TrimSpace(value)
}

// extractAttributes never fails: a nil extractor, an error or a timeout all
// fall through to the local parser.
func (s *Service) extractAttributes(ctx context.Context, text string, cookedAt *time.Time) domain.Attributes {
	if s.extractor == nil {
		return ParseAttributesFallback(text, cookedAt)
	}

	extractCtx, cancel := context.WithTimeout(ctx, s.extractTimeout)
	defer cancel()

	attrs, err := s.extractor.Extract(extractCtx, text, cookedAt)
	if err != nil || attrs == nil {
		log.Printf("level=warn component=extractor msg=\"extraction failed; using fallback parser\" err=%v", err)
		return ParseAttributesFallback(text, cookedAt)
	}
	return *attrs
}
