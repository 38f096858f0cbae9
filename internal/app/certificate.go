package app

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"

	"github.com/pankajsagvekar/meal-mitra/internal/domain"
)

// ImpactCertificate renders a one-page PDF summarising a donor's impact and badges.
func (s *Service) ImpactCertificate(ctx context.Context, donor *domain.Principal) ([]byte, error) {
	if donor == nil {
		return nil, ErrForbidden
	}
	s.sweep(ctx)

	donations, err := s.donorDonations(ctx, donor.ID)
	if err != nil {
		return nil, err
	}
	metrics := CalculateImpact(s.policy, donations)
	badges, err := s.BadgeViews(ctx, donor)
	if err != nil {
		return nil, err
	}
	return renderCertificate(donor, metrics, badges, s.now())
}

func renderCertificate(donor *domain.Principal, metrics domain.ImpactMetrics, badges []domain.BadgeView, issuedAt time.Time) ([]byte, error) {
	qrPNG, err := qrcode.Encode(fmt.Sprintf("mealmitra:impact:%s:%d", donor.ID, issuedAt.Unix()), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to encode certificate qr: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Meal Mitra Impact Certificate", true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 22)
	pdf.CellFormat(0, 15, "Certificate of Impact", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 12)
	pdf.MultiCell(0, 8, tr(fmt.Sprintf(
		"This certifies that %s has helped rescue surplus food through Meal Mitra.",
		donor.DisplayName,
	)), "", "C", false)
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(0, 10, "Impact so far")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 12)
	rows := [][2]string{
		{"Donations listed", fmt.Sprintf("%d", metrics.TotalDonations)},
		{"Donations claimed", fmt.Sprintf("%d", metrics.ClaimedCount)},
		{"Food saved", fmt.Sprintf("%.1f kg", metrics.MassSavedKg)},
		{"Meals served", fmt.Sprintf("%d", metrics.MealsEquivalent)},
		{"CO2 avoided", fmt.Sprintf("%.1f kg", metrics.EmissionsAvoidedKg)},
		{"Value rescued", fmt.Sprintf("Rs. %.0f", metrics.MonetaryValue)},
	}
	for _, row := range rows {
		pdf.CellFormat(70, 8, row[0], "B", 0, "L", false, 0, "")
		pdf.CellFormat(50, 8, row[1], "B", 1, "R", false, 0, "")
	}
	pdf.Ln(6)

	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(0, 10, "Badges")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 12)
	if len(badges) == 0 {
		pdf.Cell(0, 8, "No badges yet.")
		pdf.Ln(8)
	}
	for _, b := range badges {
		pdf.Cell(0, 8, tr(fmt.Sprintf("Level %d  %s  (%s)", b.Level, b.BadgeName, b.UnlockedAt.Format("02 Jan 2006"))))
		pdf.Ln(8)
	}

	imgOpts := gofpdf.ImageOptions{ImageType: "png"}
	pdf.RegisterImageOptionsReader("qr", imgOpts, bytes.NewReader(qrPNG))
	pdf.ImageOptions("qr", 150, 240, 40, 40, false, imgOpts, 0, "")

	pdf.SetY(270)
	pdf.SetFont("Arial", "I", 9)
	pdf.CellFormat(0, 8, fmt.Sprintf("Issued %s", issuedAt.UTC().Format(time.RFC1123)), "T", 0, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render certificate: %w", err)
	}
	return buf.Bytes(), nil
}
