package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pankajsagvekar/meal-mitra/internal/domain"
	"github.com/pankajsagvekar/meal-mitra/pkg/mailer"
)

// Delivery turns queued notification events into email.
type Delivery struct {
	sender  mailer.Sender
	timeout time.Duration
	logger  *slog.Logger
}

func NewDelivery(sender mailer.Sender, timeout time.Duration, logger *slog.Logger) *Delivery {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Delivery{sender: sender, timeout: timeout, logger: logger}
}

// HandleMessage is a rabbitmq consumer callback. Returning false asks for a
// redelivery, so only transient send failures do that.
func (d *Delivery) HandleMessage(body []byte) bool {
	var event domain.NotificationEvent
	if err := json.Unmarshal(body, &event); err != nil {
		d.logger.Error("malformed notification event; dropping", "error", err)
		return true
	}
	if strings.TrimSpace(event.Recipient) == "" {
		d.logger.Warn("notification event without recipient; dropping", "event_id", event.ID, "kind", event.Kind)
		return true
	}

	subject, text, ok := RenderNotification(event)
	if !ok {
		d.logger.Warn("unknown notification kind; dropping", "event_id", event.ID, "kind", event.Kind)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sender.Send(ctx, event.Recipient, subject, text); err != nil {
		d.logger.Error("notification delivery failed", "event_id", event.ID, "kind", event.Kind, "error", err)
		return false
	}
	d.logger.Info("notification delivered", "event_id", event.ID, "kind", event.Kind)
	return true
}

// RenderNotification builds the subject and plain-text body for an event.
func RenderNotification(event domain.NotificationEvent) (string, string, bool) {
	p := event.Payload
	food := p["food"]
	if food == "" || food == domain.Placeholder {
		food = "your food donation"
	}

	switch event.Kind {
	case domain.NotifyHandoverCode:
		return "Your Meal Mitra pickup code",
			fmt.Sprintf("You claimed %s at %s.\n\nShow this code to the donor at pickup: %s\nThe code is valid until %s.\n\nDonation: %s\n",
				food, p["location"], p["code"], p["expires_at"], p["donation_id"]), true
	case domain.NotifyDonationClaimed:
		claimant := p["claimed_by"]
		if claimant == "" {
			claimant = "someone nearby"
		}
		return "Your donation was claimed",
			fmt.Sprintf("%s has been claimed by %s.\n\nAsk for their pickup code and verify it in the app to complete the handover.\n\nDonation: %s\n",
				food, claimant, p["donation_id"]), true
	case domain.NotifyDonationCompleted:
		return "Handover complete",
			fmt.Sprintf("The handover of %s is complete. Thank you for helping reduce food waste.\n\nDonation: %s\n",
				food, p["donation_id"]), true
	case domain.NotifyHandoverExpired:
		return "Your pickup code expired",
			fmt.Sprintf("Your pickup code for %s expired before the handover was verified. The listing is open again and may be claimed by others.\n\nDonation: %s\n",
				food, p["donation_id"]), true
	case domain.NotifyBadgeUnlocked:
		name := p["badge_name"]
		if name == "" {
			name = p["achievement"]
		}
		return fmt.Sprintf("Badge unlocked: %s", name),
			fmt.Sprintf("Congratulations! You unlocked the %s badge (level %s) on Meal Mitra.\n", name, p["level"]), true
	default:
		return "", "", false
	}
}
