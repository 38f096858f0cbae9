package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind is the template a notification is rendered with.
// It is also the suffix of the routing key on the events exchange.
type NotificationKind string

const (
	NotifyHandoverCode      NotificationKind = "handover_code"
	NotifyDonationClaimed   NotificationKind = "donation_claimed"
	NotifyDonationCompleted NotificationKind = "donation_completed"
	NotifyHandoverExpired   NotificationKind = "handover_expired"
	NotifyBadgeUnlocked     NotificationKind = "badge_unlocked"
)

// RoutingKey returns the topic routing key for this kind.
func (k NotificationKind) RoutingKey() string {
	return "notification." + string(k)
}

// NotificationEvent is the envelope published to the broker.
type NotificationEvent struct {
	ID        uuid.UUID         `json:"id"`
	Kind      NotificationKind  `json:"kind"`
	Recipient string            `json:"recipient"`
	Payload   map[string]string `json:"payload"`
	CreatedAt time.Time         `json:"created_at"`
}
