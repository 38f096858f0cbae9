package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pankajsagvekar/meal-mitra/internal/domain"
)

type capturedMail struct {
	to, subject, body string
}

type stubSender struct {
	sent []capturedMail
	err  error
}

func (s *stubSender) Send(ctx context.Context, to, subject, body string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, capturedMail{to: to, subject: subject, body: body})
	return nil
}

func encodeEvent(t *testing.T, event domain.NotificationEvent) []byte {
	t.Helper()
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to encode event: %v", err)
	}
	return raw
}

func TestDeliveryHandleMessage_SendsHandoverCode(t *testing.T) {
	sender := &stubSender{}
	d := NewDelivery(sender, time.Second, discardLogger())

	ok := d.HandleMessage(encodeEvent(t, domain.NotificationEvent{
		ID:        uuid.New(),
		Kind:      domain.NotifyHandoverCode,
		Recipient: "ngo@example.org",
		Payload: map[string]string{
			"food":       "chawal",
			"location":   "office",
			"code":       "482913",
			"expires_at": "2026-01-10T13:00:00Z",
		},
	}))
	if !ok {
		t.Fatalf("expected message to be acknowledged")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one mail, got %d", len(sender.sent))
	}
	mail := sender.sent[0]
	if mail.to != "ngo@example.org" || !strings.Contains(mail.body, "482913") {
		t.Fatalf("unexpected mail %+v", mail)
	}
}

func TestDeliveryHandleMessage_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		body   []byte
		err    error
		wantOK bool
	}{
		{name: "malformed json is dropped", body: []byte("{"), wantOK: true},
		{name: "missing recipient is dropped", body: encodeEvent(t, domain.NotificationEvent{Kind: domain.NotifyDonationClaimed}), wantOK: true},
		{name: "unknown kind is dropped", body: encodeEvent(t, domain.NotificationEvent{Kind: "mystery", Recipient: "a@example.org"}), wantOK: true},
		{
			name:   "send failure asks for redelivery",
			body:   encodeEvent(t, domain.NotificationEvent{Kind: domain.NotifyDonationCompleted, Recipient: "a@example.org"}),
			err:    errors.New("smtp down"),
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDelivery(&stubSender{err: tt.err}, time.Second, discardLogger())
			if got := d.HandleMessage(tt.body); got != tt.wantOK {
				t.Fatalf("expected %v, got %v", tt.wantOK, got)
			}
		})
	}
}

func TestRenderNotification_CoversEveryKind(t *testing.T) {
	kinds := []domain.NotificationKind{
		domain.NotifyHandoverCode,
		domain.NotifyDonationClaimed,
		domain.NotifyDonationCompleted,
		domain.NotifyHandoverExpired,
		domain.NotifyBadgeUnlocked,
	}
	for _, kind := range kinds {
		subject, body, ok := RenderNotification(domain.NotificationEvent{Kind: kind, Payload: map[string]string{"food": domain.Placeholder}})
		if !ok || subject == "" || body == "" {
			t.Fatalf("kind %s rendered empty", kind)
		}
		if strings.Contains(body, domain.Placeholder) {
			t.Fatalf("kind %s leaked placeholder text", kind)
		}
	}
}
