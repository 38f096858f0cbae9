package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestSend_BuildsHeadersAndUsesRelay(t *testing.T) {
	sender := NewSMTPSender(Config{Host: "smtp.example.org", From: "no-reply@mealmitra.org"})
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	sender.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		if a != nil {
			t.Fatalf("expected no auth without username")
		}
		return nil
	}

	if err := sender.Send(context.Background(), "donor@example.org", "Your code\nInjected: x", "Code: 123456\nThanks"); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if gotAddr != "smtp.example.org:587" {
		t.Fatalf("unexpected relay address %q", gotAddr)
	}
	if gotFrom != "no-reply@mealmitra.org" || len(gotTo) != 1 || gotTo[0] != "donor@example.org" {
		t.Fatalf("unexpected envelope from=%q to=%v", gotFrom, gotTo)
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: Your code Injected: x\r\n") {
		t.Fatalf("expected subject newlines to be flattened, got %q", msg)
	}
	if !strings.HasSuffix(msg, "Code: 123456\r\nThanks") {
		t.Fatalf("unexpected body in %q", msg)
	}
}

func TestSend_RejectsHeaderInjectionInRecipient(t *testing.T) {
	sender := NewSMTPSender(Config{Host: "smtp.example.org"})
	sender.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatalf("relay must not be called")
		return nil
	}
	if err := sender.Send(context.Background(), "a@example.org\r\nBcc: b@example.org", "s", "b"); err == nil {
		t.Fatalf("expected recipient with CRLF to be rejected")
	}
}

func TestSend_ReturnsWhenContextExpires(t *testing.T) {
	sender := NewSMTPSender(Config{Host: "smtp.example.org"})
	release := make(chan struct{})
	defer close(release)
	sender.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		<-release
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sender.Send(ctx, "donor@example.org", "s", "b"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestSend_NotConfigured(t *testing.T) {
	sender := NewSMTPSender(Config{})
	if err := sender.Send(context.Background(), "donor@example.org", "s", "b"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
