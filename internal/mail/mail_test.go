package mail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

type countingChannel struct {
	name  string
	err   error
	calls int
	last  ResetMessage
}

func (c *countingChannel) Name() string {
	return c.name
}

func (c *countingChannel) SendReset(_ context.Context, message ResetMessage) error {
	c.calls++
	c.last = message
	return c.err
}

func TestSenderUsesPrimaryWhenItSucceeds(t *testing.T) {
	primary := &countingChannel{name: "primary"}
	fallback := &countingChannel{name: "fallback"}
	sender, err := NewSender(SenderConfig{Primary: primary, Fallback: fallback, ResetURL: "https://waypoint.example/reset"})
	if err != nil {
		t.Fatalf("failed to construct sender: %v", err)
	}

	if err := sender.SendPasswordReset(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls != 1 || fallback.calls != 0 {
		t.Fatalf("expected only primary to run, got %d/%d", primary.calls, fallback.calls)
	}
	if primary.last.Link != "https://waypoint.example/reset?email=user%40example.com" {
		t.Fatalf("unexpected reset link %q", primary.last.Link)
	}
}

func TestSenderFallsBackExactlyOnce(t *testing.T) {
	primary := &countingChannel{name: "primary", err: errors.New("api down")}
	fallback := &countingChannel{name: "fallback"}
	sender, _ := NewSender(SenderConfig{Primary: primary, Fallback: fallback})

	if err := sender.SendPasswordReset(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Fatalf("expected one call each, got %d/%d", primary.calls, fallback.calls)
	}
}

func TestSenderReportsDeliveryFailure(t *testing.T) {
	primary := &countingChannel{name: "primary", err: errors.New("api down")}
	fallback := &countingChannel{name: "fallback", err: errors.New("smtp refused")}
	sender, _ := NewSender(SenderConfig{Primary: primary, Fallback: fallback})

	err := sender.SendPasswordReset(context.Background(), "user@example.com")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected delivery failure, got %v", err)
	}
	if fallback.calls != 1 {
		t.Fatalf("expected fallback to run once, got %d", fallback.calls)
	}
	if !strings.Contains(err.Error(), "smtp refused") {
		t.Fatalf("expected channel errors to be joined, got %v", err)
	}
}

func TestSenderRejectsInvalidRecipient(t *testing.T) {
	primary := &countingChannel{name: "primary"}
	sender, _ := NewSender(SenderConfig{Primary: primary})
	if err := sender.SendPasswordReset(context.Background(), "not-an-address"); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("expected invalid recipient, got %v", err)
	}
	if primary.calls != 0 {
		t.Fatalf("expected no delivery attempt")
	}
	if _, err := NewSender(SenderConfig{}); err == nil {
		t.Fatalf("expected error without channels")
	}
}

func TestHTTPChannelPostsTemplateRequest(t *testing.T) {
	var received templateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))
	defer server.Close()

	channel, err := NewHTTPChannel(HTTPChannelConfig{URL: server.URL, ServiceID: "svc", TemplateID: "tpl", PublicKey: "pub", Client: server.Client()})
	if err != nil {
		t.Fatalf("failed to construct channel: %v", err)
	}
	message := ResetMessage{To: "user@example.com", Link: "https://x/reset", AppName: "Waypoint", FromName: "Support", Intro: "hi"}
	if err := channel.SendReset(context.Background(), message); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if received.ServiceID != "svc" || received.TemplateID != "tpl" || received.UserID != "pub" {
		t.Fatalf("unexpected identifiers %+v", received)
	}
	if received.TemplateParams.Email != "user@example.com" || received.TemplateParams.Link != "https://x/reset" {
		t.Fatalf("unexpected template params %+v", received.TemplateParams)
	}
}

func TestHTTPChannelFailsOnErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "The public key is invalid", http.StatusBadRequest)
	}))
	defer server.Close()

	channel, _ := NewHTTPChannel(HTTPChannelConfig{URL: server.URL, ServiceID: "svc", TemplateID: "tpl", PublicKey: "pub"})
	err := channel.SendReset(context.Background(), ResetMessage{To: "user@example.com"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestSMTPChannelComposesMIMEMessage(t *testing.T) {
	var (
		gotAddr string
		gotAuth smtp.Auth
		gotFrom string
		gotTo   []string
		gotBody string
	)
	channel, err := NewSMTPChannel(SMTPChannelConfig{
		Address:  "smtp.example.com:587",
		Username: "mailer",
		Password: "pw",
		From:     "Waypoint <noreply@example.com>",
		Clock:    func() time.Time { return time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC) },
		Send: func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotAuth, gotFrom, gotTo, gotBody = addr, auth, from, to, string(msg)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("failed to construct channel: %v", err)
	}

	message := ResetMessage{To: "user@example.com", Link: "https://x/reset?email=user", AppName: "Waypoint", FromName: "Waypoint Support", Intro: "Click below"}
	if err := channel.SendReset(context.Background(), message); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotAuth == nil || gotFrom != "noreply@example.com" {
		t.Fatalf("unexpected envelope %q %v %q", gotAddr, gotAuth, gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "user@example.com" {
		t.Fatalf("unexpected recipients %v", gotTo)
	}
	for _, fragment := range []string{"Subject: Reset your Waypoint password", "Content-Type: text/plain", "https://x/reset?email=user", "Message-Id:"} {
		if !strings.Contains(gotBody, fragment) {
			t.Fatalf("expected %q in message:\n%s", fragment, gotBody)
		}
	}
}

func TestResetLink(t *testing.T) {
	if got := ResetLink("https://a.example/reset?src=app", "x@y.z"); got != "https://a.example/reset?email=x%40y.z&src=app" {
		t.Fatalf("unexpected link %q", got)
	}
	if got := ResetLink("", "x@y.z"); got != "" {
		t.Fatalf("expected empty link without base, got %q", got)
	}
}
