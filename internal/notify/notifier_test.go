package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testEvent() Event {
	return Event{
		Kind:     KindPayoutCompleted,
		OwnerID:  "owner-1",
		PayoutID: "payout-abc",
		Amount:   decimal.RequireFromString("80.0000"),
		Currency: "USD",
		At:       time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC),
	}
}

func TestWebhookNotifierSuccess(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if received["kind"] != "payout_completed" {
		t.Fatalf("kind = %q", received["kind"])
	}
	if received["amount"] != "80.0000" {
		t.Fatalf("amount = %q", received["amount"])
	}
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testEvent()); err == nil {
		t.Fatal("non-2xx status should fail delivery")
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id = %q", received["chat_id"])
	}
	if !strings.Contains(received["text"], "payout_completed") {
		t.Fatalf("text = %q", received["text"])
	}
	if !strings.Contains(received["text"], "80.0000 USD") {
		t.Fatalf("text should carry the amount, got %q", received["text"])
	}
}

func TestTelegramNotifierNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testEvent()); err == nil {
		t.Fatal("ok=false should fail delivery")
	}
}

type stubNotifier struct {
	events []Event
	err    error
}

func (s *stubNotifier) Notify(_ context.Context, event Event) error {
	s.events = append(s.events, event)
	return s.err
}

func TestMultiFansOutPastFailures(t *testing.T) {
	failing := &stubNotifier{err: errors.New("boom")}
	working := &stubNotifier{}

	multi := Multi{failing, working}
	err := multi.Notify(context.Background(), testEvent())
	if err == nil {
		t.Fatal("first channel error should surface")
	}
	if len(working.events) != 1 {
		t.Fatal("a failing channel must not stop the others")
	}
}
