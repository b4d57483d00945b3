package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/snikic01/BelexEmailerFinal-v1.0/models"
)

func TestMailHandlerAnswersOnce(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, map[string]string{cfg.QuoteURL("NIIS"): quotePage("1.020442")})
	handler, err := NewMailHandler(h.orch, 8)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	msg := models.InboundMail{UID: 7, MessageID: "<a1@example.com>", From: "ana@example.com", Subject: "Cena za niis?"}
	for i := 0; i < 2; i++ {
		if err := handler.Handle(context.Background(), msg); err != nil {
			t.Fatalf("handle #%d: %v", i, err)
		}
	}

	sent := h.notifier.messages()
	if len(sent) != 1 {
		t.Fatalf("replies = %d, want 1", len(sent))
	}
	reply := sent[0]
	if reply.To[0] != "ana@example.com" || reply.Subject != "Re: Cena za niis?" {
		t.Fatalf("reply = %+v", reply)
	}
	if !strings.Contains(reply.Text, "NIIS") || !strings.Contains(reply.Text, "1020.44") {
		t.Fatalf("reply text = %q", reply.Text)
	}
	if _, ok := h.store.Price("NIIS"); ok {
		t.Fatalf("mail request should not change price history")
	}
}

func TestMailHandlerUnknownTicker(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, map[string]string{cfg.QuoteURL("AERO"): quotePage("2.450")})
	handler, err := NewMailHandler(h.orch, 8)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	tests := []struct {
		subject string
		wantErr bool
		noTick  bool
	}{
		{subject: "CENA AERO"},
		{subject: "koliko je cena?", wantErr: true, noTick: true},
		{subject: "CENA KMBN", wantErr: true},
	}
	for i, tt := range tests {
		msg := models.InboundMail{UID: uint32(i + 1), From: "ana@example.com", Subject: tt.subject}
		err := handler.Handle(context.Background(), msg)
		if (err != nil) != tt.wantErr {
			t.Fatalf("%q: err = %v, wantErr %v", tt.subject, err, tt.wantErr)
		}
		if errors.Is(err, ErrNoTicker) != tt.noTick {
			t.Fatalf("%q: err = %v, want no-ticker %v", tt.subject, err, tt.noTick)
		}
	}

	sent := h.notifier.messages()
	if len(sent) != 1 || !strings.HasPrefix(sent[0].Text, "AERO\n") {
		t.Fatalf("replies = %+v", sent)
	}
}
