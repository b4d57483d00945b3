package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/snikic01/BelexEmailerFinal-v1.0/models"
)

// ErrNoTicker means an inbound request named no recognisable ticker.
var ErrNoTicker = errors.New("pipeline: no ticker in request")

// MailHandler answers "price of TICKER" requests from the mailbox watcher.
type MailHandler struct {
	orchestrator *Orchestrator
	tickers      map[string]struct{}
	labels       map[string]struct{}
	answered     *lru.Cache[string, struct{}]
	logger       *slog.Logger
}

// NewMailHandler builds a handler remembering the last size answered
// message ids.
func NewMailHandler(o *Orchestrator, size int) (*MailHandler, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("create answered cache: %w", err)
	}
	tickers := make(map[string]struct{}, len(o.cfg.Tickers))
	for _, t := range o.cfg.Tickers {
		tickers[strings.ToUpper(t)] = struct{}{}
	}
	labels := make(map[string]struct{}, len(o.cfg.LabelTokens))
	for _, l := range o.cfg.LabelTokens {
		labels[strings.ToUpper(l)] = struct{}{}
	}
	return &MailHandler{
		orchestrator: o,
		tickers:      tickers,
		labels:       labels,
		answered:     cache,
		logger:       o.logger,
	}, nil
}

// Handle looks up the requested ticker and replies to the sender.
func (h *MailHandler) Handle(ctx context.Context, msg models.InboundMail) error {
	key := msg.MessageID
	if key == "" {
		key = fmt.Sprintf("uid:%d", msg.UID)
	}
	if h.answered.Contains(key) {
		h.logger.Debug("request already answered", slog.String("message_id", key))
		return nil
	}
	if msg.From == "" {
		return fmt.Errorf("request %s has no sender", key)
	}

	ticker, ok := h.findTicker(msg.Subject)
	if !ok {
		return fmt.Errorf("%q: %w", msg.Subject, ErrNoTicker)
	}

	match, err := h.orchestrator.LookupPrice(ctx, ticker)
	if err != nil {
		return err
	}

	reply := models.Message{
		To:      []string{msg.From},
		Subject: "Re: " + msg.Subject,
		Text:    fmt.Sprintf("%s\nCena: %.2f RSD\n", ticker, match.Value),
	}
	if err := h.orchestrator.send(ctx, "reply", reply); err != nil {
		return err
	}
	h.answered.Add(key, struct{}{})
	h.logger.Info("price request answered",
		slog.String("ticker", ticker),
		slog.String("to", msg.From),
		slog.Float64("price", match.Value),
	)
	return nil
}

// findTicker prefers configured tickers and otherwise accepts a four letter
// word written in capitals, the exchange's ticker shape.
func (h *MailHandler) findTicker(subject string) (string, bool) {
	words := strings.FieldsFunc(subject, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if _, ok := h.tickers[strings.ToUpper(w)]; ok {
			return strings.ToUpper(w), true
		}
	}
	for _, w := range words {
		if _, label := h.labels[w]; label {
			continue
		}
		if len(w) == 4 && isUpperASCII(w) {
			return w, true
		}
	}
	return "", false
}

func isUpperASCII(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
