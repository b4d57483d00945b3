// Package pipeline runs the periodic news and price checks and answers
// price requests arriving by mail.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/snikic01/BelexEmailerFinal-v1.0/config"
	"github.com/snikic01/BelexEmailerFinal-v1.0/locator"
	"github.com/snikic01/BelexEmailerFinal-v1.0/metrics"
	"github.com/snikic01/BelexEmailerFinal-v1.0/models"
	"github.com/snikic01/BelexEmailerFinal-v1.0/notify"
	"github.com/snikic01/BelexEmailerFinal-v1.0/parser"
	"github.com/snikic01/BelexEmailerFinal-v1.0/pdftext"
	"github.com/snikic01/BelexEmailerFinal-v1.0/scraper"
)

// ErrNoPrice means a quote page was fetched but no price could be located.
var ErrNoPrice = errors.New("pipeline: no price available")

// Options wires an Orchestrator. Pages fetches HTML (through the browser
// pool when enabled), Documents fetches linked files over HTTP.
type Options struct {
	Config    *config.Config
	Pages     scraper.Fetcher
	Documents scraper.Fetcher
	Notifier  notify.Notifier
	Store     *Store
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Orchestrator processes every configured subject once per tick.
type Orchestrator struct {
	cfg        *config.Config
	pages      scraper.Fetcher
	documents  scraper.Fetcher
	notifier   notify.Notifier
	store      *Store
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	loc        *time.Location
	strategies []locator.Strategy
}

// New builds an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Documents == nil {
		opts.Documents = opts.Pages
	}

	strategies := locator.DefaultStrategies(opts.Config.LabelTokens)
	if opts.Config.PriceSelector != "" {
		strategies = []locator.Strategy{locator.SelectorStrategy(opts.Config.PriceSelector)}
	}

	return &Orchestrator{
		cfg:        opts.Config,
		pages:      opts.Pages,
		documents:  opts.Documents,
		notifier:   opts.Notifier,
		store:      opts.Store,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
		loc:        opts.Config.Location(),
		strategies: strategies,
	}
}

// Run performs a pass immediately and then once per poll interval until ctx
// is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.RunOnce(ctx)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.RunOnce(ctx)
		}
	}
}

// RunOnce processes news sources and then tickers, in configuration order.
// A failing subject is logged and never stops the pass.
func (o *Orchestrator) RunOnce(ctx context.Context) models.RunResult {
	result := models.RunResult{StartTime: o.now()}

	for _, source := range o.cfg.NewsURLs {
		o.runSubject(ctx, &result, source, func() (int, error) {
			return o.processNews(ctx, source)
		})
	}
	for _, ticker := range o.cfg.Tickers {
		o.runSubject(ctx, &result, ticker, func() (int, error) {
			return o.processPrice(ctx, ticker)
		})
	}

	result.EndTime = o.now()
	o.logger.Info("poll pass complete",
		slog.Int("subjects", result.Subjects),
		slog.Int("failures", result.Failures),
		slog.Int("notifications", result.Notifications),
		slog.Duration("elapsed", result.EndTime.Sub(result.StartTime)),
	)
	return result
}

func (o *Orchestrator) runSubject(ctx context.Context, result *models.RunResult, subject string, fn func() (int, error)) {
	if ctx.Err() != nil {
		return
	}
	result.Subjects++

	sent, err := func() (sent int, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}()
	result.Notifications += sent
	if err != nil {
		result.Failures++
		result.FailedSubject = append(result.FailedSubject, subject)
		o.logger.Error("subject failed", slog.String("subject", subject), slog.Any("error", err))
	}
}

// processNews notifies about every unseen item dated today on a listing page.
func (o *Orchestrator) processNews(ctx context.Context, source string) (int, error) {
	body, err := o.pages.Fetch(ctx, source, scraper.KindHTML).Result()
	if err != nil {
		return 0, fmt.Errorf("fetch news %s: %w", source, err)
	}
	doc, err := locator.ParseDocument(body)
	if err != nil {
		return 0, err
	}

	items := o.newsItems(doc.Query, source)
	today := o.now().In(o.loc)
	log := o.logger.With(slog.String("source", source))

	sent := 0
	var failed error
	for _, item := range items {
		if !item.Date.SameDay(today) {
			continue
		}
		if o.store.Seen(item.Key) {
			log.Debug("news item already sent", slog.String("key", item.Key))
			continue
		}
		if err := o.notifyNews(ctx, item); err != nil {
			log.Warn("news item failed", slog.String("key", item.Key), slog.Any("error", err))
			failed = err
			continue
		}
		sent++
		if err := o.store.MarkSeen(source, item.Key); err != nil {
			return sent, fmt.Errorf("persist seen items: %w", err)
		}
	}
	log.Debug("news checked", slog.Int("items", len(items)), slog.Int("sent", sent))
	return sent, failed
}

// newsItems reads dated, linked rows from a listing.
func (o *Orchestrator) newsItems(doc *goquery.Document, source string) []models.NewsItem {
	base, _ := url.Parse(source)

	var items []models.NewsItem
	doc.Find(o.cfg.NewsRowSelector).Each(func(_ int, row *goquery.Selection) {
		text := locator.Normalize(row.Text())
		date, ok := parser.ExtractDate(text)
		if !ok {
			return
		}
		link := row.Find("a[href]").First()
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		title := locator.Normalize(link.Text())
		if title == "" {
			title = text
		}
		items = append(items, models.NewsItem{
			Key:    ref.String(),
			Title:  title,
			Date:   date,
			Source: source,
		})
	})
	return items
}

func (o *Orchestrator) notifyNews(ctx context.Context, item models.NewsItem) error {
	msg := models.Message{
		To:      o.cfg.Recipients,
		Subject: "BELEX vest: " + item.Title,
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n%s\n%s\n", item.Date, item.Title, item.Key)

	if isPDF(item.Key) {
		data, err := o.documents.Fetch(ctx, item.Key, scraper.KindPDF).Result()
		if err != nil {
			return fmt.Errorf("fetch document: %w", err)
		}
		if content, ok := pdftext.Extract(data, o.logger); ok {
			text.WriteString("\n")
			text.WriteString(content)
			text.WriteString("\n")
		} else {
			o.metrics.IncMiss("pdf_text")
		}
		msg.Attachments = append(msg.Attachments, models.Attachment{
			Filename: documentName(item.Key),
			Data:     data,
			MimeType: "application/pdf",
		})
	}
	msg.Text = text.String()

	return o.send(ctx, "news", msg)
}

// processPrice compares the quoted price with the stored one and notifies on
// a threshold crossing. The new price is stored whenever no notification
// was due or the notification went out.
func (o *Orchestrator) processPrice(ctx context.Context, ticker string) (int, error) {
	match, err := o.LookupPrice(ctx, ticker)
	if err != nil {
		return 0, err
	}

	subject := o.store.Subject(ticker)
	sent := 0
	if subject.LastKnownPrice != nil && *subject.LastKnownPrice > 0 {
		prior := *subject.LastKnownPrice
		change := (match.Value - prior) * 100 / prior
		log := o.logger.With(slog.String("ticker", ticker))
		log.Debug("price checked",
			slog.Float64("price", match.Value),
			slog.Float64("prior", prior),
			slog.Float64("change", change),
			slog.String("strategy", match.Strategy),
		)
		if crosses(change, o.cfg.UpThreshold, o.cfg.DownThreshold) {
			if err := o.send(ctx, "price", priceMessage(o.cfg.Recipients, ticker, match.Value, prior, change)); err != nil {
				return 0, err
			}
			sent++
		}
	}

	rec := models.PriceRecord{Price: match.Value, UpdatedAt: o.now()}
	if err := o.store.SetPrice(ticker, rec); err != nil {
		return sent, fmt.Errorf("persist price: %w", err)
	}
	return sent, nil
}

// LookupPrice fetches the quote page for ticker and locates its price.
func (o *Orchestrator) LookupPrice(ctx context.Context, ticker string) (locator.Match, error) {
	quoteURL := o.cfg.QuoteURL(ticker)
	body, err := o.pages.Fetch(ctx, quoteURL, scraper.KindHTML).Result()
	if err != nil {
		return locator.Match{}, fmt.Errorf("fetch quote %s: %w", quoteURL, err)
	}
	doc, err := locator.ParseDocument(body)
	if err != nil {
		return locator.Match{}, err
	}
	match, ok := locator.Locate(doc, o.strategies)
	if !ok {
		o.metrics.IncMiss("price")
		return locator.Match{}, fmt.Errorf("%s: %w", ticker, ErrNoPrice)
	}
	return match, nil
}

func (o *Orchestrator) send(ctx context.Context, kind string, msg models.Message) error {
	if err := o.notifier.Send(ctx, msg); err != nil {
		o.metrics.IncNotification(kind, "failed")
		return fmt.Errorf("send %s notification: %w", kind, err)
	}
	o.metrics.IncNotification(kind, "sent")
	return nil
}

func crosses(change, up, down float64) bool {
	return change >= up || change <= -down
}

// FormatChange renders a percentage change with an explicit sign.
func FormatChange(change float64) string {
	return fmt.Sprintf("%+.2f%%", change)
}

func priceMessage(to []string, ticker string, price, prior, change float64) models.Message {
	return models.Message{
		To:      to,
		Subject: fmt.Sprintf("%s: %s", strings.ToUpper(ticker), FormatChange(change)),
		Text: fmt.Sprintf("%s\nCena: %.2f RSD\nPrethodna cena: %.2f RSD\nPromena: %s\n",
			strings.ToUpper(ticker), price, prior, FormatChange(change)),
	}
}

func isPDF(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".pdf")
}

func documentName(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return "document.pdf"
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		return "document.pdf"
	}
	return name
}
