package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/snikic01/BelexEmailerFinal-v1.0/config"
	"github.com/snikic01/BelexEmailerFinal-v1.0/metrics"
	"github.com/snikic01/BelexEmailerFinal-v1.0/models"
	"github.com/snikic01/BelexEmailerFinal-v1.0/scraper"
)

const (
	newsURL  = "https://belex.test/vesti"
	quoteFmt = "https://belex.test/quote/%s"
)

var fixedNow = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	calls  map[string]int
}

func newFakeFetcher(bodies map[string]string) *fakeFetcher {
	return &fakeFetcher{bodies: bodies, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, kind scraper.ContentKind) scraper.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	body, ok := f.bodies[url]
	if !ok {
		return scraper.Outcome{Kind: scraper.OutcomePermanent, ContentKind: kind, Err: fmt.Errorf("404 %s", url), Attempts: 1}
	}
	return scraper.Outcome{Kind: scraper.OutcomeSuccess, Body: []byte(body), ContentKind: kind, Attempts: 1}
}

func (f *fakeFetcher) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[url] = body
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Message
	err  error
}

func (n *recordingNotifier) Send(ctx context.Context, msg models.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) messages() []models.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Message(nil), n.sent...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.TimeZone = "UTC"
	cfg.NewsURLs = nil
	cfg.Tickers = []string{"NIIS"}
	cfg.QuoteURLTemplate = quoteFmt
	cfg.UpThreshold = 5
	cfg.DownThreshold = 5
	cfg.Recipients = []string{"investor@example.com"}
	cfg.SeenFile = filepath.Join(dir, "seen.json")
	cfg.PricesFile = filepath.Join(dir, "prices.json")
	return cfg
}

type harness struct {
	cfg      *config.Config
	pages    *fakeFetcher
	notifier *recordingNotifier
	store    *Store
	orch     *Orchestrator
}

func newHarness(t *testing.T, cfg *config.Config, pages map[string]string) *harness {
	t.Helper()
	store, err := OpenStore(cfg.SeenFile, cfg.PricesFile, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	h := &harness{
		cfg:      cfg,
		pages:    newFakeFetcher(pages),
		notifier: &recordingNotifier{},
		store:    store,
	}
	h.orch = New(Options{
		Config:   cfg,
		Pages:    h.pages,
		Notifier: h.notifier,
		Store:    store,
		Metrics:  metrics.New(),
		Now:      func() time.Time { return fixedNow },
	})
	return h
}

func quotePage(price string) string {
	return `<html><body><table><tr><th>Emitent</th><td>NIS a.d.</td></tr>` +
		`<tr><td>Cena</td><td>` + price + `</td></tr></table></body></html>`
}

func TestPriceThresholds(t *testing.T) {
	tests := []struct {
		name    string
		quoted  string
		subject string
		stored  float64
	}{
		{name: "rise above threshold", quoted: "106,00", subject: "NIIS: +6.00%", stored: 106},
		{name: "fall below threshold", quoted: "94,00", subject: "NIIS: -6.00%", stored: 94},
		{name: "within band", quoted: "102,00", subject: "", stored: 102},
		{name: "exactly on threshold", quoted: "105,00", subject: "NIIS: +5.00%", stored: 105},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			h := newHarness(t, cfg, map[string]string{cfg.QuoteURL("NIIS"): quotePage(tt.quoted)})
			if err := h.store.SetPrice("NIIS", models.PriceRecord{Price: 100}); err != nil {
				t.Fatalf("seed price: %v", err)
			}

			result := h.orch.RunOnce(context.Background())
			if result.Failures != 0 {
				t.Fatalf("failures = %d (%v)", result.Failures, result.FailedSubject)
			}

			sent := h.notifier.messages()
			if tt.subject == "" {
				if len(sent) != 0 {
					t.Fatalf("unexpected notification %q", sent[0].Subject)
				}
			} else {
				if len(sent) != 1 || sent[0].Subject != tt.subject {
					t.Fatalf("notifications = %+v, want subject %q", sent, tt.subject)
				}
				if sent[0].To[0] != "investor@example.com" {
					t.Fatalf("to = %v", sent[0].To)
				}
			}

			rec, ok := h.store.Price("NIIS")
			if !ok || rec.Price != tt.stored || !rec.UpdatedAt.Equal(fixedNow) {
				t.Fatalf("stored = %+v, want %v", rec, tt.stored)
			}
		})
	}
}

func TestFirstPriceIsStoredWithoutNotification(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, map[string]string{cfg.QuoteURL("NIIS"): quotePage("8.400")})

	h.orch.RunOnce(context.Background())

	if len(h.notifier.messages()) != 0 {
		t.Fatalf("first observation should not notify")
	}
	if rec, _ := h.store.Price("NIIS"); rec.Price != 8400 {
		t.Fatalf("stored = %v, want 8400", rec.Price)
	}
}

func TestPriceKeptWhenNotificationFails(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, map[string]string{cfg.QuoteURL("NIIS"): quotePage("120,00")})
	h.store.SetPrice("NIIS", models.PriceRecord{Price: 100})
	h.notifier.err = errors.New("smtp down")

	result := h.orch.RunOnce(context.Background())
	if result.Failures != 1 {
		t.Fatalf("failures = %d, want 1", result.Failures)
	}
	if rec, _ := h.store.Price("NIIS"); rec.Price != 100 {
		t.Fatalf("stored = %v, want prior 100 kept for the next pass", rec.Price)
	}
}

func TestMissingPriceIsReportedNotStored(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, map[string]string{cfg.QuoteURL("NIIS"): `<p>Cena nije dostupna</p>`})

	if _, err := h.orch.LookupPrice(context.Background(), "NIIS"); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("err = %v, want ErrNoPrice", err)
	}
	result := h.orch.RunOnce(context.Background())
	if result.Failures != 1 {
		t.Fatalf("failures = %d, want 1", result.Failures)
	}
	if _, ok := h.store.Price("NIIS"); ok {
		t.Fatalf("price stored after miss")
	}
}

func TestPriceSelectorOverride(t *testing.T) {
	cfg := testConfig(t)
	cfg.PriceSelector = "span.last"
	page := `<div><span>Cena 1</span><span class="last">2.500</span></div>`
	h := newHarness(t, cfg, map[string]string{cfg.QuoteURL("NIIS"): page})

	match, err := h.orch.LookupPrice(context.Background(), "NIIS")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if match.Value != 2500 {
		t.Fatalf("value = %v, want 2500", match.Value)
	}
}

const newsListing = `<html><body><table>
<tr><th>Datum</th><th>Vest</th></tr>
<tr><td>16.10.2026.</td><td><a href="/files/niis-dividenda.pdf">NIS: odluka o dividendi</a></td></tr>
<tr><td>15.10.2026.</td><td><a href="/files/stara.pdf">Stara vest</a></td></tr>
<tr><td>16.10.2026.</td><td><a href="vest?id=7">AERO: kvartalni izvestaj</a></td></tr>
<tr><td>16.10.2026.</td><td>Bez linka</td></tr>
</table></body></html>`

func TestNewsItemsNotifiedOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.NewsURLs = []string{newsURL}
	cfg.Tickers = nil
	pages := map[string]string{
		newsURL: newsListing,
		"https://belex.test/files/niis-dividenda.pdf": "%PDF-1.4 not really",
	}
	h := newHarness(t, cfg, pages)

	first := h.orch.RunOnce(context.Background())
	if first.Notifications != 2 || first.Failures != 0 {
		t.Fatalf("first pass = %+v", first)
	}
	sent := h.notifier.messages()
	if len(sent[0].Attachments) != 1 || sent[0].Attachments[0].Filename != "niis-dividenda.pdf" {
		t.Fatalf("pdf attachment = %+v", sent[0].Attachments)
	}
	if !strings.Contains(sent[1].Text, "https://belex.test/vest?id=7") {
		t.Fatalf("text = %q", sent[1].Text)
	}

	second := h.orch.RunOnce(context.Background())
	if second.Notifications != 0 || len(h.notifier.messages()) != 2 {
		t.Fatalf("second pass re-sent items: %+v", second)
	}

	// A restart resumes from the persisted seen set.
	restarted := newHarness(t, cfg, pages)
	if again := restarted.orch.RunOnce(context.Background()); again.Notifications != 0 {
		t.Fatalf("restart re-sent %d items", again.Notifications)
	}
	if got := h.store.Subject(newsURL).LastSeenItemKey; got != "https://belex.test/vest?id=7" {
		t.Fatalf("last seen key = %q", got)
	}
}

func TestNewsItemRetriedAfterFailedDocument(t *testing.T) {
	cfg := testConfig(t)
	cfg.NewsURLs = []string{newsURL}
	cfg.Tickers = nil
	h := newHarness(t, cfg, map[string]string{newsURL: newsListing})

	result := h.orch.RunOnce(context.Background())
	if result.Notifications != 1 || result.Failures != 1 {
		t.Fatalf("result = %+v", result)
	}

	h.pages.set("https://belex.test/files/niis-dividenda.pdf", "%PDF-1.4")
	result = h.orch.RunOnce(context.Background())
	if result.Notifications != 1 || result.Failures != 0 {
		t.Fatalf("retry pass = %+v", result)
	}
}

func TestSubjectFailureDoesNotStopPass(t *testing.T) {
	cfg := testConfig(t)
	cfg.NewsURLs = []string{"https://belex.test/missing"}
	cfg.Tickers = []string{"NIIS", "AERO"}
	h := newHarness(t, cfg, map[string]string{cfg.QuoteURL("AERO"): quotePage("2.450")})

	result := h.orch.RunOnce(context.Background())
	if result.Subjects != 3 || result.Failures != 2 {
		t.Fatalf("result = %+v", result)
	}
	if rec, ok := h.store.Price("AERO"); !ok || rec.Price != 2450 {
		t.Fatalf("AERO not processed: %+v", rec)
	}
	want := []string{"https://belex.test/missing", "NIIS"}
	for i, s := range want {
		if result.FailedSubject[i] != s {
			t.Fatalf("failed = %v, want %v", result.FailedSubject, want)
		}
	}
}

func TestRunDoesInitialPass(t *testing.T) {
	cfg := testConfig(t)
	cfg.PollInterval = time.Hour
	h := newHarness(t, cfg, map[string]string{cfg.QuoteURL("NIIS"): quotePage("100,00")})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := h.store.Price("NIIS"); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run = %v", err)
	}
	if _, ok := h.store.Price("NIIS"); !ok {
		t.Fatalf("initial pass did not run")
	}
}

func TestFormatChange(t *testing.T) {
	tests := map[float64]string{
		6:      "+6.00%",
		-6:     "-6.00%",
		0:      "+0.00%",
		12.346: "+12.35%",
	}
	for in, want := range tests {
		if got := FormatChange(in); got != want {
			t.Errorf("FormatChange(%v) = %q, want %q", in, got, want)
		}
	}
}
