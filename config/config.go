package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/snikic01/BelexEmailerFinal-v1.0/retry"
)

// Config holds watcher configuration.
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	TimeZone     string        `yaml:"time_zone"`

	Timeout         time.Duration `yaml:"timeout"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max"`
	RetryJitter     time.Duration `yaml:"retry_jitter"`
	UserAgent       string        `yaml:"user_agent"`

	Tickers          []string `yaml:"tickers"`
	NewsURLs         []string `yaml:"news_urls"`
	QuoteURLTemplate string   `yaml:"quote_url_template"`
	NewsRowSelector  string   `yaml:"news_row_selector"`
	LabelTokens      []string `yaml:"label_tokens"`
	// PriceSelector is an explicit CSS override that skips the heuristic locator.
	PriceSelector string `yaml:"price_selector"`
	// Thresholds are percentages.
	UpThreshold   float64 `yaml:"up_threshold"`
	DownThreshold float64 `yaml:"down_threshold"`

	Browser BrowserConfig `yaml:"browser"`
	Mailbox MailboxConfig `yaml:"mailbox"`
	SMTP    SMTPConfig    `yaml:"smtp"`

	Recipients  []string `yaml:"recipients"`
	SeenFile    string   `yaml:"seen_file"`
	PricesFile  string   `yaml:"prices_file"`
	MetricsAddr string   `yaml:"metrics_addr"`
	Verbose     bool     `yaml:"verbose"`
	DryRun      bool     `yaml:"dry_run"`
}

// BrowserConfig controls the shared automation session.
type BrowserConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RemoteURL string `yaml:"remote_url"`
	Headless  bool   `yaml:"headless"`
	PoolSize  int    `yaml:"pool_size"`
}

// MailboxConfig controls the inbound request mailbox. Addr is host:port
// with implicit TLS.
type MailboxConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Addr          string        `yaml:"addr"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Folder        string        `yaml:"folder"`
	SubjectFilter string        `yaml:"subject_filter"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	ReconnectBase time.Duration `yaml:"reconnect_base"`
	ReconnectMax  time.Duration `yaml:"reconnect_max"`
	MaxFailures   int           `yaml:"max_failures"`
	Cooldown      time.Duration `yaml:"cooldown"`
}

// SMTPConfig is the notification sender identity and transport.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// DefaultConfig returns conservative defaults for the exchange site.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:    5 * time.Minute,
		TimeZone:        "Europe/Belgrade",
		Timeout:         20 * time.Second,
		MaxAttempts:     4,
		RetryBackoff:    500 * time.Millisecond,
		RetryBackoffMax: 8 * time.Second,
		RetryJitter:     250 * time.Millisecond,
		UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",

		NewsURLs:         []string{"https://www.belex.rs/eng/emitenti/vesti"},
		QuoteURLTemplate: "https://www.belex.rs/eng/trgovanje/hartija/dnevni/%s",
		NewsRowSelector:  "table tr",
		LabelTokens:      []string{"cena", "price", "цена"},
		UpThreshold:      5,
		DownThreshold:    5,

		Browser: BrowserConfig{
			Headless: true,
			PoolSize: 2,
		},
		Mailbox: MailboxConfig{
			Folder:        "INBOX",
			PollInterval:  time.Minute,
			ReconnectBase: 2 * time.Second,
			ReconnectMax:  5 * time.Minute,
			MaxFailures:   10,
			Cooldown:      30 * time.Minute,
		},
		SMTP: SMTPConfig{
			Port: 587,
		},

		SeenFile:   "data/seen.json",
		PricesFile: "data/prices.json",
	}
}

// RetryPolicy derives the transport policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		Timeout:     c.Timeout,
		MaxAttempts: c.MaxAttempts,
		BackoffBase: c.RetryBackoff,
		BackoffCap:  c.RetryBackoffMax,
		JitterMax:   c.RetryJitter,
	}
}

// ReconnectPolicy derives the mailbox reconnect policy.
func (c *Config) ReconnectPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Mailbox.MaxFailures,
		BackoffBase: c.Mailbox.ReconnectBase,
		BackoffCap:  c.Mailbox.ReconnectMax,
		JitterMax:   c.RetryJitter,
	}
}

// Location resolves TimeZone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// QuoteURL builds the quote page URL for ticker.
func (c *Config) QuoteURL(ticker string) string {
	return fmt.Sprintf(c.QuoteURLTemplate, url.PathEscape(strings.ToUpper(ticker)))
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.TimeZone != "" {
		if _, err := time.LoadLocation(c.TimeZone); err != nil {
			return fmt.Errorf("invalid time zone: %w", err)
		}
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("retry policy: %w", err)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}

	if len(c.Tickers) == 0 && len(c.NewsURLs) == 0 {
		return fmt.Errorf("at least one ticker or news url is required")
	}
	for _, raw := range c.NewsURLs {
		if err := validateURL(raw); err != nil {
			return fmt.Errorf("news url %q: %w", raw, err)
		}
	}
	if len(c.Tickers) > 0 {
		if !strings.Contains(c.QuoteURLTemplate, "%s") {
			return fmt.Errorf("quote url template must contain %%s")
		}
		if err := validateURL(c.QuoteURL("X")); err != nil {
			return fmt.Errorf("quote url template: %w", err)
		}
		if c.PriceSelector == "" && len(c.LabelTokens) == 0 {
			return fmt.Errorf("label tokens cannot be empty without a price selector")
		}
	}
	if c.UpThreshold <= 0 || c.DownThreshold <= 0 {
		return fmt.Errorf("price thresholds must be positive")
	}

	if c.Browser.Enabled && c.Browser.PoolSize <= 0 {
		return fmt.Errorf("browser pool size must be positive")
	}

	if c.Mailbox.Enabled {
		if c.Mailbox.Addr == "" || c.Mailbox.Username == "" {
			return fmt.Errorf("mailbox address and username are required")
		}
		if c.Mailbox.PollInterval <= 0 {
			return fmt.Errorf("mailbox poll interval must be positive")
		}
		if c.Mailbox.MaxFailures <= 0 {
			return fmt.Errorf("mailbox max failures must be positive")
		}
		if c.Mailbox.ReconnectMax < c.Mailbox.ReconnectBase {
			return fmt.Errorf("mailbox reconnect max (%s) cannot be below reconnect base (%s)", c.Mailbox.ReconnectMax, c.Mailbox.ReconnectBase)
		}
		if c.Mailbox.Cooldown <= 0 {
			return fmt.Errorf("mailbox cooldown must be positive")
		}
	}

	if !c.DryRun {
		if c.SMTP.Host == "" || c.SMTP.From == "" {
			return fmt.Errorf("smtp host and sender are required unless dry run is enabled")
		}
		if c.SMTP.Port <= 0 {
			return fmt.Errorf("smtp port must be positive")
		}
		if len(c.Recipients) == 0 {
			return fmt.Errorf("recipients cannot be empty")
		}
	}

	if c.SeenFile == "" || c.PricesFile == "" {
		return fmt.Errorf("state file paths cannot be empty")
	}

	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("url must include a host")
	}
	return nil
}
