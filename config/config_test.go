package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tickers = []string{"AIKB", "NIIS"}
	cfg.SMTP.Host = "smtp.example.test"
	cfg.SMTP.From = "watcher@example.test"
	cfg.Recipients = []string{"ops@example.test"}
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "zero poll interval",
			mutate: func(cfg *Config) {
				cfg.PollInterval = 0
			},
			wantErr: "poll interval",
		},
		{
			name: "zero max attempts",
			mutate: func(cfg *Config) {
				cfg.MaxAttempts = 0
			},
			wantErr: "max attempts",
		},
		{
			name: "backoff above cap",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = 10 * time.Second
				cfg.RetryBackoffMax = time.Second
			},
			wantErr: "backoff cap",
		},
		{
			name: "invalid news url",
			mutate: func(cfg *Config) {
				cfg.NewsURLs = []string{"http://"}
			},
			wantErr: "news url",
		},
		{
			name: "quote template without placeholder",
			mutate: func(cfg *Config) {
				cfg.QuoteURLTemplate = "https://example.test/quote"
			},
			wantErr: "quote url template",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "missing recipients",
			mutate: func(cfg *Config) {
				cfg.Recipients = nil
			},
			wantErr: "recipients",
		},
		{
			name: "mailbox without address",
			mutate: func(cfg *Config) {
				cfg.Mailbox.Enabled = true
			},
			wantErr: "mailbox address",
		},
		{
			name: "unknown time zone",
			mutate: func(cfg *Config) {
				cfg.TimeZone = "Mars/Olympus"
			},
			wantErr: "time zone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValidInDryRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DryRun = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate in dry run, got %v", err)
	}
}

func TestQuoteURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QuoteURLTemplate = "https://example.test/quote/%s"
	if got := cfg.QuoteURL("aikb"); got != "https://example.test/quote/AIKB" {
		t.Fatalf("QuoteURL = %q", got)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "belexwatch.yaml")
	body := `
poll_interval: 90s
tickers: [AIKB, JESV]
up_threshold: 3.5
browser:
  enabled: true
  pool_size: 4
mailbox:
  cooldown: 45m
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval != 90*time.Second {
		t.Fatalf("poll interval = %v", cfg.PollInterval)
	}
	if len(cfg.Tickers) != 2 || cfg.Tickers[1] != "JESV" {
		t.Fatalf("tickers = %v", cfg.Tickers)
	}
	if cfg.UpThreshold != 3.5 || cfg.DownThreshold != 5 {
		t.Fatalf("thresholds = %v/%v", cfg.UpThreshold, cfg.DownThreshold)
	}
	if !cfg.Browser.Enabled || cfg.Browser.PoolSize != 4 || !cfg.Browser.Headless {
		t.Fatalf("browser = %+v", cfg.Browser)
	}
	if cfg.Mailbox.Cooldown != 45*time.Minute || cfg.Mailbox.Folder != "INBOX" {
		t.Fatalf("mailbox = %+v", cfg.Mailbox)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BELEX_TICKERS", "AIKB, ,NIIS")
	t.Setenv("BELEX_POLL_INTERVAL", "1500")
	t.Setenv("BELEX_MAILBOX_COOLDOWN", "10m")
	t.Setenv("BELEX_DOWN_THRESHOLD", "2.5")
	t.Setenv("BELEX_DRY_RUN", "true")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if len(cfg.Tickers) != 2 || cfg.Tickers[0] != "AIKB" || cfg.Tickers[1] != "NIIS" {
		t.Fatalf("tickers = %v", cfg.Tickers)
	}
	if cfg.PollInterval != 1500*time.Millisecond {
		t.Fatalf("poll interval = %v", cfg.PollInterval)
	}
	if cfg.Mailbox.Cooldown != 10*time.Minute {
		t.Fatalf("cooldown = %v", cfg.Mailbox.Cooldown)
	}
	if cfg.DownThreshold != 2.5 || !cfg.DryRun {
		t.Fatalf("down threshold = %v dry run = %v", cfg.DownThreshold, cfg.DryRun)
	}
}

func TestApplyEnvRejectsBadInt(t *testing.T) {
	t.Setenv("BELEX_MAX_ATTEMPTS", "many")
	if err := DefaultConfig().ApplyEnv(); err == nil || !strings.Contains(err.Error(), "BELEX_MAX_ATTEMPTS") {
		t.Fatalf("expected BELEX_MAX_ATTEMPTS error, got %v", err)
	}
}
