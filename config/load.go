package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "BELEX_"

// LoadFile reads a YAML file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// EnvString returns the value of BELEX_<name> when set and non-empty.
func EnvString(name string) (string, bool) {
	value, ok := os.LookupEnv(envPrefix + name)
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return strings.TrimSpace(value), true
}

// EnvInt parses BELEX_<name> as an integer.
func EnvInt(name string) (int, bool, error) {
	raw, ok := EnvString(name)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	return value, true, nil
}

// EnvFloat parses BELEX_<name> as a float.
func EnvFloat(name string) (float64, bool, error) {
	raw, ok := EnvString(name)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	return value, true, nil
}

// EnvDuration parses BELEX_<name> as a Go duration, or as milliseconds when unitless.
func EnvDuration(name string) (time.Duration, bool, error) {
	raw, ok := EnvString(name)
	if !ok {
		return 0, false, nil
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, true, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	return value, true, nil
}

// EnvBool parses BELEX_<name> as a boolean.
func EnvBool(name string) (bool, bool, error) {
	raw, ok := EnvString(name)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s%s: %w", envPrefix, name, err)
	}
	return value, true, nil
}

// EnvList splits BELEX_<name> on commas, dropping empty entries.
func EnvList(name string) ([]string, bool) {
	raw, ok := EnvString(name)
	if !ok {
		return nil, false
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, len(out) > 0
}

// ApplyEnv overrides cfg with any BELEX_* variables present.
func (c *Config) ApplyEnv() error {
	durations := map[string]*time.Duration{
		"POLL_INTERVAL":          &c.PollInterval,
		"TIMEOUT":                &c.Timeout,
		"RETRY_BACKOFF":          &c.RetryBackoff,
		"RETRY_BACKOFF_MAX":      &c.RetryBackoffMax,
		"RETRY_JITTER":           &c.RetryJitter,
		"MAILBOX_POLL_INTERVAL":  &c.Mailbox.PollInterval,
		"MAILBOX_RECONNECT_BASE": &c.Mailbox.ReconnectBase,
		"MAILBOX_RECONNECT_MAX":  &c.Mailbox.ReconnectMax,
		"MAILBOX_COOLDOWN":       &c.Mailbox.Cooldown,
	}
	for name, target := range durations {
		value, ok, err := EnvDuration(name)
		if err != nil {
			return err
		}
		if ok {
			*target = value
		}
	}

	ints := map[string]*int{
		"MAX_ATTEMPTS":         &c.MaxAttempts,
		"BROWSER_POOL_SIZE":    &c.Browser.PoolSize,
		"MAILBOX_MAX_FAILURES": &c.Mailbox.MaxFailures,
		"SMTP_PORT":            &c.SMTP.Port,
	}
	for name, target := range ints {
		value, ok, err := EnvInt(name)
		if err != nil {
			return err
		}
		if ok {
			*target = value
		}
	}

	floats := map[string]*float64{
		"UP_THRESHOLD":   &c.UpThreshold,
		"DOWN_THRESHOLD": &c.DownThreshold,
	}
	for name, target := range floats {
		value, ok, err := EnvFloat(name)
		if err != nil {
			return err
		}
		if ok {
			*target = value
		}
	}

	bools := map[string]*bool{
		"BROWSER_ENABLED":  &c.Browser.Enabled,
		"BROWSER_HEADLESS": &c.Browser.Headless,
		"MAILBOX_ENABLED":  &c.Mailbox.Enabled,
		"DRY_RUN":          &c.DryRun,
		"VERBOSE":          &c.Verbose,
	}
	for name, target := range bools {
		value, ok, err := EnvBool(name)
		if err != nil {
			return err
		}
		if ok {
			*target = value
		}
	}

	strs := map[string]*string{
		"TIME_ZONE":          &c.TimeZone,
		"USER_AGENT":         &c.UserAgent,
		"QUOTE_URL_TEMPLATE": &c.QuoteURLTemplate,
		"NEWS_ROW_SELECTOR":  &c.NewsRowSelector,
		"PRICE_SELECTOR":     &c.PriceSelector,
		"BROWSER_REMOTE_URL": &c.Browser.RemoteURL,
		"MAILBOX_ADDR":       &c.Mailbox.Addr,
		"MAILBOX_USERNAME":   &c.Mailbox.Username,
		"MAILBOX_PASSWORD":   &c.Mailbox.Password,
		"MAILBOX_FOLDER":     &c.Mailbox.Folder,
		"MAILBOX_SUBJECT":    &c.Mailbox.SubjectFilter,
		"SMTP_HOST":          &c.SMTP.Host,
		"SMTP_USERNAME":      &c.SMTP.Username,
		"SMTP_PASSWORD":      &c.SMTP.Password,
		"SMTP_FROM":          &c.SMTP.From,
		"SEEN_FILE":          &c.SeenFile,
		"PRICES_FILE":        &c.PricesFile,
		"METRICS_ADDR":       &c.MetricsAddr,
	}
	for name, target := range strs {
		if value, ok := EnvString(name); ok {
			*target = value
		}
	}

	lists := map[string]*[]string{
		"TICKERS":      &c.Tickers,
		"NEWS_URLS":    &c.NewsURLs,
		"LABEL_TOKENS": &c.LabelTokens,
		"RECIPIENTS":   &c.Recipients,
	}
	for name, target := range lists {
		if value, ok := EnvList(name); ok {
			*target = value
		}
	}

	return nil
}
