package browser

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/snikic01/BelexEmailerFinal-v1.0/config"
)

// RodFactory returns a SessionFactory that launches a local Chrome, or
// connects to cfg.RemoteURL when set.
func RodFactory(cfg config.BrowserConfig, logger *slog.Logger) SessionFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) (Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s := &rodSession{stealth: true}
		wsURL := cfg.RemoteURL
		if wsURL != "" {
			logger.Info("connecting to remote browser", slog.String("url", wsURL))
		} else {
			l := launcher.New().
				Headless(cfg.Headless).
				Set("disable-blink-features", "AutomationControlled")
			u, err := l.Launch()
			if err != nil {
				return nil, fmt.Errorf("browser: launch: %w", err)
			}
			wsURL = u
			s.launcher = l
			logger.Info("launched local browser", slog.String("url", wsURL), slog.Bool("headless", cfg.Headless))
		}

		b := rod.New().ControlURL(wsURL)
		if err := b.Connect(); err != nil {
			s.cleanup()
			return nil, fmt.Errorf("browser: connect: %w", err)
		}
		s.browser = b
		return s, nil
	}
}

type rodSession struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	stealth  bool
}

func (s *rodSession) NewPage(ctx context.Context) (Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if s.stealth {
		page, err = stealth.Page(s.browser)
	} else {
		page, err = s.browser.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	return &rodPage{page: page}, nil
}

func (s *rodSession) Close() error {
	var err error
	if s.browser != nil {
		err = s.browser.Close()
	}
	s.cleanup()
	return err
}

func (s *rodSession) cleanup() {
	if s.launcher != nil {
		s.launcher.Cleanup()
		s.launcher = nil
	}
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) HTML(ctx context.Context) ([]byte, error) {
	res, err := p.page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser: read DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

func (p *rodPage) Reset(ctx context.Context) error {
	return p.page.Context(ctx).Navigate("about:blank")
}

func (p *rodPage) Close() error {
	page := p.page.Timeout(resetTimeout)
	defer page.CancelTimeout()
	return page.Close()
}
