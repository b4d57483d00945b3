package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/snikic01/BelexEmailerFinal-v1.0/browser"
	"github.com/snikic01/BelexEmailerFinal-v1.0/config"
	"github.com/snikic01/BelexEmailerFinal-v1.0/mailbox"
	"github.com/snikic01/BelexEmailerFinal-v1.0/metrics"
	"github.com/snikic01/BelexEmailerFinal-v1.0/models"
	"github.com/snikic01/BelexEmailerFinal-v1.0/notify"
	"github.com/snikic01/BelexEmailerFinal-v1.0/pipeline"
	"github.com/snikic01/BelexEmailerFinal-v1.0/scraper"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	once := flag.Bool("once", false, "Run a single poll pass and exit")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	dryRun := flag.Bool("dry-run", false, "Log notifications instead of sending mail")

	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":
			cfg.Verbose = *verbose
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "dry-run":
			cfg.DryRun = *dryRun
		}
	})

	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(cfg, logger, *once); err != nil {
		slog.Error("watcher stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.Config, logger *slog.Logger, once bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	metricsServer := startMetricsServer(cfg.MetricsAddr, m)
	defer shutdownMetricsServer(metricsServer)

	store, err := pipeline.OpenStore(cfg.SeenFile, cfg.PricesFile, logger)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}

	documents := scraper.NewTransport(scraper.NewCollyRenderer(cfg), cfg.RetryPolicy(), logger, m)
	var pages scraper.Fetcher = documents

	if cfg.Browser.Enabled {
		pool := browser.NewPool(browser.RodFactory(cfg.Browser, logger), browser.Options{
			Capacity: cfg.Browser.PoolSize,
			Logger:   logger.With(slog.String("component", "browser")),
			Metrics:  m,
		})
		defer pool.Shutdown()
		if err := pool.Warmup(ctx, cfg.RetryPolicy()); err != nil {
			return err
		}
		pages = scraper.NewTransport(pool, cfg.RetryPolicy(), logger, m)
		slog.Info("browser pool ready", slog.Int("capacity", cfg.Browser.PoolSize))
	}

	var notifier notify.Notifier = notify.NewSMTP(cfg.SMTP, logger)
	if cfg.DryRun {
		notifier = notify.LogSink{Logger: logger}
	}

	orch := pipeline.New(pipeline.Options{
		Config:    cfg,
		Pages:     pages,
		Documents: documents,
		Notifier:  notifier,
		Store:     store,
		Logger:    logger,
		Metrics:   m,
	})

	slog.Info("starting watcher",
		slog.Int("tickers", len(cfg.Tickers)),
		slog.Int("news_sources", len(cfg.NewsURLs)),
		slog.Duration("interval", cfg.PollInterval),
		slog.Bool("dry_run", cfg.DryRun),
	)

	if once {
		printSummary(orch.RunOnce(ctx))
		return nil
	}

	var wg sync.WaitGroup
	if cfg.Mailbox.Enabled {
		handler, err := pipeline.NewMailHandler(orch, 512)
		if err != nil {
			return err
		}
		mailLogger := logger.With(slog.String("component", "mailbox"))
		watcher := mailbox.NewWatcher(mailbox.IMAPDialer(cfg.Mailbox, mailLogger), handler.Handle, mailbox.Options{
			PollInterval: cfg.Mailbox.PollInterval,
			Reconnect:    cfg.ReconnectPolicy(),
			Cooldown:     cfg.Mailbox.Cooldown,
			Logger:       mailLogger,
			Metrics:      m,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("mailbox watcher failed", slog.Any("error", err))
			}
		}()
		defer func() {
			watcher.Stop()
			wg.Wait()
		}()
	}

	err = orch.Run(ctx)
	slog.Info("shutdown signal received, waiting for in-flight work to finish")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func startMetricsServer(addr string, m *metrics.Metrics) *http.Server {
	if addr == "" {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func shutdownMetricsServer(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

func printSummary(result models.RunResult) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Poll pass complete")
	fmt.Printf("  Subjects:       %d\n", result.Subjects)
	fmt.Printf("  Failures:       %d\n", result.Failures)
	if len(result.FailedSubject) > 0 {
		fmt.Printf("  Failed:         %v\n", result.FailedSubject)
	}
	fmt.Printf("  Notifications:  %d\n", result.Notifications)
	fmt.Printf("  Duration:       %v\n", result.EndTime.Sub(result.StartTime))
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
