package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geocode-pipeline/internal/config"
	"github.com/sells-group/geocode-pipeline/internal/geocoder"
	"github.com/sells-group/geocode-pipeline/internal/notify"
	"github.com/sells-group/geocode-pipeline/internal/resilience"
	"github.com/sells-group/geocode-pipeline/internal/store"
	"github.com/sells-group/geocode-pipeline/pkg/geocode"
)

// openStore connects to postgres using the configured pool settings.
func openStore(ctx context.Context) (*store.PostgresStore, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("store.database_url is not configured (GEOCODE_STORE_DATABASE_URL)")
	}
	s, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return s, nil
}

// buildProvider constructs the configured geocoding provider.
func buildProvider() (geocode.Provider, error) {
	switch cfg.Geocoder.Provider {
	case "nominatim", "":
		return geocode.NewNominatimProvider(
			geocode.WithRateLimit(cfg.Geocoder.RateLimit),
			geocode.WithUserAgent(cfg.Geocoder.UserAgent),
		), nil
	case "google":
		if cfg.Geocoder.GoogleAPIKey == "" {
			return nil, eris.New("geocoder.google_api_key is required for the google provider")
		}
		return geocode.NewGoogleProvider(cfg.Geocoder.GoogleAPIKey,
			geocode.WithRateLimit(cfg.Geocoder.RateLimit),
		), nil
	default:
		return nil, eris.Errorf("unknown geocoder provider %q", cfg.Geocoder.Provider)
	}
}

// buildOrchestrator wires the provider, reference lookup, and retry policy.
func buildOrchestrator(refs geocoder.ReferenceLookup) (*geocoder.Orchestrator, error) {
	provider, err := buildProvider()
	if err != nil {
		return nil, err
	}

	retryCfg, err := buildRetryConfig(cfg.Geocoder.Retry)
	if err != nil {
		return nil, err
	}

	return geocoder.NewOrchestrator(provider, refs,
		geocoder.WithMaxDistanceMiles(cfg.Geocoder.MaxDistanceMiles),
		geocoder.WithRetryConfig(retryCfg),
		geocoder.WithScoreKeepFirst(cfg.Geocoder.ScoreKeepFirst),
	), nil
}

// buildRetryConfig translates duration strings from config into a retry policy.
func buildRetryConfig(rc config.RetryConfig) (resilience.RetryConfig, error) {
	initial, err := parseDuration(rc.InitialBackoff)
	if err != nil {
		return resilience.RetryConfig{}, eris.Wrap(err, "geocoder.retry.initial_backoff")
	}
	maxBackoff, err := parseDuration(rc.MaxBackoff)
	if err != nil {
		return resilience.RetryConfig{}, eris.Wrap(err, "geocoder.retry.max_backoff")
	}

	return resilience.RetryConfig{
		MaxAttempts:    rc.MaxAttempts,
		InitialBackoff: initial,
		MaxBackoff:     maxBackoff,
		Multiplier:     rc.Multiplier,
		ShouldRetry:    func(error) bool { return true },
		OnRetry:        resilience.RetryLogger("geocode", "lookup"),
	}, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// buildNotifier constructs the configured mismatch digest notifier.
func buildNotifier() (notify.Notifier, error) {
	switch cfg.Notify.Kind {
	case "log", "":
		return notify.NewLogNotifier(), nil
	case "smtp":
		if cfg.Notify.SMTP.Host == "" {
			return nil, eris.New("notify.smtp.host is required for the smtp notifier")
		}
		return notify.NewSMTPNotifier(cfg.Notify.SMTP), nil
	case "webhook":
		if cfg.Notify.WebhookURL == "" {
			return nil, eris.New("notify.webhook_url is required for the webhook notifier")
		}
		return notify.NewWebhookNotifier(cfg.Notify.WebhookURL), nil
	default:
		return nil, eris.Errorf("unknown notifier kind %q", cfg.Notify.Kind)
	}
}
