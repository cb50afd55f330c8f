package errortracking

import (
	"fmt"

	"github.com/InterNations/DataGridBundle/pkg/config"
)

// NewProviderFromConfig returns the configured provider. Disabled tracking
// and the "noop" provider drop events.
func NewProviderFromConfig(cfg config.ErrorTrackingConfig) (Provider, error) {
	if !cfg.Enabled || cfg.Provider == "" || cfg.Provider == "noop" {
		return NewNoOpProvider(), nil
	}
	if cfg.Provider != "sentry" {
		return nil, fmt.Errorf("unknown error tracking provider: %s", cfg.Provider)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sentry DSN is required when error tracking is enabled")
	}
	return NewSentryProvider(SentryConfig{
		DSN:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		Debug:            cfg.Debug,
		SampleRate:       cfg.SampleRate,
		TracesSampleRate: cfg.TracesSampleRate,
		Component:        cfg.Component,
	})
}
