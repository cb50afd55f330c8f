package errortracking

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryProvider reports to Sentry. Every event is tagged with the
// component and the grid tags of its context, so grid errors can be
// filtered from the rest of an application.
type SentryProvider struct {
	hub       *sentry.Hub
	component string
}

// SentryConfig holds the configuration for Sentry
type SentryConfig struct {
	DSN              string
	Environment      string
	Release          string
	Debug            bool
	SampleRate       float64
	TracesSampleRate float64
	Component        string
}

// NewSentryProvider initialises the global Sentry client and binds to its hub
func NewSentryProvider(config SentryConfig) (*SentryProvider, error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              config.DSN,
		Environment:      config.Environment,
		Release:          config.Release,
		Debug:            config.Debug,
		AttachStacktrace: true,
		SampleRate:       config.SampleRate,
		TracesSampleRate: config.TracesSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Sentry: %w", err)
	}

	component := config.Component
	if component == "" {
		component = "datagrid"
	}

	return &SentryProvider{hub: sentry.CurrentHub(), component: component}, nil
}

func (s *SentryProvider) hubFor(ctx context.Context) *sentry.Hub {
	if ctx != nil {
		if hub := sentry.GetHubFromContext(ctx); hub != nil {
			return hub
		}
	}
	return s.hub
}

func (s *SentryProvider) newEvent(ctx context.Context, level sentry.Level, message string, extra map[string]interface{}) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = message
	event.Tags = map[string]string{"component": s.component}
	for k, v := range TagsFromContext(ctx) {
		event.Tags[k] = v
	}
	event.Extra = make(map[string]interface{}, len(extra)+1)
	for k, v := range extra {
		event.Extra[k] = v
	}
	return event
}

func (s *SentryProvider) CaptureError(ctx context.Context, err error, severity Severity, extra map[string]interface{}) {
	if err == nil {
		return
	}

	event := s.newEvent(ctx, convertSeverity(severity), err.Error(), extra)
	event.Exception = []sentry.Exception{{
		Value:      err.Error(),
		Type:       fmt.Sprintf("%T", err),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}
	s.hubFor(ctx).CaptureEvent(event)
}

func (s *SentryProvider) CaptureMessage(ctx context.Context, message string, severity Severity, extra map[string]interface{}) {
	if message == "" {
		return
	}
	s.hubFor(ctx).CaptureEvent(s.newEvent(ctx, convertSeverity(severity), message, extra))
}

func (s *SentryProvider) CapturePanic(ctx context.Context, recovered interface{}, stackTrace []byte, extra map[string]interface{}) {
	if recovered == nil {
		return
	}

	event := s.newEvent(ctx, sentry.LevelFatal, fmt.Sprintf("Panic: %v", recovered), extra)
	event.Exception = []sentry.Exception{{
		Value: fmt.Sprintf("%v", recovered),
		Type:  "panic",
	}}
	if stackTrace != nil {
		event.Extra["stack_trace"] = string(stackTrace)
	}
	s.hubFor(ctx).CaptureEvent(event)
}

func (s *SentryProvider) Flush(timeout int) bool {
	return sentry.Flush(time.Duration(timeout) * time.Second)
}

func (s *SentryProvider) Close() error {
	sentry.Flush(2 * time.Second)
	return nil
}

func convertSeverity(severity Severity) sentry.Level {
	switch severity {
	case SeverityWarning:
		return sentry.LevelWarning
	case SeverityInfo:
		return sentry.LevelInfo
	case SeverityDebug:
		return sentry.LevelDebug
	default:
		return sentry.LevelError
	}
}
