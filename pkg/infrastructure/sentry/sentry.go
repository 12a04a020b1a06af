package sentry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

type Config struct {
	DSN              string
	Environment      string
	Release          string
	ServerName       string
	TracesSampleRate float64
}

// Init initializes Sentry. An empty DSN disables error tracking without failing.
func Init(cfg Config, logger *slog.Logger) error {
	if cfg.DSN == "" {
		if logger != nil {
			logger.Warn("Sentry DSN not configured - error tracking disabled")
		}
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		ServerName:       cfg.ServerName,
		TracesSampleRate: cfg.TracesSampleRate,
		BeforeSend:       scrubEvent,
	})
	if err != nil {
		if logger != nil {
			logger.Error("Failed to initialize Sentry", "error", err)
		}
		return fmt.Errorf("sentry init: %w", err)
	}

	if logger != nil {
		logger.Info("Sentry initialized", "environment", cfg.Environment, "release", cfg.Release)
	}
	return nil
}

// scrubEvent drops credentials that may ride along on captured requests.
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event.Request != nil {
		for _, h := range []string{"Authorization", "Cookie"} {
			delete(event.Request.Headers, h)
		}
		event.Request.QueryString = ""
	}
	return event
}

// CaptureException captures err with tags (provider, user_id, ...) and extra context,
// scoped to this event only.
func CaptureException(err error, tags map[string]string, extra map[string]interface{}, logger *slog.Logger) {
	if err == nil {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		if len(extra) > 0 {
			scope.SetContext("details", sentry.Context(extra))
		}
		sentry.CaptureException(err)
	})

	if logger != nil {
		logger.Debug("Exception captured in Sentry", "error", err.Error())
	}
}

// CaptureVendorFailure records a non-success vendor response reported through an error callback.
func CaptureVendorFailure(provider string, status int, body []byte, message string, logger *slog.Logger) {
	if len(body) > 1024 {
		body = body[:1024]
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		scope.SetTag("provider", provider)
		scope.SetTag("http_status", fmt.Sprint(status))
		scope.SetContext("response", sentry.Context{"body": string(body)})
		sentry.CaptureMessage(message)
	})

	if logger != nil {
		logger.Debug("Vendor failure captured in Sentry", "provider", provider, "status", status)
	}
}

// Flush waits for all events to be sent to Sentry.
// Call this before function termination to ensure events are sent.
func Flush(timeout time.Duration) bool {
	return sentry.Flush(timeout)
}

// RecoverAndCapture recovers from a panic and captures it in Sentry.
func RecoverAndCapture(logger *slog.Logger) {
	if r := recover(); r != nil {
		err, ok := r.(error)
		if !ok {
			err = fmt.Errorf("panic: %v", r)
		}
		CaptureException(err, nil, nil, logger)
		Flush(2 * time.Second)
		panic(r) // Re-panic after capturing
	}
}
