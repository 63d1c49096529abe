// Package telemetry sends opt-in, scrubbed error reports to Sentry.
package telemetry

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/leafscan/leafscan/internal/conf"
	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/logger"
)

var initialized atomic.Bool

// Options configures Init.
type Options struct {
	Settings    conf.TelemetrySettings
	Environment string
	Release     string
	DeviceID    string

	// Transport replaces the HTTP transport, for tests.
	Transport sentry.Transport
}

// Init starts Sentry and routes reportable errors to it. It does nothing
// when no DSN is configured and no transport is given.
func Init(opts Options) error {
	log := logger.Global().Module("telemetry")
	if opts.Settings.SentryDSN == "" && opts.Transport == nil {
		log.Debug("telemetry disabled")
		return nil
	}

	rate := opts.Settings.SampleRate
	if rate <= 0 {
		rate = 1.0
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.Settings.SentryDSN,
		SampleRate:       rate,
		AttachStacktrace: false,
		Environment:      opts.Environment,
		Release:          "leafscan@" + opts.Release,
		ServerName:       "",
		Transport:        opts.Transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("os", runtime.GOOS)
		scope.SetTag("arch", runtime.GOARCH)
		if opts.DeviceID != "" {
			scope.SetUser(sentry.User{ID: opts.DeviceID})
		}
	})
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	initialized.Store(true)
	log.Info("telemetry enabled", logger.String("environment", opts.Environment))
	return nil
}

// Enabled reports whether Init installed a reporter.
func Enabled() bool { return initialized.Load() }

// Flush waits for queued events and detaches the reporter.
func Flush(timeout time.Duration) {
	if !initialized.Swap(false) {
		return
	}
	errors.SetTelemetryReporter(nil)
	sentry.Flush(timeout)
}

// applyPrivacyFilters keeps only the device id and the tags set by the
// error reporter.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{ID: event.User.ID}
	event.ServerName = ""
	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	event.Message = errors.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = errors.ScrubMessage(event.Exception[i].Value)
	}
	return event
}
