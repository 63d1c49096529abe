package errors

import (
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

var (
	reporterMu         sync.RWMutex
	telemetryReporter  TelemetryReporter
	hasActiveReporting atomic.Bool
)

// SetTelemetryReporter installs the reporter used by Build. nil disables reporting.
func SetTelemetryReporter(r TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	telemetryReporter = r
	hasActiveReporting.Store(r != nil && r.IsEnabled())
}

func reportToTelemetry(ee *EnhancedError) {
	reporterMu.RLock()
	r := telemetryReporter
	reporterMu.RUnlock()

	if r == nil || !r.IsEnabled() || !shouldReport(ee.Category) {
		return
	}
	r.ReportError(ee)
	ee.MarkReported()
}

// shouldReport filters out categories that indicate caller mistakes or
// expected conditions rather than faults worth a telemetry event.
func shouldReport(category ErrorCategory) bool {
	switch category {
	case CategoryValidation, CategoryNotFound, CategoryConflict, CategoryState:
		return false
	default:
		return true
	}
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError sends a scrubbed copy of the error to Sentry
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	message := ScrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))
		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = ScrubMessage(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}
		scope.SetFingerprint([]string{ee.Component, string(ee.Category)})
		scope.SetLevel(levelFor(ee.Category))
		sentry.CaptureMessage(message)
	})
}

func levelFor(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryStorage, CategoryStorageBlocked, CategoryQuota:
		return sentry.LevelError
	case CategoryNetwork, CategoryTimeout, CategoryRetry:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

var (
	queryCredentialPattern = regexp.MustCompile(`(?i)(api_?key|apikey|token|auth|password|secret)=[^&\s]+`)
	bearerPattern          = regexp.MustCompile(`(?i)bearer\s+[a-z0-9._\-]+`)
)

// ScrubMessage removes credentials from free-form error text.
func ScrubMessage(msg string) string {
	msg = queryCredentialPattern.ReplaceAllString(msg, "$1=[REDACTED]")
	return bearerPattern.ReplaceAllString(msg, "Bearer [REDACTED]")
}
