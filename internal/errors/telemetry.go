package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter receives every error built while it is enabled.
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// ErrorHook observes built errors, mostly for tests and counters.
type ErrorHook func(ee *EnhancedError)

var (
	// hasActiveReporting lets Build skip stack walks when nobody listens.
	hasActiveReporting atomic.Bool

	telemetryMu sync.RWMutex
	reporter    TelemetryReporter
	errorHooks  []ErrorHook
)

// SetTelemetryReporter installs r, or removes the reporter when r is nil.
func SetTelemetryReporter(r TelemetryReporter) {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	reporter = r
	updateActiveReporting()
}

// AddErrorHook registers hook for every error built from now on.
func AddErrorHook(hook ErrorHook) {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	errorHooks = append(errorHooks, hook)
	updateActiveReporting()
}

func ClearErrorHooks() {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	errorHooks = nil
	updateActiveReporting()
}

// telemetryMu must be held.
func updateActiveReporting() {
	hasActiveReporting.Store(len(errorHooks) > 0 || (reporter != nil && reporter.IsEnabled()))
}

func reportToTelemetry(ee *EnhancedError) {
	telemetryMu.RLock()
	r, hooks := reporter, errorHooks
	telemetryMu.RUnlock()

	for _, hook := range hooks {
		hook(ee)
	}
	if r != nil && r.IsEnabled() {
		r.ReportError(ee)
	}
}

// InitSentry starts the Sentry client and routes errors to it. An empty DSN
// keeps telemetry off.
func InitSentry(dsn, release string) error {
	if dsn == "" {
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Release: release}); err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	SetTelemetryReporter(sentryReporter{})
	return nil
}

type sentryReporter struct{}

func (sentryReporter) IsEnabled() bool { return true }

// ReportError sends ee once, with device identifiers scrubbed.
func (sentryReporter) ReportError(ee *EnhancedError) {
	if ee.reported.Swap(true) {
		return
	}
	title := errorTitle(ee)
	message := scrub(fmt.Sprintf("[%s] %s", ee.Category, ee.Error()))
	level := sentryLevel(ee.Category)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))
		for key, value := range ee.Context {
			if s, ok := value.(string); ok {
				value = scrub(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}
		scope.SetFingerprint([]string{title, ee.GetComponent(), string(ee.Category)})

		event := sentry.NewEvent()
		event.Level = level
		event.Message = message
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sentry.CaptureEvent(event)
	})
}

// errorTitle groups events by component and category, e.g.
// "coreaudio.aggregate aggregate-device".
func errorTitle(ee *EnhancedError) string {
	parts := make([]string, 0, 2)
	if c := ee.GetComponent(); c != "" && c != ComponentUnknown {
		parts = append(parts, c)
	}
	parts = append(parts, string(ee.Category))
	return strings.Join(parts, " ")
}

func sentryLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryHardware, CategoryDeviceGone, CategoryListener, CategoryTimeout:
		return sentry.LevelWarning
	case CategoryInvalidParameter, CategoryNotSupported, CategoryAPIMisuse:
		return sentry.LevelInfo
	default:
		return sentry.LevelError
	}
}

var (
	// Device UIDs can embed serial numbers and bluetooth addresses.
	macAddressRegex = regexp.MustCompile(`(?i)\b([0-9a-f]{2}[:-]){5}[0-9a-f]{2}\b`)
	longHexRegex    = regexp.MustCompile(`\b[0-9a-fA-F]{16,}\b`)
	homePathRegex   = regexp.MustCompile(`/Users/[^/\s]+`)
)

func scrub(message string) string {
	message = macAddressRegex.ReplaceAllString(message, "[MAC_REDACTED]")
	message = longHexRegex.ReplaceAllString(message, "[ID_REDACTED]")
	return homePathRegex.ReplaceAllString(message, "/Users/[USER]")
}
