// Package errors builds categorized backend errors that carry device and
// status context, and optionally forwards them to telemetry.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// ErrorCategory groups errors for matching, log fields and telemetry.
type ErrorCategory string

const (
	CategoryInvalidParameter  ErrorCategory = "invalid-parameter"  // malformed stream parameters
	CategoryNotSupported      ErrorCategory = "not-supported"      // loopback, platform limited queries
	CategoryHardware          ErrorCategory = "transient-hardware" // property call failed with a non-fatal status
	CategoryDeviceGone        ErrorCategory = "device-gone"
	CategoryFatalStream       ErrorCategory = "fatal-stream"
	CategoryAPIMisuse         ErrorCategory = "api-misuse"
	CategoryAggregateDevice   ErrorCategory = "aggregate-device"
	CategoryAudioUnit         ErrorCategory = "audio-unit"
	CategoryBuffer            ErrorCategory = "audio-buffer"
	CategoryResampler         ErrorCategory = "resampler"
	CategoryMixer             ErrorCategory = "mixer"
	CategoryListener          ErrorCategory = "property-listener"
	CategoryConfiguration     ErrorCategory = "configuration"
	CategoryValidation        ErrorCategory = "validation"
	CategoryFileIO            ErrorCategory = "file-io"
	CategoryTimeout           ErrorCategory = "timeout"
	CategoryState             ErrorCategory = "state"
	CategoryNotFound          ErrorCategory = "not-found"
	CategoryGeneric           ErrorCategory = "generic"
	CategorySystem            ErrorCategory = "system-resource"
	CategoryDeviceEnumeration ErrorCategory = "device-enumeration"
)

// ComponentUnknown is reported when no component was set or detected.
const ComponentUnknown = "unknown"

const modulePath = "github.com/tphakala/go-cubeb/internal/"

// EnhancedError is an error annotated with where it happened and what it
// was about. It is not modified once built.
type EnhancedError struct {
	Err       error
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time

	component string
	reported  atomic.Bool
}

func (ee *EnhancedError) Error() string {
	if ee.Err == nil {
		return string(ee.Category)
	}
	return ee.Err.Error()
}

func (ee *EnhancedError) Unwrap() error { return ee.Err }

// Is matches another EnhancedError of the same category when the target is
// bare or wraps the same cause. Anything else is matched against the cause.
func (ee *EnhancedError) Is(target error) bool {
	other, ok := target.(*EnhancedError)
	if !ok {
		return stderrors.Is(ee.Err, target)
	}
	if ee == other {
		return true
	}
	return ee.Category == other.Category && (other.Err == nil || stderrors.Is(ee.Err, other.Err))
}

// GetComponent returns the component the error was attributed to.
func (ee *EnhancedError) GetComponent() string { return ee.component }

// GetContext returns a copy of the context fields.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	return maps.Clone(ee.Context)
}

// GetMessage returns the cause's message, or "" for a bare category error.
func (ee *EnhancedError) GetMessage() string {
	if ee.Err == nil {
		return ""
	}
	return ee.Err.Error()
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts an error wrapping err. err may be nil for a bare category.
func New(err error) *ErrorBuilder { return &ErrorBuilder{err: err} }

// Newf is New(fmt.Errorf(format, args...)).
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds one context field.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any, 4)
	}
	eb.context[key] = value
	return eb
}

// DeviceContext records the hardware object and scope involved.
func (eb *ErrorBuilder) DeviceContext(deviceID uint32, scope string) *ErrorBuilder {
	eb.Context("device_id", deviceID)
	if scope != "" {
		eb.Context("scope", scope)
	}
	return eb
}

// StatusContext records a platform status. Statuses that spell a printable
// four character code get the code as well.
func (eb *ErrorBuilder) StatusContext(status int32) *ErrorBuilder {
	eb.Context("os_status", status)
	if code := fourCC(uint32(status)); code != "" {
		eb.Context("os_status_code", code)
	}
	return eb
}

// Build finishes the error. While telemetry or hooks are active the
// component is taken from the caller's package and the category may be
// guessed from the message; otherwise both only fall back to cheap defaults.
func (eb *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       eb.err,
		Category:  eb.category,
		Context:   eb.context,
		Timestamp: time.Now(),
		component: eb.component,
	}
	if ee.Category == "" {
		ee.Category = inheritedCategory(eb.err)
	}

	if !hasActiveReporting.Load() {
		if ee.component == "" {
			ee.component = ComponentUnknown
		}
		return ee
	}

	if ee.component == "" {
		ee.component = callerComponent()
	}
	if ee.Category == CategoryGeneric {
		ee.Category = guessCategory(eb.err, ee.component)
	}
	reportToTelemetry(ee)
	return ee
}

// callerComponent names the first package outside this one on the stack,
// e.g. "coreaudio.aggregate" for internal/coreaudio/aggregate.
func callerComponent() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if c := packageComponent(frame.Function); c != "" && c != "errors" {
			return c
		}
		if !more {
			return ComponentUnknown
		}
	}
}

// packageComponent turns a fully qualified function name into a dotted
// component path relative to this module's internal tree.
func packageComponent(fn string) string {
	rest, ok := strings.CutPrefix(fn, modulePath)
	if !ok {
		return ""
	}
	// The package path ends at the first dot after the last slash.
	slash := strings.LastIndexByte(rest, '/')
	if dot := strings.IndexByte(rest[slash+1:], '.'); dot >= 0 {
		rest = rest[:slash+1+dot]
	}
	rest = strings.TrimPrefix(rest, "coreaudio/hal/")
	if strings.HasSuffix(rest, "hal") && rest != "coreaudio/hal" {
		rest = "hal." + strings.TrimSuffix(rest, "hal")
	}
	return strings.ReplaceAll(rest, "/", ".")
}

var messageCategories = []struct {
	needle   string
	category ErrorCategory
}{
	{"not supported", CategoryNotSupported},
	{"invalid", CategoryInvalidParameter},
	{"timed out", CategoryTimeout},
	{"timeout", CategoryTimeout},
	{"aggregate", CategoryAggregateDevice},
	{"listener", CategoryListener},
}

var componentCategories = map[string]ErrorCategory{
	"coreaudio.aggregate": CategoryAggregateDevice,
	"coreaudio.buffer":    CategoryBuffer,
	"coreaudio.mixer":     CategoryMixer,
	"coreaudio.resampler": CategoryResampler,
	"hal.malgo":           CategoryHardware,
	"hal.sim":             CategoryHardware,
	"conf":                CategoryConfiguration,
}

func guessCategory(err error, component string) ErrorCategory {
	if err != nil {
		msg := strings.ToLower(err.Error())
		for _, mc := range messageCategories {
			if strings.Contains(msg, mc.needle) {
				return mc.category
			}
		}
	}
	if c, ok := componentCategories[component]; ok {
		return c
	}
	return CategoryGeneric
}

func inheritedCategory(err error) ErrorCategory {
	var inner *EnhancedError
	if err != nil && stderrors.As(err, &inner) && inner.Category != "" {
		return inner.Category
	}
	return CategoryGeneric
}

func fourCC(v uint32) string {
	b := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return ""
		}
	}
	return string(b)
}

// NewStd, Is, As and Join mirror the standard library so callers need a
// single errors import.

func NewStd(text string) error { return stderrors.New(text) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }

// IsCategory reports whether err wraps an EnhancedError of category.
func IsCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	return stderrors.As(err, &ee) && ee.Category == category
}

// IsNotSupported is IsCategory(err, CategoryNotSupported).
func IsNotSupported(err error) bool { return IsCategory(err, CategoryNotSupported) }
