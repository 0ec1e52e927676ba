package coreaudio

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/observability/metrics"
)

// MetricsCollector records backend metrics. A nil collector or one built
// without BackendMetrics records nothing.
type MetricsCollector struct {
	m *metrics.BackendMetrics
}

// NewMetricsCollector wraps m, which may be nil.
func NewMetricsCollector(m *metrics.BackendMetrics) *MetricsCollector {
	return &MetricsCollector{m: m}
}

func (c *MetricsCollector) enabled() bool {
	return c != nil && c.m != nil
}

func (c *MetricsCollector) activeStreams(n int) {
	if c.enabled() {
		c.m.UpdateActiveStreams(n)
	}
}

func (c *MetricsCollector) stateTransition(state State) {
	if c.enabled() {
		c.m.RecordStateTransition(state.String())
	}
}

func (c *MetricsCollector) setupDuration(kind string, d time.Duration) {
	if c.enabled() {
		c.m.RecordSetupDuration(kind, d.Seconds())
	}
}

func (c *MetricsCollector) reinit(outcome string, d time.Duration) {
	if c.enabled() {
		c.m.RecordReinit(outcome, d.Seconds())
	}
}

func (c *MetricsCollector) coalescedEvent() {
	if c.enabled() {
		c.m.RecordCoalescedEvent()
	}
}

func (c *MetricsCollector) collectionChange(scope hal.Scope) {
	if c.enabled() {
		c.m.RecordCollectionChange(scope.String())
	}
}

func (c *MetricsCollector) listenerFailure(operation string) {
	if c.enabled() {
		c.m.RecordListenerFailure(operation)
	}
}

func (c *MetricsCollector) aggregateDevice(outcome string) {
	if c.enabled() {
		c.m.RecordAggregateDevice(outcome)
	}
}

// Dropout reasons, indexes into streamMetrics.dropouts.
const (
	dropoutInputNotStarted = iota
	dropoutDeviceSwitching
	dropoutUnderrun
	dropoutReasons
)

var dropoutLabels = [dropoutReasons]string{
	metrics.DropoutInputNotStarted,
	metrics.DropoutDeviceSwitching,
	metrics.DropoutUnderrun,
}

var dropoutMessages = [dropoutReasons]string{
	"input hasn't started, padding with silence",
	"device switching, padding with silence",
	"drop out, padding with silence",
}

// streamMetrics holds counters bound once per stream so the realtime
// callbacks never look up labels.
type streamMetrics struct {
	enabled        bool
	input          metrics.CallbackCounters
	output         metrics.CallbackCounters
	dropouts       [dropoutReasons]metrics.DropoutCounters
	renderErrors   prometheus.Counter
	contextErrors  prometheus.Counter
	bufferOverflow prometheus.Counter
	trimmed        prometheus.Counter
}

func (c *MetricsCollector) bindStream() *streamMetrics {
	if !c.enabled() {
		return &streamMetrics{}
	}
	sm := &streamMetrics{
		enabled:        true,
		input:          c.m.BindCallbackCounters("input"),
		output:         c.m.BindCallbackCounters("output"),
		renderErrors:   c.m.BindRenderErrors("other"),
		contextErrors:  c.m.BindRenderErrors("cannot-do-in-current-context"),
		bufferOverflow: c.m.BindDroppedFrames("overflow"),
		trimmed:        c.m.BindDroppedFrames("trimmed"),
	}
	for i, label := range dropoutLabels {
		sm.dropouts[i] = c.m.BindDropoutCounters(label)
	}
	return sm
}

func (sm *streamMetrics) inputCallback(frames int) {
	if sm.enabled {
		sm.input.Callbacks.Inc()
		sm.input.Frames.Add(float64(frames))
	}
}

func (sm *streamMetrics) outputCallback(frames int) {
	if sm.enabled {
		sm.output.Callbacks.Inc()
		sm.output.Frames.Add(float64(frames))
	}
}

func (sm *streamMetrics) dropout(reason int, frames int64) {
	if sm.enabled {
		sm.dropouts[reason].Events.Inc()
		sm.dropouts[reason].Frames.Add(float64(frames))
	}
}

func (sm *streamMetrics) renderError(status hal.Status) {
	if !sm.enabled {
		return
	}
	if status == hal.StatusCannotDoInCurrentContext {
		sm.contextErrors.Inc()
		return
	}
	sm.renderErrors.Inc()
}

func (sm *streamMetrics) overflow(samples uint64) {
	if sm.enabled && samples > 0 {
		sm.bufferOverflow.Add(float64(samples))
	}
}

func (sm *streamMetrics) trim(frames int) {
	if sm.enabled && frames > 0 {
		sm.trimmed.Add(float64(frames))
	}
}
