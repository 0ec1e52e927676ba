// Package metrics provides backend metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Dropout reasons recorded when the output callback pads missing input.
const (
	DropoutInputNotStarted = "input_not_started"
	DropoutDeviceSwitching = "device_switching"
	DropoutUnderrun        = "drop_out"
)

// BackendMetrics contains Prometheus metrics for the audio unit backend
type BackendMetrics struct {
	registry *prometheus.Registry

	// Realtime metrics
	callbacks     *prometheus.CounterVec
	frames        *prometheus.CounterVec
	dropouts      *prometheus.CounterVec
	paddedFrames  *prometheus.CounterVec
	renderErrors  *prometheus.CounterVec
	droppedFrames *prometheus.CounterVec

	// Stream lifecycle metrics
	activeStreams    prometheus.Gauge
	stateTransitions *prometheus.CounterVec
	setupDuration    *prometheus.HistogramVec

	// Reconfiguration metrics
	reinits           *prometheus.CounterVec
	reinitDuration    prometheus.Histogram
	coalescedEvents   prometheus.Counter
	collectionChanges *prometheus.CounterVec
	listenerFailures  *prometheus.CounterVec

	// Aggregate device metrics
	aggregateDevices *prometheus.CounterVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewBackendMetrics creates and registers new backend metrics
func NewBackendMetrics(registry *prometheus.Registry) (*BackendMetrics, error) {
	m := &BackendMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *BackendMetrics) initMetrics() {
	m.callbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubeb_callbacks_total",
			Help: "Total number of realtime audio callbacks",
		},
		[]string{"direction"},
	)

	m.frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubeb_frames_total",
			Help: "Total number of frames delivered by realtime callbacks",
		},
		[]string{"direction"},
	)

	m.dropouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubeb_dropouts_total",
			Help: "Output callbacks that had to pad missing input with silence",
		},
		[]string{"reason"},
	)

	m.paddedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubeb_padded_frames_total",
			Help: "Input frames of silence inserted to cover missing input",
		},
		[]string{"reason"},
	)

	m.renderErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubeb_render_errors_total",
			Help: "Input render failures by status",
		},
		[]string{"status"},
	)

	m.droppedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubeb_dropped_frames_total",
			Help: "Input frames discarded because the linear buffer was full or trimmed",
		},
		[]string{"reason"},
	)

	m.activeStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cubeb_active_streams",
			Help: "Number of streams currently initialized",
		},
	)

	m.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubeb_state_transitions_total",
			Help: "State callbacks delivered to clients",
		},
		[]string{"state"},
	)

	m.setupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cubeb_stream_setup_duration_seconds",
			Help:    "Time taken to configure audio units for a stream",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"kind"},
	)

	m.reinits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubeb_reinit_total",
			Help: "Asynchronous stream reinitializations by outcome",
		},
		[]string{"outcome"},
	)

	m.reinitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cubeb_reinit_duration_seconds",
			Help:    "Time taken to tear down and rebuild a stream after a device change",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)

	m.coalescedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cubeb_device_events_coalesced_total",
			Help: "Device change events ignored because a switch was already in progress",
		},
	)

	m.collectionChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubeb_collection_changes_total",
			Help: "Device collection changes delivered to clients",
		},
		[]string{"direction"},
	)

	m.listenerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubeb_listener_failures_total",
			Help: "Property listener install or uninstall failures",
		},
		[]string{"operation"},
	)

	m.aggregateDevices = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cubeb_aggregate_devices_total",
			Help: "Aggregate device lifecycle events by outcome",
		},
		[]string{"outcome"},
	)

	m.collectors = []prometheus.Collector{
		m.callbacks, m.frames, m.dropouts, m.paddedFrames, m.renderErrors, m.droppedFrames,
		m.activeStreams, m.stateTransitions, m.setupDuration,
		m.reinits, m.reinitDuration, m.coalescedEvents, m.collectionChanges, m.listenerFailures,
		m.aggregateDevices,
	}
}

// Describe implements the Collector interface
func (m *BackendMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *BackendMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// CallbackCounters holds counters pre-bound to their labels so realtime callbacks
// never perform a label lookup.
type CallbackCounters struct {
	Callbacks prometheus.Counter
	Frames    prometheus.Counter
}

// BindCallbackCounters returns the pre-bound counters for a direction.
func (m *BackendMetrics) BindCallbackCounters(direction string) CallbackCounters {
	return CallbackCounters{
		Callbacks: m.callbacks.WithLabelValues(direction),
		Frames:    m.frames.WithLabelValues(direction),
	}
}

// DropoutCounters holds dropout counters pre-bound to one reason.
type DropoutCounters struct {
	Events prometheus.Counter
	Frames prometheus.Counter
}

// BindDropoutCounters returns the pre-bound dropout counters for a reason.
func (m *BackendMetrics) BindDropoutCounters(reason string) DropoutCounters {
	return DropoutCounters{
		Events: m.dropouts.WithLabelValues(reason),
		Frames: m.paddedFrames.WithLabelValues(reason),
	}
}

// BindDroppedFrames returns the pre-bound counter of discarded input frames.
func (m *BackendMetrics) BindDroppedFrames(reason string) prometheus.Counter {
	return m.droppedFrames.WithLabelValues(reason)
}

// BindRenderErrors returns the pre-bound counter of input render failures.
func (m *BackendMetrics) BindRenderErrors(status string) prometheus.Counter {
	return m.renderErrors.WithLabelValues(status)
}

// Lifecycle recording methods

// UpdateActiveStreams sets the number of initialized streams
func (m *BackendMetrics) UpdateActiveStreams(count int) {
	m.activeStreams.Set(float64(count))
}

// RecordStateTransition records a state delivered to a client
func (m *BackendMetrics) RecordStateTransition(state string) {
	m.stateTransitions.WithLabelValues(state).Inc()
}

// RecordSetupDuration records how long configuring a stream took
func (m *BackendMetrics) RecordSetupDuration(kind string, seconds float64) {
	m.setupDuration.WithLabelValues(kind).Observe(seconds)
}

// Reconfiguration recording methods

// RecordReinit records a reinitialization outcome
func (m *BackendMetrics) RecordReinit(outcome string, seconds float64) {
	m.reinits.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		m.reinitDuration.Observe(seconds)
	}
}

// RecordCoalescedEvent records a device event dropped during a switch
func (m *BackendMetrics) RecordCoalescedEvent() {
	m.coalescedEvents.Inc()
}

// RecordCollectionChange records a collection change delivered to a client
func (m *BackendMetrics) RecordCollectionChange(direction string) {
	m.collectionChanges.WithLabelValues(direction).Inc()
}

// RecordListenerFailure records a failed listener install or uninstall
func (m *BackendMetrics) RecordListenerFailure(operation string) {
	m.listenerFailures.WithLabelValues(operation).Inc()
}

// RecordAggregateDevice records an aggregate device lifecycle event
func (m *BackendMetrics) RecordAggregateDevice(outcome string) {
	m.aggregateDevices.WithLabelValues(outcome).Inc()
}
