package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendMetricsRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewBackendMetrics(registry)
	require.NoError(t, err)

	_, err = NewBackendMetrics(registry)
	assert.Error(t, err, "registering twice on one registry must fail")

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotNil(t, families)
	assert.NotNil(t, m)
}

func TestPreBoundCounters(t *testing.T) {
	m, err := NewBackendMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	out := m.BindCallbackCounters("output")
	out.Callbacks.Inc()
	out.Callbacks.Inc()
	out.Frames.Add(512)

	dropout := m.BindDropoutCounters(DropoutDeviceSwitching)
	dropout.Events.Inc()
	dropout.Frames.Add(128)

	assert.InDelta(t, 2, testutil.ToFloat64(m.callbacks.WithLabelValues("output")), 0)
	assert.InDelta(t, 512, testutil.ToFloat64(m.frames.WithLabelValues("output")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.callbacks.WithLabelValues("input")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.dropouts.WithLabelValues(DropoutDeviceSwitching)), 0)
	assert.InDelta(t, 128, testutil.ToFloat64(m.paddedFrames.WithLabelValues(DropoutDeviceSwitching)), 0)
}

func TestLifecycleRecording(t *testing.T) {
	m, err := NewBackendMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.UpdateActiveStreams(2)
	m.RecordStateTransition("started")
	m.RecordReinit("success", 0.25)
	m.RecordReinit("skipped", 0)
	m.RecordCoalescedEvent()
	m.RecordAggregateDevice("created")
	m.RecordListenerFailure("install")
	m.RecordCollectionChange("output")

	assert.InDelta(t, 2, testutil.ToFloat64(m.activeStreams), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.stateTransitions.WithLabelValues("started")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.reinits.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.reinits.WithLabelValues("skipped")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.coalescedEvents), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.aggregateDevices.WithLabelValues("created")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.listenerFailures.WithLabelValues("install")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.collectionChanges.WithLabelValues("output")), 0)
}
