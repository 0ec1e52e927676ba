package coreaudio

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/go-cubeb/internal/conf"
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal/simhal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
	"github.com/tphakala/go-cubeb/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// testEnv bundles simulated hardware, a context and its metrics registry.
type testEnv struct {
	hw       *simhal.Hardware
	ctx      *Context
	registry *prometheus.Registry
}

func newEnv(t *testing.T, mutate func(*conf.Settings)) *testEnv {
	t.Helper()
	return newEnvOn(t, simhal.NewDefault(), mutate)
}

func newEnvOn(t *testing.T, hw *simhal.Hardware, mutate func(*conf.Settings)) *testEnv {
	t.Helper()
	settings := conf.Default()
	settings.Backend.BufferSizeChange.Polls = 3
	settings.Backend.BufferSizeChange.Interval = time.Millisecond
	if mutate != nil {
		mutate(settings)
	}
	registry := prometheus.NewRegistry()
	m, err := metrics.NewBackendMetrics(registry)
	require.NoError(t, err)

	ctx, err := Init(hw,
		WithSettings(settings),
		WithLogger(slog.New(slog.DiscardHandler)),
		WithMetrics(m))
	require.NoError(t, err)
	t.Cleanup(ctx.Destroy)
	return &testEnv{hw: hw, ctx: ctx, registry: registry}
}

// sync waits for every task queued so far on the serial queue.
func (e *testEnv) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, e.ctx.queue.RunSync(func() {}))
}

// metric sums every sample of the named counter family.
func (e *testEnv) metric(t *testing.T, name string, labels ...string) float64 {
	t.Helper()
	families, err := e.registry.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if hasLabels(m, labels) {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

// hasLabels reports whether m carries every name, value pair in labels.
func hasLabels(m *dto.Metric, labels []string) bool {
	for i := 0; i+1 < len(labels); i += 2 {
		found := false
		for _, lp := range m.GetLabel() {
			if lp.GetName() == labels[i] && lp.GetValue() == labels[i+1] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// recorder captures state and device changed notifications.
type recorder struct {
	mu      sync.Mutex
	states  []State
	changes int
}

func (r *recorder) state(_ *Stream, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) deviceChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes++
}

func (r *recorder) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recorder) Changes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changes
}

func floatParams(channels int) *pcm.Params {
	return &pcm.Params{Format: pcm.F32LE, Rate: 48000, Channels: channels}
}

// constantOutput fills every output sample with v.
func constantOutput(v float32, channels int) DataCallback {
	return func(_ *Stream, _, out []byte, frames int) int {
		for i := range frames * channels {
			pcm.PutFloat32(out, i, v)
		}
		return frames
	}
}

func (e *testEnv) newStream(t *testing.T, opts StreamOptions) *Stream {
	t.Helper()
	s, err := e.ctx.NewStream(opts)
	require.NoError(t, err)
	t.Cleanup(s.Destroy)
	return s
}
