package coreaudio

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/go-cubeb/internal/conf"
	"github.com/tphakala/go-cubeb/internal/coreaudio/aggregate"
	"github.com/tphakala/go-cubeb/internal/coreaudio/critsec"
	"github.com/tphakala/go-cubeb/internal/coreaudio/dispatch"
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
	"github.com/tphakala/go-cubeb/internal/errors"
	"github.com/tphakala/go-cubeb/internal/logging"
	"github.com/tphakala/go-cubeb/internal/observability/metrics"
)

const (
	deviceCacheTTL     = 5 * time.Second
	deviceCacheCleanup = 10 * time.Minute
)

// Context owns the serial queue, active stream bookkeeping and device
// collection listeners shared by its streams.
type Context struct {
	hw       hal.Hardware
	settings conf.BackendSettings
	dumpCfg  conf.DumpSettings
	logger   *slog.Logger
	metrics  *MetricsCollector
	quirks   *aggregate.QuirkTable

	mu    *critsec.Section
	queue *dispatch.Queue

	// Guarded by mu.
	activeStreams       int
	globalLatencyFrames uint32
	outputChannels      int
	outputLayout        pcm.ChannelLayout
	collections         [2]collection // indexed by collectionIndex
	systemListener      hal.ListenerToken
	systemListenerRefs  int

	streamsMu sync.RWMutex
	streams   map[uuid.UUID]*Stream

	devices   *cache.Cache
	destroyed atomic.Bool
}

// Option configures a Context.
type Option func(*Context)

// WithSettings applies backend and dump settings.
func WithSettings(s *conf.Settings) Option {
	return func(c *Context) {
		if s == nil {
			return
		}
		c.settings = s.Backend
		c.dumpCfg = s.Dump
	}
}

// WithLogger replaces the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records backend metrics into m.
func WithMetrics(m *metrics.BackendMetrics) Option {
	return func(c *Context) {
		c.metrics = NewMetricsCollector(m)
	}
}

// Init creates a Context on hw.
func Init(hw hal.Hardware, opts ...Option) (*Context, error) {
	if hw == nil {
		return nil, errors.New(ErrInvalidParameter).
			Component(component).
			Context("operation", "init context").
			Context("reason", "nil hardware").
			Build()
	}

	defaults := conf.Default()
	logger := logging.ForService("coreaudio")
	if logger == nil {
		logger = slog.Default()
	}
	c := &Context{
		hw:       hw,
		settings: defaults.Backend,
		dumpCfg:  defaults.Dump,
		logger:   logger,
		metrics:  NewMetricsCollector(nil),
		mu:       critsec.New("coreaudio context"),
		streams:  make(map[uuid.UUID]*Stream),
		devices:  cache.New(deviceCacheTTL, deviceCacheCleanup),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "context")
	c.quirks = aggregate.NewQuirkTable(c.settings.Quirks)
	c.queue = dispatch.New("coreaudio.serial", dispatch.DefaultDepth)

	c.logger.Info("context initialized",
		"backend", BackendID,
		"min_latency_frames", c.settings.MinLatencyFrames,
		"max_latency_frames", c.settings.MaxLatencyFrames,
		"aggregate_enabled", c.settings.Aggregate.Enabled,
		"quirks", c.quirks.Len())
	return c, nil
}

// Destroy releases the Context. Streams still active are a caller bug and are
// only logged.
func (c *Context) Destroy() {
	if !c.destroyed.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	if c.activeStreams > 0 {
		c.logger.Error("context destroyed with active streams",
			"active_streams", c.activeStreams,
			"category", string(errors.CategoryAPIMisuse))
	}
	for i := range c.collections {
		c.collections[i] = collection{}
	}
	c.releaseSystemListenerLocked(true)
	c.mu.Unlock()

	c.queue.Close()
	c.devices.Flush()
	c.logger.Info("context destroyed")
}

// BackendID returns the backend name.
func (c *Context) BackendID() string {
	return BackendID
}

// MaxChannelCount returns the channel count of the default output device.
func (c *Context) MaxChannelCount() (int, error) {
	id, err := c.hw.DefaultDevice(hal.ScopeOutput)
	if err != nil {
		return 0, deviceError("get default output device", id, hal.ScopeOutput, err)
	}
	channels, err := c.hw.ChannelCount(id, hal.ScopeOutput)
	if err != nil {
		return 0, deviceError("get output channel count", id, hal.ScopeOutput, err)
	}
	return channels, nil
}

// MinLatency returns the smallest latency in frames a stream can use on the
// default output device.
func (c *Context) MinLatency() (uint32, error) {
	id, err := c.hw.DefaultDevice(hal.ScopeOutput)
	if err != nil {
		return 0, deviceError("get default output device", id, hal.ScopeOutput, err)
	}
	r, err := c.hw.BufferFrameSizeRange(id, hal.ScopeOutput)
	if err != nil {
		return 0, deviceError("get buffer frame size range", id, hal.ScopeOutput, err)
	}
	return max(uint32(r.Min), c.minLatency()), nil
}

// PreferredSampleRate returns the nominal rate of the default output device.
func (c *Context) PreferredSampleRate() (uint32, error) {
	id, err := c.hw.DefaultDevice(hal.ScopeOutput)
	if err != nil {
		return 0, deviceError("get default output device", id, hal.ScopeOutput, err)
	}
	rate, err := c.hw.NominalSampleRate(id)
	if err != nil {
		return 0, deviceError("get nominal sample rate", id, hal.ScopeOutput, err)
	}
	return uint32(rate), nil
}

// ActiveStreams returns the number of initialized streams.
func (c *Context) ActiveStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeStreams
}

func (c *Context) minLatency() uint32 {
	if c.settings.MinLatencyFrames == 0 {
		return SafeMinLatencyFrames
	}
	return c.settings.MinLatencyFrames
}

func (c *Context) maxLatency() uint32 {
	if c.settings.MaxLatencyFrames == 0 {
		return SafeMaxLatencyFrames
	}
	return c.settings.MaxLatencyFrames
}

func (c *Context) clampLatency(frames uint32) uint32 {
	return min(max(frames, c.minLatency()), c.maxLatency())
}

// addStreamLocked counts a configured stream.
func (c *Context) addStreamLocked() {
	c.mu.AssertCurrentOwner()
	c.activeStreams++
	c.metrics.activeStreams(c.activeStreams)
}

// removeStreamLocked uncounts a stream. The shared latency is forgotten once
// no stream remains.
func (c *Context) removeStreamLocked() {
	c.mu.AssertCurrentOwner()
	if c.activeStreams == 0 {
		c.logger.Error("active stream count underflow")
		return
	}
	c.activeStreams--
	if c.activeStreams == 0 {
		c.globalLatencyFrames = 0
	}
	c.metrics.activeStreams(c.activeStreams)
}

func (c *Context) register(s *Stream) {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	c.streams[s.id] = s
}

func (c *Context) unregister(id uuid.UUID) {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	delete(c.streams, id)
}

func (c *Context) lookup(id uuid.UUID) *Stream {
	c.streamsMu.RLock()
	defer c.streamsMu.RUnlock()
	return c.streams[id]
}

// streamListener returns a hardware listener that reaches the stream through
// the registry, so a late notification after teardown is dropped.
func (c *Context) streamListener(id uuid.UUID) hal.ListenerFunc {
	return func(device hal.ObjectID, addrs []hal.Address) {
		s := c.lookup(id)
		if s == nil {
			c.logger.Debug("property change for unknown stream", "stream", id.String())
			return
		}
		s.propertyChanged(device, addrs)
	}
}
