// Package app wires settings, logging, metrics and a hardware layer into a
// running coreaudio Context for the command line tools.
package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/go-cubeb/internal/buildinfo"
	"github.com/tphakala/go-cubeb/internal/conf"
	"github.com/tphakala/go-cubeb/internal/coreaudio"
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal/malgohal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal/simhal"
	"github.com/tphakala/go-cubeb/internal/errors"
	"github.com/tphakala/go-cubeb/internal/logging"
	"github.com/tphakala/go-cubeb/internal/observability"
)

const (
	// SimPeriodFrames is the period the simulated hardware clock runs.
	SimPeriodFrames = 512
	// devicePollInterval is how often real devices are re-enumerated.
	devicePollInterval = time.Second
)

// Session is a live backend: a Context on real or simulated hardware.
type Session struct {
	Settings *conf.Settings
	Context  *coreaudio.Context
	Hardware hal.Hardware
	Logger   *slog.Logger
	Metrics  *observability.Metrics

	sim      *simhal.Hardware
	malgo    *malgohal.Hardware
	closeLog func() error
}

// Opener opens a Session once flags and config are loaded.
type Opener func() (*Session, error)

// Sim returns the simulated hardware, or nil on real hardware.
func (s *Session) Sim() *simhal.Hardware { return s.sim }

// Open builds a Session from settings.
func Open(settings *conf.Settings, build *buildinfo.Context) (*Session, error) {
	s := &Session{Settings: settings}
	if err := s.setupLogging(); err != nil {
		return nil, err
	}
	if settings.Telemetry.Enabled {
		if err := errors.InitSentry(settings.Telemetry.SentryDSN, build.GetVersion()); err != nil {
			s.Logger.Warn("telemetry disabled", "error", err)
		}
	}

	m, err := observability.NewMetrics()
	if err != nil {
		s.close()
		return nil, err
	}
	s.Metrics = m

	switch settings.Backend.Hardware {
	case conf.HardwareSim:
		s.sim = simhal.NewDefault()
		s.Hardware = s.sim
	default:
		hw, err := malgohal.New(s.Logger)
		if err != nil {
			s.close()
			return nil, err
		}
		s.malgo = hw
		s.Hardware = hw
	}

	ctx, err := coreaudio.Init(s.Hardware,
		coreaudio.WithSettings(settings),
		coreaudio.WithLogger(s.Logger),
		coreaudio.WithMetrics(m.Backend))
	if err != nil {
		s.close()
		return nil, err
	}
	s.Context = ctx
	s.Logger.Info("backend ready",
		"hardware", settings.Backend.Hardware,
		"version", build.GetVersion())
	return s, nil
}

func (s *Session) setupLogging() error {
	level, err := logging.ParseLevel(s.Settings.Log.Level)
	if err != nil {
		return errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("setting", "log.level").
			Build()
	}
	if s.Settings.Debug {
		level = slog.LevelDebug
	}
	logging.SetLevel(level)

	if s.Settings.Log.File != "" {
		l, closeFn, err := logging.NewFileLogger(s.Settings.Log.File, "coreaudio", level, logging.Rotation{
			MaxSizeMB:  s.Settings.Log.MaxSizeMB,
			MaxBackups: s.Settings.Log.MaxBackups,
			MaxAgeDays: s.Settings.Log.MaxAgeDays,
			Compress:   s.Settings.Log.Compress,
		})
		if err != nil {
			return errors.New(err).
				Component("app").
				Category(errors.CategoryFileIO).
				Context("setting", "log.file").
				Build()
		}
		s.Logger, s.closeLog = l, closeFn
		return nil
	}
	s.Logger = logging.ForService("coreaudio")
	return nil
}

// Run calls fn with ctx and keeps the support goroutines (metrics endpoint,
// device polling, simulated clock) alive until fn returns or one of them
// fails. The Session is closed on return.
func (s *Session) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	defer s.close()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	if s.Settings.Metrics.Enabled {
		endpoint, err := observability.NewEndpoint(s.Settings, s.Metrics)
		if err != nil {
			return err
		}
		g.Go(func() error { return endpoint.Run(runCtx) })
	}
	if s.malgo != nil {
		g.Go(func() error { return ignoreCanceled(s.malgo.Watch(runCtx, devicePollInterval)) })
	}
	if s.sim != nil {
		g.Go(func() error { return ignoreCanceled(s.clock(runCtx)) })
	}
	g.Go(func() error {
		defer cancel()
		return fn(runCtx)
	})
	return g.Wait()
}

// clock drives the simulated hardware in real time.
func (s *Session) clock(ctx context.Context) error {
	period := time.Duration(float64(time.Second) * SimPeriodFrames / 48000)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sim.RunCycle(SimPeriodFrames)
		}
	}
}

func (s *Session) close() {
	if s.Context != nil {
		s.Context.Destroy()
		s.Context = nil
	}
	if s.malgo != nil {
		if err := s.malgo.Close(); err != nil {
			s.Logger.Warn("failed to close hardware", "error", err)
		}
		s.malgo = nil
	}
	if s.closeLog != nil {
		_ = s.closeLog()
		s.closeLog = nil
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
