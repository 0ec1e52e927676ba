package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/go-cubeb/internal/buildinfo"
	"github.com/tphakala/go-cubeb/internal/conf"
	"github.com/tphakala/go-cubeb/internal/coreaudio"
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
	"github.com/tphakala/go-cubeb/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func simSettings() *conf.Settings {
	s := conf.Default()
	s.Backend.Hardware = conf.HardwareSim
	s.Log.Level = "error"
	return s
}

func TestSessionPlaysOnSimulatedClock(t *testing.T) {
	s, err := Open(simSettings(), buildinfo.New("test", ""))
	require.NoError(t, err)
	require.NotNil(t, s.Sim())

	err = s.Run(context.Background(), func(ctx context.Context) error {
		stream, err := s.Context.NewStream(coreaudio.StreamOptions{
			Name:   "session-test",
			Output: &pcm.Params{Format: pcm.F32LE, Rate: 48000, Channels: 2},
			DataCallback: func(_ *coreaudio.Stream, _, out []byte, frames int) int {
				return frames
			},
			StateCallback: func(*coreaudio.Stream, coreaudio.State) {},
		})
		if err != nil {
			return err
		}
		defer stream.Destroy()
		if err := stream.Start(); err != nil {
			return err
		}
		assert.Eventually(t, func() bool { return stream.Position() > 0 }, 2*time.Second, 5*time.Millisecond)
		return stream.Stop()
	})
	require.NoError(t, err)
	assert.Nil(t, s.Context, "Run closes the session")
}

func TestSessionReturnsFirstError(t *testing.T) {
	s, err := Open(simSettings(), buildinfo.New("test", ""))
	require.NoError(t, err)

	boom := errors.NewStd("boom")
	err = s.Run(context.Background(), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestSessionStopsOnCancel(t *testing.T) {
	s, err := Open(simSettings(), buildinfo.New("test", ""))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Run(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	require.NoError(t, err)
}

func TestOpenRejectsBadLogLevel(t *testing.T) {
	settings := simSettings()
	settings.Log.Level = "loud"
	_, err := Open(settings, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
