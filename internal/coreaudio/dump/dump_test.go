package dump

import (
	"os"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func decode(t *testing.T, path string) (*wav.Decoder, []int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	return dec, buf.Data
}

func TestWriteInt16(t *testing.T) {
	w, err := New(t.TempDir(), "input", pcm.S16LE, 48000, 2)
	require.NoError(t, err)

	data := make([]byte, 8)
	for i, v := range []int16{1, -1, 1000, -32768} {
		pcm.PutInt16(data, i, v)
	}
	w.Write(data[:4])
	w.Write(data[4:])
	require.NoError(t, w.Close())

	dec, samples := decode(t, w.Path())
	assert.Equal(t, uint32(48000), dec.SampleRate)
	assert.Equal(t, uint16(2), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)
	assert.Equal(t, []int{1, -1, 1000, -32768}, samples)
}

func TestWriteFloatIsConvertedAndClamped(t *testing.T) {
	w, err := New(t.TempDir(), "output", pcm.F32LE, 44100, 1)
	require.NoError(t, err)

	data := make([]byte, 12)
	pcm.PutFloat32(data, 0, 0.5)
	pcm.PutFloat32(data, 1, -2)
	pcm.PutFloat32(data, 2, 0)
	w.Write(data)
	require.NoError(t, w.Close())

	_, samples := decode(t, w.Path())
	assert.Equal(t, []int{16384, -32768, 0}, samples)
}

func TestWriteAfterCloseIsIgnored(t *testing.T) {
	w, err := New(t.TempDir(), "late", pcm.S16LE, 8000, 1)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	w.Write([]byte{1, 0})
	assert.Zero(t, w.Dropped())

	var nilWriter *Writer
	nilWriter.Write([]byte{1, 0})
	assert.NoError(t, nilWriter.Close())
}

func TestNewRejectsInvalidFormat(t *testing.T) {
	_, err := New(t.TempDir(), "bad", pcm.S16LE, 0, 1)
	assert.Error(t, err)
}
