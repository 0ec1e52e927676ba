// Package dump taps realtime audio into WAV files for debugging.
//
// Write never blocks: chunks are copied onto a bounded channel and a writer
// goroutine encodes them. When the writer falls behind, chunks are dropped
// and counted.
package dump

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
	"github.com/tphakala/go-cubeb/internal/errors"
	"github.com/tphakala/go-cubeb/internal/logging"
)

const (
	bitDepth    = 16
	pcmAudio    = 1 // WAV format tag for integer PCM
	queueLength = 256
)

// Writer encodes interleaved samples of one stream direction to a WAV file.
type Writer struct {
	path     string
	format   pcm.SampleFormat
	channels int

	chunks    chan []byte
	done      chan struct{}
	mu        sync.RWMutex // guards closed against concurrent Write
	closed    bool
	closeOnce sync.Once
	err       error

	dropped atomic.Uint64
	logger  *slog.Logger
}

func logger() *slog.Logger {
	l := logging.ForService("coreaudio")
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", "dump")
}

// New creates dir if needed and opens <dir>/<name>-<timestamp>.wav. Samples
// are stored as 16-bit PCM whatever the stream format.
func New(dir, name string, format pcm.SampleFormat, rate uint32, channels int) (*Writer, error) {
	if !format.Valid() || rate == 0 || channels <= 0 {
		return nil, errors.Newf("invalid dump format %s/%d/%d", format, rate, channels).
			Component("coreaudio.dump").
			Category(errors.CategoryInvalidParameter).
			Build()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(err).
			Component("coreaudio.dump").
			Category(errors.CategoryFileIO).
			Context("operation", "create dump directory").
			Context("dir", dir).
			Build()
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.wav", name, time.Now().Format("20060102-150405.000")))
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.New(err).
			Component("coreaudio.dump").
			Category(errors.CategoryFileIO).
			Context("operation", "create dump file").
			Context("path", path).
			Build()
	}

	w := &Writer{
		path:     path,
		format:   format,
		channels: channels,
		chunks:   make(chan []byte, queueLength),
		done:     make(chan struct{}),
		logger:   logger().With("path", path),
	}
	enc := wav.NewEncoder(f, int(rate), bitDepth, channels, pcmAudio)
	go w.run(f, enc, int(rate))
	return w, nil
}

func (w *Writer) run(f *os.File, enc *wav.Encoder, rate int) {
	defer close(w.done)

	buf := &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: rate, NumChannels: w.channels},
		SourceBitDepth: bitDepth,
	}
	var writeErr error
	for chunk := range w.chunks {
		if writeErr != nil {
			continue
		}
		buf.Data = w.toInts(chunk, buf.Data[:0])
		if err := enc.Write(buf); err != nil {
			writeErr = err
			w.logger.Warn("dump write failed, discarding further audio", "error", err)
		}
	}

	if err := enc.Close(); err != nil && writeErr == nil {
		writeErr = err
	}
	if err := f.Close(); err != nil && writeErr == nil {
		writeErr = err
	}
	if writeErr != nil {
		w.err = errors.New(writeErr).
			Component("coreaudio.dump").
			Category(errors.CategoryFileIO).
			Context("operation", "write dump file").
			Context("path", w.path).
			Build()
	}
}

func (w *Writer) toInts(chunk []byte, dst []int) []int {
	n := len(chunk) / w.format.BytesPerSample()
	for i := range n {
		if w.format.IsFloat() {
			dst = append(dst, int(pcm.ClampInt16(pcm.SampleAt(w.format, chunk, i)*32768)))
		} else {
			dst = append(dst, int(pcm.Int16At(chunk, i)))
		}
	}
	return dst
}

// Write queues a copy of data, whole frames of little-endian samples. It is
// safe to call from a realtime callback.
func (w *Writer) Write(data []byte) {
	if w == nil || len(data) == 0 {
		return
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.chunks <- append([]byte(nil), data...):
	default:
		w.dropped.Add(1)
	}
}

// Close flushes queued audio, finalizes the WAV header and closes the file.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.chunks)
		w.mu.Unlock()
		<-w.done
		if n := w.dropped.Load(); n > 0 {
			w.logger.Warn("dump dropped audio chunks", "chunks", n)
		}
	})
	return w.err
}

// Path returns the file being written.
func (w *Writer) Path() string { return w.path }

// Dropped returns the number of chunks discarded because the writer was behind.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }
