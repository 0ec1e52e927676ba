// Package logging configures the slog loggers shared by the backend and the
// command line tools: JSON on stdout for machines, text on stderr for people,
// and optional rotated JSON files.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var (
	mu         sync.RWMutex
	structured *slog.Logger
	human      *slog.Logger

	// Current outputs and level, kept so SetLevel and SetOutput can rebuild
	// the handlers independently.
	jsonOut  io.Writer = os.Stdout
	textOut  io.Writer = os.Stderr
	minLevel           = slog.LevelInfo
)

// levelAttr names the custom levels in both handlers.
func levelAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	switch level, _ := a.Value.Any().(slog.Level); level {
	case LevelTrace:
		a.Value = slog.StringValue("TRACE")
	case LevelFatal:
		a.Value = slog.StringValue("FATAL")
	}
	return a
}

// Init installs the default loggers at info level and makes the JSON one
// the slog default.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	jsonOut, textOut, minLevel = os.Stdout, os.Stderr, slog.LevelInfo
	rebuildLocked()
}

// SetLevel changes the minimum level. Loggers already handed out by
// ForService keep the level they were created with.
func SetLevel(level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = level
	rebuildLocked()
}

// SetOutput redirects both loggers, typically to buffers in tests.
func SetOutput(jsonW, textW io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	jsonOut, textOut = jsonW, textW
	rebuildLocked()
}

func rebuildLocked() {
	opts := &slog.HandlerOptions{Level: minLevel, ReplaceAttr: levelAttr}
	structured = slog.New(slog.NewJSONHandler(jsonOut, opts))
	human = slog.New(slog.NewTextHandler(textOut, opts))
	slog.SetDefault(structured)
}

// ForService returns the structured logger tagged with service, or nil
// before Init.
func ForService(service string) *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if structured == nil {
		return nil
	}
	return structured.With("service", service)
}

// Console returns the text logger for interactive output, or nil before
// Init.
func Console() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return human
}

// Rotation bounds a file logger. Zero fields take lumberjack-style defaults
// of 100 MB, 3 backups and 28 days.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// NewFileLogger writes JSON logs for service to path, rotating per rotation.
// The returned func closes the file.
func NewFileLogger(path, service string, level slog.Level, rotation Rotation) (*slog.Logger, func() error, error) {
	// lumberjack creates the file but not its directory.
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory %s: %w", dir, err)
		}
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    orDefault(rotation.MaxSizeMB, 100),
		MaxBackups: orDefault(rotation.MaxBackups, 3),
		MaxAge:     orDefault(rotation.MaxAgeDays, 28),
		Compress:   rotation.Compress,
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, ReplaceAttr: levelAttr})
	return slog.New(h).With("service", service), w.Close, nil
}

// ParseLevel accepts the slog level names plus trace and fatal, in any case.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "trace":
		return LevelTrace, nil
	case "fatal":
		return LevelFatal, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q: %w", name, err)
	}
	return level, nil
}
