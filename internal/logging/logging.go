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

	"github.com/skobkin/reefdash/internal/config"
)

// Manager hands out component loggers that share one level and one sink.
// Configure swaps both in place, so loggers obtained earlier follow the
// new settings.
type Manager struct {
	mu      sync.Mutex
	level   slog.LevelVar
	sink    sink
	console io.Writer
	file    *lumberjack.Logger
	root    *slog.Logger
}

func NewManager() *Manager {
	return NewManagerWithConsole(os.Stdout)
}

// NewManagerWithConsole logs to console instead of stdout. A nil console
// writes to the log file only.
func NewManagerWithConsole(console io.Writer) *Manager {
	m := &Manager{console: console}
	m.level.Set(slog.LevelInfo)
	m.sink.set(newFanoutWriter(console))
	m.root = slog.New(slog.NewTextHandler(&m.sink, &slog.HandlerOptions{Level: &m.level}))

	return m
}

// Configure applies the level and opens or closes the rotating log file.
func (m *Manager) Configure(cfg config.LoggingConfig, filePath string) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var next *lumberjack.Logger
	if cfg.LogToFile {
		cleanPath := filepath.Clean(filePath)
		if err := os.MkdirAll(filepath.Dir(cleanPath), 0o750); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		next = &lumberjack.Logger{
			Filename:   cleanPath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			LocalTime:  true,
		}
	}

	m.sink.set(newFanoutWriter(m.console, lumberjackWriter(next)))
	if m.file != nil {
		_ = m.file.Close()
	}
	m.file = next
	m.level.Set(level)
	slog.SetDefault(m.root)

	return nil
}

func (m *Manager) Logger(component string) *slog.Logger {
	return m.root.With("component", component)
}

// Level reports the active minimum level.
func (m *Manager) Level() slog.Level {
	return m.level.Level()
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sink.set(newFanoutWriter(m.console))
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil

	return err
}

// parseLevel maps a config level name onto slog. Empty means info.
func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level: %q", raw)
	}
}

// lumberjackWriter keeps a nil *lumberjack.Logger from becoming a non-nil io.Writer.
func lumberjackWriter(l *lumberjack.Logger) io.Writer {
	if l == nil {
		return nil
	}

	return l
}

// sink is the swappable destination behind every handler.
type sink struct {
	mu sync.RWMutex
	w  io.Writer
}

func (s *sink) set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

func (s *sink) Write(p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.w.Write(p)
}

// fanoutWriter succeeds when at least one destination took the whole record.
type fanoutWriter struct {
	writers []io.Writer
}

func newFanoutWriter(writers ...io.Writer) io.Writer {
	filtered := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			filtered = append(filtered, w)
		}
	}
	if len(filtered) == 0 {
		return io.Discard
	}

	return &fanoutWriter{writers: filtered}
}

func (w *fanoutWriter) Write(p []byte) (int, error) {
	var firstErr error
	delivered := false

	for _, dst := range w.writers {
		n, err := dst.Write(p)
		switch {
		case err != nil:
		case n != len(p):
			err = io.ErrShortWrite
		default:
			delivered = true
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	if delivered || firstErr == nil {
		return len(p), nil
	}

	return 0, firstErr
}
