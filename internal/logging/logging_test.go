package logging

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/skobkin/reefdash/internal/config"
)

func TestFanoutWriter(t *testing.T) {
	var dst bytes.Buffer
	tests := []struct {
		name    string
		writers []io.Writer
		wantErr bool
		wantDst string
	}{
		{name: "one destination fails", writers: []io.Writer{errorWriter{err: errors.New("broken stdout")}, &dst}, wantDst: "test"},
		{name: "short write counts as failure", writers: []io.Writer{shortWriter{}}, wantErr: true},
		{name: "no destinations"},
	}

	for _, tc := range tests {
		dst.Reset()
		n, err := newFanoutWriter(tc.writers...).Write([]byte("test"))
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: write returned error: %v", tc.name, err)
		}
		if n != len("test") {
			t.Fatalf("%s: unexpected bytes written: got %d", tc.name, n)
		}
		if got := dst.String(); got != tc.wantDst {
			t.Fatalf("%s: unexpected destination contents: got %q", tc.name, got)
		}
	}
}

func TestManagerConfigure_LogFileStillReceivesLogsWhenStdoutFails(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	origStdout := os.Stdout
	t.Cleanup(func() { os.Stdout = origStdout })

	brokenStdout, err := os.CreateTemp(t.TempDir(), "broken-stdout-*")
	if err != nil {
		t.Fatalf("create broken stdout: %v", err)
	}
	if err := brokenStdout.Close(); err != nil {
		t.Fatalf("close broken stdout: %v", err)
	}
	os.Stdout = brokenStdout

	logPath := filepath.Join(t.TempDir(), "reefdash.log")
	m := NewManager()
	t.Cleanup(func() { _ = m.Close() })

	if err := m.Configure(config.LoggingConfig{Level: "debug", LogToFile: true}, logPath); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	slog.Info("file must receive this message")

	if err := m.Close(); err != nil {
		t.Fatalf("close manager: %v", err)
	}

	if raw := readLog(t, logPath); !strings.Contains(raw, "file must receive this message") {
		t.Fatalf("log file does not contain test message, contents: %q", raw)
	}
}

func TestManagerConfigure_RotatingFileWithoutConsole(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	logPath := filepath.Join(t.TempDir(), "logs", "reefdash.log")
	m := NewManagerWithConsole(nil)
	t.Cleanup(func() { _ = m.Close() })

	cfg := config.LoggingConfig{Level: "info", LogToFile: true, MaxSizeMB: 1, MaxBackups: 2, MaxAgeDays: 1}
	if err := m.Configure(cfg, logPath); err != nil {
		t.Fatalf("configure manager: %v", err)
	}

	m.Logger("dash").Debug("filtered by level")
	m.Logger("dash").Info("heartbeat timeout")
	if err := m.Close(); err != nil {
		t.Fatalf("close manager: %v", err)
	}

	raw := readLog(t, logPath)
	if !strings.Contains(raw, "heartbeat timeout") || !strings.Contains(raw, "component=dash") {
		t.Fatalf("log file missing entry, contents: %q", raw)
	}
	if strings.Contains(raw, "filtered by level") {
		t.Fatalf("debug entry must be filtered at info level")
	}
}

func TestManagerConfigure_EarlierLoggersFollowLevel(t *testing.T) {
	origDefault := slog.Default()
	t.Cleanup(func() { slog.SetDefault(origDefault) })

	var console bytes.Buffer
	m := NewManagerWithConsole(&console)
	logger := m.Logger("dash")

	logger.Debug("before reconfigure")
	if err := m.Configure(config.LoggingConfig{Level: "debug"}, ""); err != nil {
		t.Fatalf("configure manager: %v", err)
	}
	logger.Debug("after reconfigure")

	if m.Level() != slog.LevelDebug {
		t.Fatalf("unexpected level %s", m.Level())
	}
	out := console.String()
	if strings.Contains(out, "before reconfigure") {
		t.Fatalf("debug entry logged at default info level: %q", out)
	}
	if !strings.Contains(out, "after reconfigure") {
		t.Fatalf("logger created before Configure missed the new level: %q", out)
	}
}

func TestManagerConfigure_RejectsUnknownLevel(t *testing.T) {
	m := NewManagerWithConsole(nil)
	if err := m.Configure(config.LoggingConfig{Level: "chatty"}, ""); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if m.Level() != slog.LevelInfo {
		t.Fatalf("failed configure must keep the level, got %s", m.Level())
	}
}

func readLog(t *testing.T, path string) string {
	t.Helper()

	// #nosec G304 -- path is created from t.TempDir() in tests.
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	return string(raw)
}

type errorWriter struct {
	err error
}

func (w errorWriter) Write(_ []byte) (int, error) {
	return 0, w.err
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) {
	return len(p) / 2, nil
}
