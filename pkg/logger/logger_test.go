package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSinkReceivesEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")
	t.Setenv("STATEHOUSE_LOG_SINK", "file:"+path)

	Init("debug")
	Info("sink_check", "k", "v")
	Debug("debug_line")
	Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sink: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, "sink_check") || !strings.Contains(out, "k=v") {
		t.Fatalf("log output missing entries: %q", out)
	}
	if !strings.Contains(out, "debug_line") {
		t.Fatalf("debug level suppressed at debug setting: %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")
	t.Setenv("STATEHOUSE_LOG_SINK", "file:"+path)

	Init("warn")
	Info("should_not_appear")
	Warn("should_appear")
	Sync()

	b, _ := os.ReadFile(path)
	out := string(b)
	if strings.Contains(out, "should_not_appear") {
		t.Fatalf("info leaked through warn level: %q", out)
	}
	if !strings.Contains(out, "should_appear") {
		t.Fatalf("warn entry missing: %q", out)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	saved := Log
	Log = nil
	defer func() { Log = saved }()
	// helpers must not panic before Init
	Debug("x")
	Info("x")
	Warn("x")
	Error("x")
}
