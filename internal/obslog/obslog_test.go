package obslog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warning")
	t.Setenv("LOG_FORMAT", "yaml")
	t.Setenv("LOG_TO_FILE", "false")
	o := OptionsFromEnv("logs/x.log")
	if o.Level != zapcore.WarnLevel {
		t.Fatalf("level = %v", o.Level)
	}
	if o.Format != "legacy" {
		t.Fatalf("unknown formats fall back to legacy, got %q", o.Format)
	}
	if o.File != "" {
		t.Fatalf("file output should be off, got %q", o.File)
	}
}

func TestInitWritesFileWithService(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "w.log")
	logger, err := Init(Options{Level: zapcore.InfoLevel, File: path, Format: "json"}, "analysis-worker")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	logger.Info("job_claimed", zap.String("job_id", "j1"))
	_ = logger.Sync()
	if L() != logger {
		t.Fatalf("global logger not installed")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	line := string(b)
	for _, want := range []string{`"msg":"job_claimed"`, `"job_id":"j1"`, `"service":"analysis-worker"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %s in %s", want, line)
		}
	}
}

func TestLegacySeparator(t *testing.T) {
	var buf bytes.Buffer
	NewForWriter(&buf, "legacy", zapcore.DebugLevel).Info("hello")
	if !strings.Contains(buf.String(), " | INFO | hello") {
		t.Fatalf("unexpected legacy line: %q", buf.String())
	}
}
