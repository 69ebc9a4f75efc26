package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestSlogAdapter_Levels(t *testing.T) {
	logger, buf := captureLogger()
	adapter := NewSlogAdapter(logger)

	adapter.Debug("loaded", "file", "a.json")
	adapter.Info("saved")
	adapter.Warn("skipped unreadable file")
	adapter.Error("write failed")

	out := buf.String()
	for _, want := range []string{"level=DEBUG", "file=a.json", "level=INFO", "level=WARN", "level=ERROR"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestNewSlogAdapter_NilUsesDefault(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	NewSlogAdapter(nil).Info("via default")
	DefaultLogger().Info("tagged")

	if !strings.Contains(buf.String(), "via default") {
		t.Errorf("nil adapter did not log through slog.Default(): %q", buf.String())
	}
	if !strings.Contains(buf.String(), "component=store") {
		t.Errorf("DefaultLogger() did not tag the component: %q", buf.String())
	}
}
