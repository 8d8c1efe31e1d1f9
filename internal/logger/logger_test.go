package logger

import (
	"context"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q)=%v, want %v", in, got, want)
		}
	}
}

func TestInitReturnsLogger(t *testing.T) {
	l := Init("chartd-test", slog.LevelInfo)
	if l == nil {
		t.Fatal("Init returned nil")
	}
	ctx := context.Background()
	if !l.Enabled(ctx, slog.LevelInfo) {
		t.Error("info level should be enabled")
	}
	if l.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug level should be disabled at info")
	}
}
