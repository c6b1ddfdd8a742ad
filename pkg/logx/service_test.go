package logx

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestFormatTelegramLine(t *testing.T) {
	got := formatTelegramLine([]byte(`{"level":"warn","time":"x","message":"shorten failed","stage":"shorten","comp":"pipeline"}`))
	want := "[WARN] shorten failed\n- comp=pipeline\n- stage=shorten"
	if got != want {
		t.Fatalf("formatTelegramLine() = %q, want %q", got, want)
	}
}

func TestFormatTelegramLineNotJSON(t *testing.T) {
	got := formatTelegramLine([]byte("  plain text \n"))
	if got != "plain text" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	s := strings.Repeat("a", 50)
	if got := truncate(s, 20); len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate() = %q", got)
	}
	if got := truncate("short", 20); got != "short" {
		t.Fatalf("truncate() = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" INFO ":  zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNopLoggerIsSafe(t *testing.T) {
	var zero Logger
	if !zero.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	zero.Info("ignored", String("k", "v"))
	Nop().With(String("comp", "x")).Error("ignored", Err(nil))
}
