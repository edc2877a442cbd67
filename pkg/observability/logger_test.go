package observability

import (
	"log/slog"
	"testing"
)

func TestLevelFromEnv(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for value, want := range cases {
		t.Setenv("LOG_LEVEL", value)
		if got := levelFromEnv(); got != want {
			t.Errorf("LOG_LEVEL=%q: got %v, want %v", value, got, want)
		}
	}
}

func TestDefaultLoggerInstalled(t *testing.T) {
	if Logger() == nil {
		t.Fatal("package init must install the default logger")
	}
	if slog.Default() != Logger() {
		t.Fatal("slog default must be the JSON logger")
	}
	if LoggerWithRequest("req-1") == nil {
		t.Fatal("request-scoped logger must not be nil")
	}
}
