package util

import (
	"log/slog"
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"OFF", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("REPLYPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("REPLYPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntAndDurationEnv(t *testing.T) {
	t.Setenv("REPLYPIPE_TEST_INT", "42")
	if got := ParseIntEnv("REPLYPIPE_TEST_INT", 1); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("REPLYPIPE_TEST_INT", "forty")
	if got := ParseIntEnv("REPLYPIPE_TEST_INT", 1); got != 1 {
		t.Errorf("expected default 1, got %d", got)
	}
	t.Setenv("REPLYPIPE_TEST_DUR", "90s")
	if got := ParseDurationEnv("REPLYPIPE_TEST_DUR", time.Second); got != 90*time.Second {
		t.Errorf("expected 90s, got %v", got)
	}
	t.Setenv("REPLYPIPE_TEST_DUR", "-5s")
	if got := ParseDurationEnv("REPLYPIPE_TEST_DUR", time.Second); got != time.Second {
		t.Errorf("expected default for negative duration, got %v", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	if ParseLogLevel("DEBUG") != slog.LevelDebug {
		t.Error("expected debug level")
	}
	if ParseLogLevel("bogus") != slog.LevelInfo {
		t.Error("expected info level for unknown value")
	}
}
