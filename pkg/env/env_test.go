package env

import "testing"

func TestFirstSkipsBlankValues(t *testing.T) {
	t.Setenv("SUBSYNC_TEST_A", "  ")
	t.Setenv("SUBSYNC_TEST_B", "b")
	if got := First("fallback", "SUBSYNC_TEST_A", "SUBSYNC_TEST_B"); got != "b" {
		t.Fatalf("expected b, got %s", got)
	}
	if got := First("fallback", "SUBSYNC_TEST_UNSET"); got != "fallback" {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestLogFormat(t *testing.T) {
	t.Setenv("SUBSYNC_LOG_FORMAT", "")
	t.Setenv("LOG_FORMAT", "Console")
	if got := LogFormat(); got != "console" {
		t.Fatalf("expected console, got %s", got)
	}
	t.Setenv("SUBSYNC_LOG_FORMAT", "pretty")
	if got := LogFormat(); got != "json" {
		t.Fatalf("unknown formats fall back to json, got %s", got)
	}
}
