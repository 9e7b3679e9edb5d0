package config

import (
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_STRING", "hello")
	if got := GetEnv("TEST_STRING", "fallback"); got != "hello" {
		t.Fatalf("GetEnv = %q, want hello", got)
	}
	if got := GetEnv("TEST_STRING_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv = %q, want fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := GetEnvInt("TEST_INT", 7); got != 42 {
		t.Fatalf("GetEnvInt = %d, want 42", got)
	}
	t.Setenv("TEST_INT_BAD", "not-a-number")
	if got := GetEnvInt("TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("GetEnvInt = %d, want default 7", got)
	}
	if got := GetEnvInt("TEST_INT_MISSING", 7); got != 7 {
		t.Fatalf("GetEnvInt = %d, want default 7", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	if !GetEnvBool("TEST_BOOL", false) {
		t.Fatal("GetEnvBool = false, want true")
	}
	t.Setenv("TEST_BOOL_BAD", "yep")
	if GetEnvBool("TEST_BOOL_BAD", false) {
		t.Fatal("GetEnvBool = true, want default false")
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "90s")
	if got := GetEnvDuration("TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Fatalf("GetEnvDuration = %v, want 90s", got)
	}
	t.Setenv("TEST_DURATION_BAD", "soon")
	if got := GetEnvDuration("TEST_DURATION_BAD", time.Minute); got != time.Minute {
		t.Fatalf("GetEnvDuration = %v, want default 1m", got)
	}
}
