package config

import (
	"testing"
	"time"
)

func TestValidatorAccumulates(t *testing.T) {
	v := NewValidator()
	v.RequireNonEmpty("host", "").
		RequirePositive("port", 0).
		ValidateRange("window", 50, 1, 10).
		ValidateFloatRange("threshold", 0.5, 0, 1)
	if v.Err() == nil {
		t.Fatal("expected accumulated errors")
	}
	if got := len(v.Errors()); got != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", got, v.Errors())
	}
}

func TestValidatorPasses(t *testing.T) {
	v := NewValidator()
	v.RequireNonEmpty("host", "localhost").RequirePositive("port", 5432)
	if err := v.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CONSULT_TEST_STR", "value")
	t.Setenv("CONSULT_TEST_INT", "42")
	t.Setenv("CONSULT_TEST_BOOL", "true")
	t.Setenv("CONSULT_TEST_DUR", "5s")

	if got := GetEnv("CONSULT_TEST_STR", "d"); got != "value" {
		t.Errorf("GetEnv = %q", got)
	}
	if got := GetEnvInt("CONSULT_TEST_INT", 0); got != 42 {
		t.Errorf("GetEnvInt = %d", got)
	}
	if got := GetEnvBool("CONSULT_TEST_BOOL", false); !got {
		t.Error("GetEnvBool = false")
	}
	if got := GetEnvDuration("CONSULT_TEST_DUR", 0); got != 5*time.Second {
		t.Errorf("GetEnvDuration = %v", got)
	}
	if got := GetEnvInt("CONSULT_TEST_MISSING", 7); got != 7 {
		t.Errorf("default not used: %d", got)
	}
}
