package cmd

import (
	"testing"
	"time"
)

func TestDurationFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected time.Duration
	}{
		{name: "unset", value: "", expected: time.Minute},
		{name: "valid", value: "90s", expected: 90 * time.Second},
		{name: "surrounding whitespace", value: " 2m ", expected: 2 * time.Minute},
		{name: "invalid", value: "soon", expected: time.Minute},
		{name: "negative", value: "-5s", expected: time.Minute},
		{name: "zero", value: "0s", expected: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MAILAUTH_TEST_DURATION", tt.value)
			if got := durationFromEnv("MAILAUTH_TEST_DURATION", time.Minute); got != tt.expected {
				t.Errorf("durationFromEnv() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestEnvFallback(t *testing.T) {
	t.Setenv("MAILAUTH_TEST_VALUE", "from-env")

	if got := envFallback("from-flag", "MAILAUTH_TEST_VALUE"); got != "from-flag" {
		t.Errorf("envFallback() = %q, want flag value", got)
	}
	if got := envFallback("", "MAILAUTH_TEST_VALUE"); got != "from-env" {
		t.Errorf("envFallback() = %q, want env value", got)
	}
}

func TestFormatExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		expires  time.Time
		expected string
	}{
		{name: "future", expires: now.Add(59*time.Minute + 30*time.Second), expected: "expires in 59m30s"},
		{name: "past", expires: now.Add(-2 * time.Hour), expected: "expired 2h0m0s ago"},
		{name: "now", expires: now, expected: "expired 0s ago"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatExpiry(tt.expires, now); got != tt.expected {
				t.Errorf("formatExpiry() = %q, want %q", got, tt.expected)
			}
		})
	}
}
